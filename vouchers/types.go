package vouchers

import (
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
)

type IssueRequest struct {
	BeneficiaryId string  `json:"beneficiary_id" binding:"required"`
	Amount        string  `json:"amount" binding:"required"`
	GrantType     string  `json:"grant_type" binding:"required"`
	Region        string  `json:"region"`
	ExpiryDate    string  `json:"expiry_date" binding:"required"`
	ScheduledAt   *string `json:"scheduled_at"`
}

type BatchIssueRequest struct {
	Vouchers []IssueRequest `json:"vouchers" binding:"required,min=1,dive"`
}

type ExtendRequest struct {
	ExpiryDate string `json:"expiry_date" binding:"required"`
}

type ReissueRequest struct {
	ExpiryDate string `json:"expiry_date"`
	CancelOld  *bool  `json:"cancel_old"`
}

// shouldCancelOld defaults to cancelling the original voucher.
func (r *ReissueRequest) shouldCancelOld() bool {
	return r.CancelOld == nil || *r.CancelOld
}

type UpdateStatusRequest struct {
	Status           string `json:"status" binding:"required"`
	RedemptionMethod string `json:"redemption_method"`
	Reason           string `json:"reason"`
}

// VoucherResponse is the API projection of a voucher. Version stays internal.
type VoucherResponse struct {
	ID               string  `json:"id"`
	BeneficiaryId    string  `json:"beneficiary_id"`
	BeneficiaryName  string  `json:"beneficiary_name"`
	Amount           string  `json:"amount"`
	GrantType        string  `json:"grant_type"`
	Status           string  `json:"status"`
	Region           string  `json:"region"`
	IssuedAt         string  `json:"issued_at"`
	ExpiryDate       string  `json:"expiry_date"`
	RedeemedAt       *string `json:"redeemed_at"`
	RedemptionMethod *string `json:"redemption_method"`
	VoucherCode      string  `json:"voucher_code"`
	QrCode           string  `json:"qr_code"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type StatusEventResponse struct {
	FromStatus  *string                `json:"from_status"`
	ToStatus    string                 `json:"to_status"`
	TriggeredBy string                 `json:"triggered_by"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   string                 `json:"created_at"`
}

func toVoucherResponse(v *models.Voucher) VoucherResponse {
	return VoucherResponse{
		ID:               v.ID,
		BeneficiaryId:    v.BeneficiaryId,
		BeneficiaryName:  v.BeneficiaryName,
		Amount:           v.Amount.StringFixed(2),
		GrantType:        v.GrantType,
		Status:           string(v.Status),
		Region:           v.Region,
		IssuedAt:         v.IssuedAt.UTC().Format(time.RFC3339),
		ExpiryDate:       v.ExpiryDate.UTC().Format(time.RFC3339),
		RedeemedAt:       utils.FormatTimePtr(v.RedeemedAt),
		RedemptionMethod: v.RedemptionMethod,
		VoucherCode:      v.VoucherCode,
		QrCode:           v.QrCode,
		CreatedAt:        v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        v.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
