package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/config"
	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pure transition guards. UpdateStatus deliberately has none: the partner is
// authoritative for webhook-driven transitions.

func CanExtend(status models.VoucherStatus) bool {
	return status == models.VoucherStatusIssued || status == models.VoucherStatusDelivered
}

func CanCancel(status models.VoucherStatus) bool {
	return status == models.VoucherStatusIssued || status == models.VoucherStatusDelivered
}

func CanReissue(status models.VoucherStatus) bool {
	return status != models.VoucherStatusRedeemed
}

func CanDelete(status models.VoucherStatus) bool {
	return status != models.VoucherStatusRedeemed
}

type IssueVoucherInput struct {
	BeneficiaryId string
	Amount        decimal.Decimal
	GrantType     string
	Region        string
	ExpiryDate    time.Time
	ScheduledAt   *time.Time
}

func (input *IssueVoucherInput) validate() error {
	if input.BeneficiaryId == "" {
		return utils.NewValidationError("beneficiary id is required")
	}
	if !input.Amount.IsPositive() {
		return utils.NewValidationError("amount must be greater than zero")
	}
	issuedAt := time.Now().UTC()
	if input.ScheduledAt != nil {
		issuedAt = *input.ScheduledAt
	}
	if input.ExpiryDate.IsZero() || !input.ExpiryDate.After(issuedAt) {
		return utils.NewValidationError("expiry date must be after the issue date")
	}
	return nil
}

// qrPayload is the opaque string rendered as a QR at disbursement time.
func qrPayload(voucherId string, voucherCode string, amount decimal.Decimal) string {
	raw, _ := utils.MarshalToJSON(map[string]string{
		"voucher_id":   voucherId,
		"voucher_code": voucherCode,
		"amount":       amount.StringFixed(2),
	})
	return raw
}

// IssueVoucher creates a voucher in `issued` and appends the birth audit
// event in the same transaction. The beneficiary must exist and not be
// deceased.
func IssueVoucher(ctx context.Context, input *IssueVoucherInput) (*models.Voucher, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	beneficiary, err := models.GetBeneficiary(ctx, input.BeneficiaryId)
	if err != nil {
		return nil, utils.NewNotFoundError("beneficiary %s not found", input.BeneficiaryId)
	}
	if beneficiary.IsDeceased() {
		return nil, utils.NewStateConflictError("beneficiary %s is deceased", input.BeneficiaryId)
	}

	code, err := models.GenerateUniqueVoucherCode(ctx)
	if err != nil {
		return nil, utils.NewPersistenceError("generate voucher code", err)
	}

	issuedAt := time.Now().UTC()
	if input.ScheduledAt != nil {
		issuedAt = input.ScheduledAt.UTC()
	}

	voucher := models.Voucher{
		ID:              uuid.NewString(),
		BeneficiaryId:   beneficiary.ID,
		BeneficiaryName: beneficiary.Name,
		PartnerUserId:   beneficiary.PartnerUserId,
		Amount:          input.Amount,
		GrantType:       input.GrantType,
		Status:          models.VoucherStatusIssued,
		Region:          input.Region,
		IssuedAt:        issuedAt,
		ExpiryDate:      input.ExpiryDate.UTC(),
	}
	voucher.VoucherCode = code
	voucher.QrCode = qrPayload(voucher.ID, code, input.Amount)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&voucher).Error; err != nil {
			return utils.NewPersistenceError("create voucher", err)
		}
		return appendStatusEvent(tx, models.EntityTypeVoucher, voucher.ID, nil,
			string(models.VoucherStatusIssued), models.TriggeredBySystem, nil)
	})
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

type BatchIssueResult struct {
	Total      int
	Successful int
	Failed     int
	Vouchers   []*models.Voucher
	Errors     []string
}

// IssueBatch validates every item up front; any invalid item rejects the
// whole batch. Per-item issuance failures after validation are skipped and
// counted, not fatal.
func IssueBatch(ctx context.Context, inputs []*IssueVoucherInput) (*BatchIssueResult, error) {
	if len(inputs) == 0 {
		return nil, utils.NewValidationError("batch is empty")
	}
	for i, input := range inputs {
		if err := input.validate(); err != nil {
			return nil, utils.NewValidationError("Voucher %d: %v", i+1, err)
		}
	}

	result := &BatchIssueResult{Total: len(inputs)}
	for i, input := range inputs {
		voucher, err := IssueVoucher(ctx, input)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Voucher %d: %v", i+1, err))
			continue
		}
		result.Successful++
		result.Vouchers = append(result.Vouchers, voucher)
	}
	return result, nil
}

// ExtendExpiry moves the expiry date of an issued or delivered voucher.
func ExtendExpiry(ctx context.Context, voucherId string, newExpiry time.Time) (*models.Voucher, error) {
	if newExpiry.IsZero() {
		return nil, utils.NewValidationError("new expiry date is required")
	}
	return transitionVoucher(ctx, voucherId,
		func(v *models.Voucher) error {
			if !CanExtend(v.Status) {
				return utils.NewStateConflictError("cannot extend voucher in status %s", v.Status)
			}
			if !newExpiry.After(v.IssuedAt) {
				return utils.NewValidationError("new expiry date must be after the issue date")
			}
			return nil
		},
		func(v *models.Voucher) map[string]interface{} {
			return map[string]interface{}{"expiry_date": newExpiry.UTC()}
		},
		models.TriggeredByManual,
		map[string]interface{}{"action": "extend_expiry", "new_expiry": newExpiry.UTC().Format(time.RFC3339)},
	)
}

// Cancel voids an issued or delivered voucher.
func Cancel(ctx context.Context, voucherId string) (*models.Voucher, error) {
	return transitionVoucher(ctx, voucherId,
		func(v *models.Voucher) error {
			if !CanCancel(v.Status) {
				return utils.NewStateConflictError("cannot cancel voucher in status %s", v.Status)
			}
			return nil
		},
		func(v *models.Voucher) map[string]interface{} {
			return map[string]interface{}{"status": models.VoucherStatusCancelled}
		},
		models.TriggeredByManual,
		map[string]interface{}{"action": "cancel"},
	)
}

// Reissue creates a replacement voucher copying beneficiary, amount and grant
// type. With cancelOld the original is cancelled unless it already sits in a
// terminal non-redeemed state; without it the original stays active and only
// the audit trail links the two. Redeemed vouchers cannot be reissued.
func Reissue(ctx context.Context, voucherId string, expiryDate time.Time, cancelOld bool) (*models.Voucher, error) {
	old, err := models.GetVoucher(ctx, voucherId)
	if err != nil {
		return nil, utils.NewNotFoundError("voucher %s not found", voucherId)
	}
	if !CanReissue(old.Status) {
		return nil, utils.NewStateConflictError("redeemed voucher %s cannot be reissued", voucherId)
	}
	if expiryDate.IsZero() {
		expiryDate = time.Now().UTC().AddDate(0, 0, 30)
	}

	replacement, err := IssueVoucher(ctx, &IssueVoucherInput{
		BeneficiaryId: old.BeneficiaryId,
		Amount:        old.Amount,
		GrantType:     old.GrantType,
		Region:        old.Region,
		ExpiryDate:    expiryDate,
	})
	if err != nil {
		return nil, err
	}

	if cancelOld && CanCancel(old.Status) {
		_, err = transitionVoucher(ctx, old.ID,
			func(v *models.Voucher) error {
				if !CanCancel(v.Status) {
					return utils.NewStateConflictError("cannot cancel voucher in status %s", v.Status)
				}
				return nil
			},
			func(v *models.Voucher) map[string]interface{} {
				return map[string]interface{}{"status": models.VoucherStatusCancelled}
			},
			models.TriggeredBySystem,
			map[string]interface{}{"action": "reissue", "reissued_as": replacement.ID},
		)
		if err != nil {
			return nil, err
		}
	} else {
		// Original kept, or already expired/cancelled; link the two in the
		// audit trail only.
		if err := TrackBeneficiaryEvent(ctx, old.BeneficiaryId, nil, "voucher_reissued", models.TriggeredBySystem,
			map[string]interface{}{"old_voucher_id": old.ID, "reissued_as": replacement.ID}); err != nil {
			return nil, err
		}
	}
	return replacement, nil
}

// Delete physically removes a voucher and its dependent rows. Redeemed
// vouchers are immutable history and cannot be deleted.
func Delete(ctx context.Context, voucherId string) error {
	voucher, err := models.GetVoucher(ctx, voucherId)
	if err != nil {
		return utils.NewNotFoundError("voucher %s not found", voucherId)
	}
	if !CanDelete(voucher.Status) {
		return utils.NewStateConflictError("redeemed voucher %s cannot be deleted", voucherId)
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.DeleteVoucherCascade(ctx, tx, voucher); err != nil {
			return utils.NewPersistenceError("delete voucher", err)
		}
		return nil
	})
}

// UpdateStatus applies an externally reported status. There is no transition
// guard: the disbursement partner owns redemption truth, and the Ledger Store
// follows it. A move to redeemed stamps RedeemedAt.
func UpdateStatus(ctx context.Context, voucherId string, newStatus models.VoucherStatus, redemptionMethod *string, triggeredBy models.TriggeredBy, metadata map[string]interface{}) (*models.Voucher, error) {
	if !newStatus.IsValid() {
		return nil, utils.NewValidationError("invalid voucher status %q", newStatus)
	}
	return transitionVoucher(ctx, voucherId,
		nil,
		func(v *models.Voucher) map[string]interface{} {
			updates := map[string]interface{}{"status": newStatus}
			if newStatus == models.VoucherStatusRedeemed {
				updates["redeemed_at"] = time.Now().UTC()
				if redemptionMethod != nil {
					updates["redemption_method"] = *redemptionMethod
				}
			}
			return updates
		},
		triggeredBy,
		metadata,
	)
}
