package vouchers

import (
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"bitbucket.org/mmdatafocus/vouchers_backend/utils"
	"github.com/shopspring/decimal"
)

func TestIssueInputFromRequest(t *testing.T) {
	scheduled := "2026-09-01T08:00:00Z"
	tests := []struct {
		name    string
		req     IssueRequest
		wantErr bool
	}{
		{
			name: "valid",
			req: IssueRequest{
				BeneficiaryId: "ben-1",
				Amount:        "350.00",
				GrantType:     "old_age",
				Region:        "Khomas",
				ExpiryDate:    "2026-12-31",
			},
		},
		{
			name: "valid with scheduled issue",
			req: IssueRequest{
				BeneficiaryId: "ben-1",
				Amount:        "350.00",
				GrantType:     "old_age",
				ExpiryDate:    "2026-12-31",
				ScheduledAt:   &scheduled,
			},
		},
		{
			name: "bad amount",
			req: IssueRequest{
				BeneficiaryId: "ben-1",
				Amount:        "three-fifty",
				ExpiryDate:    "2026-12-31",
			},
			wantErr: true,
		},
		{
			name: "bad expiry",
			req: IssueRequest{
				BeneficiaryId: "ben-1",
				Amount:        "350.00",
				ExpiryDate:    "31/12/2026",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := issueInputFromRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("issueInputFromRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !utils.IsKind(err, utils.KindValidation) {
					t.Errorf("error kind = %v, want validation", err)
				}
				return
			}
			if input.BeneficiaryId != tt.req.BeneficiaryId {
				t.Errorf("BeneficiaryId = %s", input.BeneficiaryId)
			}
			if tt.req.ScheduledAt != nil && input.ScheduledAt == nil {
				t.Error("ScheduledAt dropped")
			}
		})
	}
}

func TestToVoucherResponse(t *testing.T) {
	redeemedAt := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	method := "qr"
	v := &models.Voucher{
		ID:               "v-1",
		BeneficiaryId:    "ben-1",
		BeneficiaryName:  "Jane Shikongo",
		Amount:           decimal.NewFromFloat(350.5),
		GrantType:        "old_age",
		Status:           models.VoucherStatusRedeemed,
		Region:           "Khomas",
		IssuedAt:         time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		ExpiryDate:       time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		RedeemedAt:       &redeemedAt,
		RedemptionMethod: &method,
		VoucherCode:      "SPV-AAAA0000BBBB",
		Version:          4,
	}

	resp := toVoucherResponse(v)
	if resp.Amount != "350.50" {
		t.Errorf("Amount = %s, want fixed two decimals", resp.Amount)
	}
	if resp.Status != "redeemed" {
		t.Errorf("Status = %s", resp.Status)
	}
	if resp.RedeemedAt == nil || *resp.RedeemedAt != "2026-08-27T12:00:00Z" {
		t.Errorf("RedeemedAt = %v", resp.RedeemedAt)
	}
	if resp.IssuedAt != "2026-08-01T09:00:00Z" {
		t.Errorf("IssuedAt = %s", resp.IssuedAt)
	}
}

func TestReissueRequestCancelOldDefaultsTrue(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"absent", `{}`, true},
		{"explicit true", `{"cancel_old":true}`, true},
		{"explicit false", `{"cancel_old":false}`, false},
		{"false with expiry", `{"expiry_date":"2026-12-31","cancel_old":false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ReissueRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := req.shouldCancelOld(); got != tt.want {
				t.Errorf("shouldCancelOld() = %v, want %v", got, tt.want)
			}
		})
	}
}
