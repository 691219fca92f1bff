package workflow

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/vouchers_backend/models"
	"github.com/shopspring/decimal"
)

func TestTransitionGuards(t *testing.T) {
	tests := []struct {
		status     models.VoucherStatus
		canExtend  bool
		canCancel  bool
		canReissue bool
		canDelete  bool
	}{
		{models.VoucherStatusIssued, true, true, true, true},
		{models.VoucherStatusDelivered, true, true, true, true},
		{models.VoucherStatusRedeemed, false, false, false, false},
		{models.VoucherStatusCancelled, false, false, true, true},
		{models.VoucherStatusExpired, false, false, true, true},
		{models.VoucherStatusFailed, false, false, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := CanExtend(tt.status); got != tt.canExtend {
				t.Errorf("CanExtend(%s) = %v, want %v", tt.status, got, tt.canExtend)
			}
			if got := CanCancel(tt.status); got != tt.canCancel {
				t.Errorf("CanCancel(%s) = %v, want %v", tt.status, got, tt.canCancel)
			}
			if got := CanReissue(tt.status); got != tt.canReissue {
				t.Errorf("CanReissue(%s) = %v, want %v", tt.status, got, tt.canReissue)
			}
			if got := CanDelete(tt.status); got != tt.canDelete {
				t.Errorf("CanDelete(%s) = %v, want %v", tt.status, got, tt.canDelete)
			}
		})
	}
}

func TestIssueVoucherInputValidate(t *testing.T) {
	future := time.Now().UTC().AddDate(0, 1, 0)
	past := time.Now().UTC().AddDate(0, -1, 0)

	tests := []struct {
		name    string
		input   IssueVoucherInput
		wantErr bool
	}{
		{
			name: "valid",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.NewFromInt(350),
				GrantType:     "old_age",
				ExpiryDate:    future,
			},
		},
		{
			name: "missing beneficiary",
			input: IssueVoucherInput{
				Amount:     decimal.NewFromInt(350),
				ExpiryDate: future,
			},
			wantErr: true,
		},
		{
			name: "zero amount",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.Zero,
				ExpiryDate:    future,
			},
			wantErr: true,
		},
		{
			name: "negative amount",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.NewFromInt(-10),
				ExpiryDate:    future,
			},
			wantErr: true,
		},
		{
			name: "expiry before issue date",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.NewFromInt(350),
				ExpiryDate:    past,
			},
			wantErr: true,
		},
		{
			name: "zero expiry",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.NewFromInt(350),
			},
			wantErr: true,
		},
		{
			name: "scheduled issue after expiry",
			input: IssueVoucherInput{
				BeneficiaryId: "ben-1",
				Amount:        decimal.NewFromInt(350),
				ExpiryDate:    future,
				ScheduledAt:   timePtr(future.AddDate(0, 1, 0)),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQrPayloadIncludesCodeAndAmount(t *testing.T) {
	payload := qrPayload("v-1", "SPV-ABC123", decimal.NewFromFloat(350.5))
	for _, want := range []string{"v-1", "SPV-ABC123", "350.50"} {
		if !strings.Contains(payload, want) {
			t.Errorf("qr payload %q missing %q", payload, want)
		}
	}
}

func timePtr(t time.Time) *time.Time { return &t }
