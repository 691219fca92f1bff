package models

import (
	"testing"
	"time"
)

func TestBeneficiaryIsDeceased(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name string
		b    Beneficiary
		want bool
	}{
		{"active", Beneficiary{Status: BeneficiaryStatusActive}, false},
		{"inactive", Beneficiary{Status: BeneficiaryStatusInactive}, false},
		{"deceased status", Beneficiary{Status: BeneficiaryStatusDeceased}, true},
		{"deceased timestamp only", Beneficiary{Status: BeneficiaryStatusActive, DeceasedAt: &now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.IsDeceased(); got != tt.want {
				t.Errorf("IsDeceased() = %v, want %v", got, tt.want)
			}
		})
	}
}
