package models

import (
	"strings"
	"testing"
)

func TestVoucherStatusIsValid(t *testing.T) {
	valid := []VoucherStatus{
		VoucherStatusIssued,
		VoucherStatusDelivered,
		VoucherStatusRedeemed,
		VoucherStatusCancelled,
		VoucherStatusExpired,
		VoucherStatusFailed,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("IsValid(%s) = false", s)
		}
	}
	for _, s := range []VoucherStatus{"", "unknown", "Redeemed"} {
		if s.IsValid() {
			t.Errorf("IsValid(%q) = true", s)
		}
	}
}

func TestVoucherStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status VoucherStatus
		want   bool
	}{
		{VoucherStatusIssued, false},
		{VoucherStatusDelivered, false},
		{VoucherStatusFailed, false},
		{VoucherStatusRedeemed, true},
		{VoucherStatusCancelled, true},
		{VoucherStatusExpired, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNewVoucherCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewVoucherCode()
		if !strings.HasPrefix(code, "SPV-") {
			t.Fatalf("code %q has no SPV- prefix", code)
		}
		if len(code) != len("SPV-")+12 {
			t.Fatalf("code %q length = %d", code, len(code))
		}
		suffix := strings.TrimPrefix(code, "SPV-")
		if suffix != strings.ToUpper(suffix) {
			t.Fatalf("code %q suffix not uppercase", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q in 100 draws", code)
		}
		seen[code] = true
	}
}
