package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("bad input"), http.StatusBadRequest},
		{"not found", NewNotFoundError("voucher %s not found", "v-1"), http.StatusNotFound},
		{"state conflict", NewStateConflictError("already redeemed"), http.StatusConflict},
		{"signature", NewSignatureError("invalid signature"), http.StatusUnauthorized},
		{"external", NewExternalServiceError("partner down", errors.New("timeout")), http.StatusBadGateway},
		{"persistence", NewPersistenceError("insert failed", errors.New("duplicate")), http.StatusInternalServerError},
		{"record not found sentinel", ErrorRecordNotFound, http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped domain error", fmt.Errorf("outer: %w", NewStateConflictError("busy")), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := NewStateConflictError("busy")
	if !IsKind(err, KindStateConflict) {
		t.Error("IsKind missed matching kind")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind matched wrong kind")
	}
	if IsKind(errors.New("plain"), KindValidation) {
		t.Error("IsKind matched plain error")
	}
	if !IsKind(fmt.Errorf("outer: %w", err), KindStateConflict) {
		t.Error("IsKind missed wrapped domain error")
	}
}

func TestDomainErrorMessage(t *testing.T) {
	bare := NewValidationError("amount must be positive")
	if bare.Error() != "amount must be positive" {
		t.Errorf("Error() = %q", bare.Error())
	}
	wrapped := NewPersistenceError("insert voucher", errors.New("duplicate entry"))
	if wrapped.Error() != "insert voucher: duplicate entry" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, errors.Unwrap(wrapped)) {
		t.Error("Unwrap chain broken")
	}
}
