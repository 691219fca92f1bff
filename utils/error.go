package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies a domain error so the HTTP layer can map it to a status
// code without string matching.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotFound
	KindStateConflict
	KindSignatureInvalid
	KindExternalService
	KindPersistence
)

type DomainError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...any) error {
	return &DomainError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) error {
	return &DomainError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func NewStateConflictError(format string, args ...any) error {
	return &DomainError{Kind: KindStateConflict, Msg: fmt.Sprintf(format, args...)}
}

func NewSignatureError(msg string) error {
	return &DomainError{Kind: KindSignatureInvalid, Msg: msg}
}

func NewExternalServiceError(msg string, err error) error {
	return &DomainError{Kind: KindExternalService, Msg: msg, Err: err}
}

func NewPersistenceError(msg string, err error) error {
	return &DomainError{Kind: KindPersistence, Msg: msg, Err: err}
}

func IsKind(err error, kind ErrorKind) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// HTTPStatus maps an error to the status code the REST surface returns for it.
// Unknown errors are treated as internal.
func HTTPStatus(err error) int {
	var de *DomainError
	if !errors.As(err, &de) {
		if errors.Is(err, ErrorRecordNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
