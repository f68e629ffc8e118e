package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell "retry later" from "request is invalid".
type ErrorKind string

const (
	KindInvalidRequest            ErrorKind = "invalid_request"
	KindInsufficientFunds         ErrorKind = "insufficient_funds"
	KindInsufficientPlatformFunds ErrorKind = "insufficient_platform_funds"
	KindGatewayUnavailable        ErrorKind = "gateway_unavailable"
	KindGatewayRejected           ErrorKind = "gateway_rejected"
	KindPayoutStatusUnknown       ErrorKind = "payout_status_unknown"
	KindStorageUnavailable        ErrorKind = "storage_unavailable"
	KindDuplicatePayment          ErrorKind = "duplicate_payment"
	KindNotFound                  ErrorKind = "not_found"
	KindConflict                  ErrorKind = "conflict"
	KindInternal                  ErrorKind = "internal"
)

// Error is the typed error returned by every service in this module.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidRequest            = &Error{Kind: KindInvalidRequest}
	ErrInsufficientFunds         = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientPlatformFunds = &Error{Kind: KindInsufficientPlatformFunds}
	ErrGatewayUnavailable        = &Error{Kind: KindGatewayUnavailable}
	ErrGatewayRejected           = &Error{Kind: KindGatewayRejected}
	ErrPayoutStatusUnknown       = &Error{Kind: KindPayoutStatusUnknown}
	ErrStorageUnavailable        = &Error{Kind: KindStorageUnavailable}
	ErrDuplicatePayment          = &Error{Kind: KindDuplicatePayment}
	ErrNotFound                  = &Error{Kind: KindNotFound}
	ErrConflict                  = &Error{Kind: KindConflict}
)

// NewError builds an Error with optional details.
func NewError(kind ErrorKind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
