package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrUserNotFound           = errors.New("user_not_found")
	ErrEmailAlreadyRegistered = errors.New("email_already_registered")
	ErrPasswordMismatch       = errors.New("password_mismatch")
	ErrHoldingNotFound        = errors.New("holding_not_found")
	ErrInsufficientShares     = errors.New("insufficient_shares")
	ErrInvalidTradeType       = errors.New("invalid_trade_type")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
