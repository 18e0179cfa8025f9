package protocol

import "errors"

// Rejection reasons shared by both proxies. Callers distinguish them with
// errors.Is to decide whether to retry, wait or give up.
var (
	ErrWrongStatus         = errors.New("operation not allowed in current status")
	ErrUnauthorized        = errors.New("caller not authorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrDeadlinePassed      = errors.New("deadline passed")
	ErrDeadlineNotPassed   = errors.New("deadline not passed yet")
	ErrNotConfigured       = errors.New("counter-party not configured")
	ErrAlreadyConfigured   = errors.New("counter-party already configured")
	ErrNotFound            = errors.New("not found")
	ErrInvalidRuling       = errors.New("invalid ruling")
)
