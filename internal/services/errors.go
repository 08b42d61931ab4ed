package services

import "errors"

// Error taxonomy. Concrete errors wrap one of these with fmt.Errorf("%w: ...")
// and handlers map them to status codes with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPersistence        = errors.New("persistence error")
)
