package registry

import "errors"

// Sentinel errors shared by the registry, the exchange and the stores behind them.
// Stores return these (optionally wrapped) and callers match with errors.Is.
var (
	ErrUnauthorized          = errors.New("caller lacks the required privilege")
	ErrDuplicateOrganization = errors.New("organization already exists")
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInsufficientPayment   = errors.New("insufficient payment")
	ErrInsufficientSupply    = errors.New("insufficient supply")

	ErrInvalidName          = errors.New("invalid name")
	ErrInvalidPayment       = errors.New("payment must match the required amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrBalanceOverflow      = errors.New("balance would overflow")
	ErrNotEligible          = errors.New("not eligible for trading")
	ErrValidatorUnavailable = errors.New("validator unavailable")
)
