package booking

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNoRecipientWallet = errors.New("recipient has no wallet")
	ErrSelfBooking       = errors.New("cannot book yourself")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNotAuthenticated  = errors.New("wallet not authenticated")

	// ErrBusy is returned when pay is invoked while a transaction for the
	// current attempt is already outstanding.
	ErrBusy = errors.New("payment already in progress")

	ErrBadTransition   = errors.New("operation not valid in current state")
	ErrDateUnavailable = errors.New("date not available for this slot")
	ErrTimeUnavailable = errors.New("time not available for this slot")
)

// ValidationError marks a precondition failure detected before any network
// call. No transaction is ever attempted.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string { return e.Reason.Error() }

func (e *ValidationError) Unwrap() error { return e.Reason }

// InsufficientBalanceError blocks pay; the message states required and
// available amounts.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Available)
}

// TxError wraps a failure from the approval or deposit step.
type TxError struct {
	Step string // "approval" or "deposit"
	Err  error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }
