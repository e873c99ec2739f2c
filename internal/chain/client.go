package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// TokenClient abstracts the payment token contract. The spender (the escrow
// contract) is fixed at construction.
type TokenClient interface {
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)
	Allowance(ctx context.Context, owner string) (*big.Int, error)
	// Approve submits an allowance-granting transaction for the configured
	// spender and returns immediately; the attempt reports progress.
	Approve(ctx context.Context, amount *big.Int) (*TxAttempt, error)
}

// EscrowClient abstracts the escrow contract.
type EscrowClient interface {
	// CreateEscrow submits the deposit transaction naming the recipient.
	// A confirmed attempt carries both the assigned escrow id and the
	// transaction hash.
	CreateEscrow(ctx context.Context, recipient string, amount *big.Int) (*TxAttempt, error)
}

// HealthChecker is optionally implemented by clients that can probe their
// RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var (
	// ErrUserRejected marks a call the signer declined. Retrying is safe.
	ErrUserRejected = errors.New("signature request rejected")

	// ErrConfirmationAmbiguous marks a broadcast transaction whose
	// confirmation was never observed. The transaction may still land.
	ErrConfirmationAmbiguous = errors.New("confirmation not observed; transaction may still land")
)

// SimulationError reports that a call would revert, detected before any
// signature was requested.
type SimulationError struct {
	Call   string
	Reason error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of %s reverted: %v", e.Call, e.Reason)
}

func (e *SimulationError) Unwrap() error { return e.Reason }

// classifySubmitErr maps signer/RPC submission failures into the taxonomy.
func classifySubmitErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "rejected") {
		return fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	return err
}
