package booking

import (
	"context"
	"fmt"
	"math/big"

	"bookrails/internal/chain"
)

// AllowanceState is a point-in-time read of the depositor's funds versus the
// current requirement. It is recomputed immediately before every pay
// decision and never cached across a booking attempt.
type AllowanceState struct {
	Balance          *big.Int
	Allowance        *big.Int
	NeedsApproval    bool
	HasEnoughBalance bool
}

// AllowanceChecker reads balance and allowance for an owner. Pure read, no
// side effects.
type AllowanceChecker struct {
	token chain.TokenClient
}

func NewAllowanceChecker(token chain.TokenClient) *AllowanceChecker {
	return &AllowanceChecker{token: token}
}

func (c *AllowanceChecker) Check(ctx context.Context, owner string, required *big.Int) (AllowanceState, error) {
	balance, err := c.token.BalanceOf(ctx, owner)
	if err != nil {
		return AllowanceState{}, fmt.Errorf("read balance: %w", err)
	}
	allowance, err := c.token.Allowance(ctx, owner)
	if err != nil {
		return AllowanceState{}, fmt.Errorf("read allowance: %w", err)
	}

	return AllowanceState{
		Balance:          balance,
		Allowance:        allowance,
		NeedsApproval:    allowance.Cmp(required) < 0,
		HasEnoughBalance: balance.Cmp(required) >= 0,
	}, nil
}
