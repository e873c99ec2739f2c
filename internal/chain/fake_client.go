package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// FakeTokenClient emulates the payment token for tests and keyless local
// runs. With AutoConfirm set, approvals confirm immediately with a
// deterministic hash; otherwise the test drives the pending attempt.
type FakeTokenClient struct {
	mu          sync.Mutex
	AutoConfirm bool

	balance   *big.Int
	allowance *big.Int

	ApproveCalls int
	LastApproval *TxAttempt
	lastAmount   *big.Int
}

func NewFakeTokenClient(balance, allowance *big.Int) *FakeTokenClient {
	return &FakeTokenClient{balance: balance, allowance: allowance}
}

func (f *FakeTokenClient) SetBalance(v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = v
}

func (f *FakeTokenClient) BalanceOf(_ context.Context, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *FakeTokenClient) Allowance(_ context.Context, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *FakeTokenClient) Approve(_ context.Context, amount *big.Int) (*TxAttempt, error) {
	f.mu.Lock()
	f.ApproveCalls++
	attempt := NewTxAttempt()
	attempt.SetStatus(StatusAwaitingSignature)
	f.LastApproval = attempt
	f.lastAmount = new(big.Int).Set(amount)
	auto := f.AutoConfirm
	f.mu.Unlock()

	if auto {
		f.ConfirmApproval()
	}
	return attempt, nil
}

// ConfirmApproval finalizes the pending approval and raises the recorded
// allowance, as a confirmed approve call would.
func (f *FakeTokenClient) ConfirmApproval() {
	f.mu.Lock()
	attempt := f.LastApproval
	if f.lastAmount != nil {
		f.allowance = new(big.Int).Set(f.lastAmount)
	}
	f.mu.Unlock()

	if attempt != nil {
		attempt.SetStatus(StatusConfirming)
		attempt.Confirm(TxResult{TxHash: fakeHash("approve", f.ApproveCalls)})
	}
}

// FailApproval finalizes the pending approval with err.
func (f *FakeTokenClient) FailApproval(err error) {
	f.mu.Lock()
	attempt := f.LastApproval
	f.mu.Unlock()
	if attempt != nil {
		attempt.Fail(err)
	}
}

// FakeEscrowClient emulates the escrow contract.
type FakeEscrowClient struct {
	mu          sync.Mutex
	AutoConfirm bool

	NextEscrowID int64

	CreateCalls   int
	LastCreate    *TxAttempt
	LastRecipient string
	LastAmount    *big.Int
}

func NewFakeEscrowClient() *FakeEscrowClient {
	return &FakeEscrowClient{NextEscrowID: 1}
}

func (f *FakeEscrowClient) CreateEscrow(_ context.Context, recipient string, amount *big.Int) (*TxAttempt, error) {
	f.mu.Lock()
	f.CreateCalls++
	attempt := NewTxAttempt()
	attempt.SetStatus(StatusAwaitingSignature)
	f.LastCreate = attempt
	f.LastRecipient = recipient
	f.LastAmount = new(big.Int).Set(amount)
	auto := f.AutoConfirm
	f.mu.Unlock()

	if auto {
		f.ConfirmDeposit()
	}
	return attempt, nil
}

// ConfirmDeposit finalizes the pending deposit with the next escrow id.
func (f *FakeEscrowClient) ConfirmDeposit() {
	f.mu.Lock()
	attempt := f.LastCreate
	id := f.NextEscrowID
	f.NextEscrowID++
	f.mu.Unlock()

	if attempt != nil {
		attempt.SetStatus(StatusConfirming)
		attempt.Confirm(TxResult{TxHash: fakeHash("createEscrow", int(id)), EscrowID: id})
	}
}

// FailDeposit finalizes the pending deposit with err.
func (f *FakeEscrowClient) FailDeposit(err error) {
	f.mu.Lock()
	attempt := f.LastCreate
	f.mu.Unlock()
	if attempt != nil {
		attempt.Fail(err)
	}
}

func fakeHash(call string, n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", call, n)))
	return "0x" + hex.EncodeToString(sum[:])
}
