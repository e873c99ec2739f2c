package chain

import (
	"sync"
)

// TxStatus is the lifecycle of one submitted contract call.
type TxStatus string

const (
	StatusSimulating        TxStatus = "simulating"
	StatusAwaitingSignature TxStatus = "awaiting-signature"
	StatusConfirming        TxStatus = "confirming"
	StatusConfirmed         TxStatus = "confirmed"
	StatusFailed            TxStatus = "failed"
)

// TxResult is the atomic readout of a confirmed call. EscrowID is zero for
// calls that do not create an escrow (approvals).
type TxResult struct {
	TxHash   string
	EscrowID int64
}

// TxAttempt tracks a single submitted call from simulation to finality.
// One attempt is never reused across submissions. The submitting client
// drives status updates and finishes the attempt exactly once; observers
// registered before or after finality see the terminal outcome exactly once.
type TxAttempt struct {
	mu        sync.Mutex
	status    TxStatus
	result    *TxResult
	err       error
	observers []func(*TxResult, error)
}

func NewTxAttempt() *TxAttempt {
	return &TxAttempt{status: StatusSimulating}
}

func (a *TxAttempt) Status() TxStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Result returns the confirmed readout, or ok=false before confirmation.
func (a *TxAttempt) Result() (TxResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return TxResult{}, false
	}
	return *a.result, true
}

func (a *TxAttempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Observe registers a callback invoked once when the attempt reaches a
// terminal status. If the attempt is already terminal the callback fires
// immediately.
func (a *TxAttempt) Observe(fn func(*TxResult, error)) {
	a.mu.Lock()
	if a.status == StatusConfirmed || a.status == StatusFailed {
		res, err := a.result, a.err
		a.mu.Unlock()
		fn(res, err)
		return
	}
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

// SetStatus advances the attempt through non-terminal stages. Terminal
// stages go through Confirm/Fail.
func (a *TxAttempt) SetStatus(s TxStatus) {
	a.mu.Lock()
	if a.status != StatusConfirmed && a.status != StatusFailed {
		a.status = s
	}
	a.mu.Unlock()
}

// Confirm finishes the attempt successfully. Later Confirm/Fail calls are
// no-ops.
func (a *TxAttempt) Confirm(res TxResult) {
	a.finish(&res, nil)
}

// Fail finishes the attempt with an error.
func (a *TxAttempt) Fail(err error) {
	a.finish(nil, err)
}

func (a *TxAttempt) finish(res *TxResult, err error) {
	a.mu.Lock()
	if a.status == StatusConfirmed || a.status == StatusFailed {
		a.mu.Unlock()
		return
	}
	if err != nil {
		a.status = StatusFailed
		a.err = err
	} else {
		a.status = StatusConfirmed
		a.result = res
	}
	observers := a.observers
	a.observers = nil
	a.mu.Unlock()

	for _, fn := range observers {
		fn(res, err)
	}
}
