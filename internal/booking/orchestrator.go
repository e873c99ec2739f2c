// Package booking drives a user from a chosen time slot to funds committed
// in escrow plus a receipt. The orchestrator is an explicit state machine:
// chain steps complete through observer callbacks that are dropped when they
// arrive late or for a superseded attempt, which keeps the approve-before-
// deposit ordering and the one-outstanding-transaction rule enforceable.
package booking

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"bookrails/internal/chain"
	"bookrails/internal/escrowstore"
	"bookrails/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the position of a flow in the booking state machine.
type State string

const (
	StateSlots     State = "slots"
	StateDate      State = "date"
	StateTime      State = "time"
	StateConfirm   State = "confirm"
	StateApproving State = "approving"
	StatePaying    State = "paying"
	StateReceipt   State = "receipt"
)

// CompletionFunc receives the finished booking exactly once.
type CompletionFunc func(slot Slot, date, timeOfDay string, receipt Receipt)

// Config carries the orchestrator's collaborators. Session, clients and
// store are injected; the orchestrator never reaches for globals.
type Config struct {
	Recipient     Recipient
	Session       wallet.Session
	Token         chain.TokenClient
	Escrow        chain.EscrowClient
	Records       escrowstore.Store
	ChainID       int64
	TokenDecimals int
	OnBook        CompletionFunc
	Logger        *zap.Logger

	// Now and NewFreeToken are overridable for tests.
	Now          func() time.Time
	NewFreeToken func() string
}

// Orchestrator sequences slot/date/time selection, precondition checks, the
// approval and deposit transactions, record persistence and receipt
// delivery for one booking flow.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     Config
	checker *AllowanceChecker
	log     *zap.Logger

	state     State
	sel       Selection
	approval  *chain.TxAttempt
	deposit   *chain.TxAttempt
	payCtx    context.Context
	payCancel context.CancelFunc
	lastErr   error
	receipt   *Receipt
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewFreeToken == nil {
		cfg.NewFreeToken = uuid.NewString
	}
	return &Orchestrator{
		cfg:     cfg,
		checker: NewAllowanceChecker(cfg.Token),
		log:     cfg.Logger,
		state:   StateSlots,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Selection() Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sel
}

// Receipt returns the finished receipt once the flow reached it.
func (o *Orchestrator) Receipt() (Receipt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.receipt == nil {
		return Receipt{}, false
	}
	return *o.receipt, true
}

// Err returns the error surfaced by the last failed operation, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Attempts exposes the current approval and deposit attempts for status
// display; either may be nil.
func (o *Orchestrator) Attempts() (approval, deposit *chain.TxAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.approval, o.deposit
}

// SelectSlot stores the chosen slot and clears any previously chosen date
// and time.
func (o *Orchestrator) SelectSlot(slot Slot) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateSlots {
		return ErrBadTransition
	}
	s := slot
	o.sel = Selection{Slot: &s}
	o.state = StateDate
	return nil
}

// SelectDate accepts a date only if the chosen slot offers it.
func (o *Orchestrator) SelectDate(date string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateDate {
		return ErrBadTransition
	}
	if !o.sel.Slot.HasDate(date) {
		return ErrDateUnavailable
	}
	o.sel.Date = date
	o.state = StateTime
	return nil
}

// SelectTime accepts a time only if it is among the slot's options.
func (o *Orchestrator) SelectTime(timeOfDay string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateTime {
		return ErrBadTransition
	}
	if !o.sel.Slot.HasTime(timeOfDay) {
		return ErrTimeUnavailable
	}
	o.sel.Time = timeOfDay
	o.state = StateConfirm
	return nil
}

// Back steps one screen backwards, clearing the choice made on the screen
// being left.
func (o *Orchestrator) Back() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateDate:
		o.sel = Selection{}
		o.state = StateSlots
	case StateTime:
		o.sel.Date = ""
		o.state = StateDate
	case StateConfirm:
		o.sel.Time = ""
		o.state = StateTime
	default:
		return ErrBadTransition
	}
	return nil
}

// Pay is the central operation. Free bookings go straight to the receipt;
// paid bookings run the precondition checks in order, then submit the
// approval transaction when the fresh allowance is short, otherwise the
// deposit directly. While a transaction is outstanding a repeated call
// creates nothing.
func (o *Orchestrator) Pay(ctx context.Context) error {
	o.mu.Lock()

	switch o.state {
	case StateApproving, StatePaying:
		o.mu.Unlock()
		return ErrBusy
	case StateConfirm:
	default:
		o.mu.Unlock()
		return ErrBadTransition
	}

	o.lastErr = nil

	if o.sel.Slot.Price == 0 {
		receipt := BuildFreeReceipt(o.sel, o.cfg.Recipient, o.cfg.NewFreeToken(), o.cfg.Now().UTC())
		o.receipt = &receipt
		o.state = StateReceipt
		o.mu.Unlock()
		o.log.Info("free booking completed", zap.String("receipt_id", receipt.ID))
		return nil
	}

	required := RequiredAmount(o.sel.Slot.Price, o.cfg.TokenDecimals)

	if o.cfg.Recipient.Address == "" || common.HexToAddress(o.cfg.Recipient.Address) == (common.Address{}) {
		return o.failValidationLocked(ErrNoRecipientWallet)
	}

	addr, connected := o.cfg.Session.Address()
	if !connected || !o.cfg.Session.IsAuthenticated() {
		o.lastErr = ErrNotAuthenticated
		session := o.cfg.Session
		o.mu.Unlock()
		session.RequestLogin()
		return ErrNotAuthenticated
	}

	depositor := strings.ToLower(addr.Hex())
	recipient := strings.ToLower(common.HexToAddress(o.cfg.Recipient.Address).Hex())
	if depositor == recipient {
		return o.failValidationLocked(ErrSelfBooking)
	}

	// Fresh read on every attempt; a prior approval may already cover the
	// requirement.
	allowance, err := o.checker.Check(ctx, depositor, required)
	if err != nil {
		o.lastErr = err
		o.mu.Unlock()
		return err
	}

	if !allowance.HasEnoughBalance {
		balErr := &InsufficientBalanceError{Required: required, Available: allowance.Balance}
		o.lastErr = balErr
		o.mu.Unlock()
		return balErr
	}

	if required.Sign() <= 0 {
		return o.failValidationLocked(ErrInvalidAmount)
	}

	payCtx, cancel := context.WithCancel(ctx)
	o.payCtx, o.payCancel = payCtx, cancel

	if allowance.NeedsApproval {
		attempt, err := o.cfg.Token.Approve(payCtx, required)
		if err != nil {
			cancel()
			o.payCtx, o.payCancel = nil, nil
			o.lastErr = &TxError{Step: "approval", Err: err}
			o.mu.Unlock()
			return o.Err()
		}
		o.state = StateApproving
		o.approval = attempt
		o.mu.Unlock()

		o.log.Info("approval submitted", zap.String("depositor", depositor))
		attempt.Observe(func(res *chain.TxResult, err error) {
			o.onApprovalDone(attempt, res, err)
		})
		return nil
	}

	return o.startDepositLocked(payCtx, recipient, required)
}

// startDepositLocked submits the deposit transaction. Called with o.mu held;
// releases it.
func (o *Orchestrator) startDepositLocked(ctx context.Context, recipient string, required *big.Int) error {
	attempt, err := o.cfg.Escrow.CreateEscrow(ctx, recipient, required)
	if err != nil {
		if o.payCancel != nil {
			o.payCancel()
		}
		o.payCtx, o.payCancel = nil, nil
		o.state = StateConfirm
		o.lastErr = &TxError{Step: "deposit", Err: err}
		o.mu.Unlock()
		return o.Err()
	}
	o.state = StatePaying
	o.deposit = attempt
	o.mu.Unlock()

	o.log.Info("deposit submitted", zap.String("recipient", recipient))
	attempt.Observe(func(res *chain.TxResult, err error) {
		o.onDepositDone(attempt, res, err)
	})
	return nil
}

// onApprovalDone handles the terminal outcome of the approval attempt. Late
// or duplicate deliveries for a superseded attempt are dropped.
func (o *Orchestrator) onApprovalDone(attempt *chain.TxAttempt, res *chain.TxResult, err error) {
	o.mu.Lock()
	if o.approval != attempt || o.state != StateApproving {
		o.mu.Unlock()
		o.log.Debug("dropping stale approval event")
		return
	}

	if err != nil {
		o.state = StateConfirm
		o.approval = nil
		o.lastErr = &TxError{Step: "approval", Err: err}
		if o.payCancel != nil {
			o.payCancel()
		}
		o.payCtx, o.payCancel = nil, nil
		o.mu.Unlock()
		o.log.Warn("approval failed", zap.Error(err))
		return
	}

	o.log.Info("approval confirmed", zap.String("tx_hash", res.TxHash))

	required := RequiredAmount(o.sel.Slot.Price, o.cfg.TokenDecimals)
	recipient := strings.ToLower(common.HexToAddress(o.cfg.Recipient.Address).Hex())
	// The confirmed approval strictly precedes this submission.
	_ = o.startDepositLocked(o.payCtx, recipient, required)
}

// onDepositDone handles the terminal outcome of the deposit attempt: write
// the escrow record (best effort), build the receipt, move to RECEIPT.
func (o *Orchestrator) onDepositDone(attempt *chain.TxAttempt, res *chain.TxResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deposit != attempt || o.state != StatePaying {
		o.log.Debug("dropping stale deposit event")
		return
	}

	if err != nil {
		o.state = StateConfirm
		o.deposit = nil
		o.lastErr = &TxError{Step: "deposit", Err: err}
		if o.payCancel != nil {
			o.payCancel()
		}
		o.payCtx, o.payCancel = nil, nil
		o.log.Warn("deposit failed", zap.Error(err))
		return
	}

	// The escrow id and tx hash are one atomic readout; with either
	// missing there is nothing to persist or hand to the user.
	if res == nil || res.TxHash == "" || res.EscrowID == 0 {
		o.state = StateConfirm
		o.deposit = nil
		o.lastErr = &TxError{Step: "deposit", Err: fmt.Errorf("confirmed without escrow id and tx hash")}
		o.log.Error("deposit confirmed with incomplete readout")
		return
	}

	addr, _ := o.cfg.Session.Address()
	depositor := strings.ToLower(addr.Hex())
	recipient := strings.ToLower(common.HexToAddress(o.cfg.Recipient.Address).Hex())
	required := RequiredAmount(o.sel.Slot.Price, o.cfg.TokenDecimals)
	now := o.cfg.Now().UTC()

	record := escrowstore.Record{
		EscrowID:         res.EscrowID,
		ChainID:          o.cfg.ChainID,
		DepositorAddress: depositor,
		RecipientAddress: recipient,
		Amount:           required.String(),
		Status:           escrowstore.StatusPending,
		CreateTxHash:     res.TxHash,
		AcceptDeadline:   now.Add(ReceiptTTL),
		Description:      fmt.Sprintf("%s on %s at %s", o.sel.Slot.Name, o.sel.Date, o.sel.Time),
	}
	if persistErr := o.cfg.Records.Insert(o.payCtx, record); persistErr != nil {
		// The payment is already irrevocable on-chain; the record can be
		// backfilled manually from these fields.
		o.log.Error("escrow record persist failed",
			zap.Int64("escrow_id", res.EscrowID),
			zap.String("tx_hash", res.TxHash),
			zap.String("depositor", depositor),
			zap.String("recipient", recipient),
			zap.String("amount", required.String()),
			zap.Error(persistErr),
		)
	}

	receipt := BuildPaidReceipt(o.sel, o.cfg.Recipient, ChainConfirmation{
		EscrowID:         res.EscrowID,
		TxHash:           res.TxHash,
		DepositorAddress: depositor,
		RecipientAddress: recipient,
	}, now)
	o.receipt = &receipt
	o.state = StateReceipt
	if o.payCancel != nil {
		o.payCancel()
	}
	o.payCtx, o.payCancel = nil, nil
	o.log.Info("booking paid", zap.String("receipt_id", receipt.ID), zap.String("tx_hash", res.TxHash))
}

// Close resets the flow to the slot screen from any state. It stops local
// observation of pending attempts; a transaction already broadcast to the
// network cannot be retracted and is not reconciled if it confirms later.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.payCancel != nil {
		o.payCancel()
	}
	o.resetLocked()
}

// Continue hands the finished receipt to the completion callback, then
// resets.
func (o *Orchestrator) Continue() error {
	o.mu.Lock()
	if o.state != StateReceipt {
		o.mu.Unlock()
		return ErrBadTransition
	}
	receipt := *o.receipt
	slot := *o.sel.Slot
	date, timeOfDay := o.sel.Date, o.sel.Time
	onBook := o.cfg.OnBook
	o.resetLocked()
	o.mu.Unlock()

	if onBook != nil {
		onBook(slot, date, timeOfDay, receipt)
	}
	return nil
}

func (o *Orchestrator) resetLocked() {
	o.sel = Selection{}
	o.approval = nil
	o.deposit = nil
	o.payCtx, o.payCancel = nil, nil
	o.lastErr = nil
	o.receipt = nil
	o.state = StateSlots
}

// failValidationLocked records a precondition failure and releases the lock.
func (o *Orchestrator) failValidationLocked(reason error) error {
	verr := &ValidationError{Reason: reason}
	o.lastErr = verr
	o.mu.Unlock()
	return verr
}
