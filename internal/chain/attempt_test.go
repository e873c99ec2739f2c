package chain

import (
	"errors"
	"testing"
)

func TestAttemptObserverFiresOnce(t *testing.T) {
	attempt := NewTxAttempt()
	fired := 0
	attempt.Observe(func(res *TxResult, err error) {
		fired++
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.TxHash != "0xabc" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	attempt.Confirm(TxResult{TxHash: "0xabc"})
	attempt.Confirm(TxResult{TxHash: "0xdef"})
	attempt.Fail(errors.New("late failure"))

	if fired != 1 {
		t.Fatalf("observer fired %d times", fired)
	}
	if attempt.Status() != StatusConfirmed {
		t.Fatalf("status = %s", attempt.Status())
	}
	if res, ok := attempt.Result(); !ok || res.TxHash != "0xabc" {
		t.Fatalf("result = %+v ok=%v", res, ok)
	}
}

func TestAttemptObserveAfterTerminal(t *testing.T) {
	attempt := NewTxAttempt()
	attempt.Fail(errors.New("boom"))

	fired := 0
	attempt.Observe(func(res *TxResult, err error) {
		fired++
		if err == nil {
			t.Fatal("expected error replayed")
		}
	})
	if fired != 1 {
		t.Fatalf("expected immediate replay, fired=%d", fired)
	}
}

func TestAttemptStatusFrozenAfterTerminal(t *testing.T) {
	attempt := NewTxAttempt()
	attempt.SetStatus(StatusConfirming)
	attempt.Fail(errors.New("boom"))
	attempt.SetStatus(StatusConfirming)

	if attempt.Status() != StatusFailed {
		t.Fatalf("status = %s", attempt.Status())
	}
}
