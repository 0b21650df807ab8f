package ledger

import (
	"context"
	"errors"
	"testing"

	"autopilot/internal/store"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	l, err := New(st, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return l
}

func TestCycleLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cycleID, err := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	if err != nil {
		t.Fatalf("StartCycle returned error: %v", err)
	}

	cycle, err := l.GetCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("GetCycle returned error: %v", err)
	}
	if cycle.Status != CycleRunning {
		t.Fatalf("expected running status, got %s", cycle.Status)
	}

	if err := l.CompleteCycle(ctx, cycleID, 3); err != nil {
		t.Fatalf("CompleteCycle returned error: %v", err)
	}

	cycle, err = l.GetCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("GetCycle returned error: %v", err)
	}
	if cycle.Status != CycleCompleted {
		t.Errorf("expected completed status, got %s", cycle.Status)
	}
	if cycle.UserCount != 3 {
		t.Errorf("expected user count 3, got %d", cycle.UserCount)
	}
	if cycle.FinishedAt.IsZero() {
		t.Errorf("expected finished timestamp to be set")
	}
}

func TestFinishCycle_OnlyOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cycleID, err := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	if err != nil {
		t.Fatalf("StartCycle returned error: %v", err)
	}

	if err := l.AbortCycle(ctx, cycleID, "market data unavailable"); err != nil {
		t.Fatalf("AbortCycle returned error: %v", err)
	}

	if err := l.CompleteCycle(ctx, cycleID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second transition, got %v", err)
	}

	cycle, err := l.GetCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("GetCycle returned error: %v", err)
	}
	if cycle.Status != CycleAborted {
		t.Errorf("expected aborted status preserved, got %s", cycle.Status)
	}
	if cycle.AbortReason != "market data unavailable" {
		t.Errorf("unexpected abort reason %q", cycle.AbortReason)
	}
}

func TestOutcome_PendingToTerminalExactlyOnce(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cycleID, err := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	if err != nil {
		t.Fatalf("StartCycle returned error: %v", err)
	}

	outcomeID, err := l.BeginOutcome(ctx, cycleID, 42, `{"action":"buy"}`, "buy", 5)
	if err != nil {
		t.Fatalf("BeginOutcome returned error: %v", err)
	}

	outcomes, err := l.OutcomesByCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("OutcomesByCycle returned error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != OutcomePending {
		t.Fatalf("expected one pending outcome, got %+v", outcomes)
	}

	if err := l.FinishOutcome(ctx, outcomeID, OutcomeSuccess, "order-1", ""); err != nil {
		t.Fatalf("FinishOutcome returned error: %v", err)
	}

	if err := l.FinishOutcome(ctx, outcomeID, OutcomeFailed, "", "late failure"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second terminal write, got %v", err)
	}

	outcomes, err = l.OutcomesByCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("OutcomesByCycle returned error: %v", err)
	}
	got := outcomes[0]
	if got.Status != OutcomeSuccess {
		t.Errorf("expected success preserved, got %s", got.Status)
	}
	if got.OrderID != "order-1" {
		t.Errorf("expected order id recorded, got %q", got.OrderID)
	}
	if got.ErrorMessage != "" {
		t.Errorf("expected empty error message, got %q", got.ErrorMessage)
	}
}

func TestFinishOutcome_RejectsNonTerminalStatus(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cycleID, _ := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	outcomeID, _ := l.BeginOutcome(ctx, cycleID, 1, "", "hold", 0)

	if err := l.FinishOutcome(ctx, outcomeID, OutcomePending, "", ""); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestOutcomesByCycle_OrderedByExecutionTime(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	cycleID, _ := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	for _, userID := range []int64{30, 10, 20} {
		if _, err := l.BeginOutcome(ctx, cycleID, userID, "", "buy", 1); err != nil {
			t.Fatalf("BeginOutcome returned error: %v", err)
		}
	}

	outcomes, err := l.OutcomesByCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("OutcomesByCycle returned error: %v", err)
	}

	// 写入顺序即执行时间顺序。
	want := []int64{30, 10, 20}
	for i, outcome := range outcomes {
		if outcome.UserID != want[i] {
			t.Errorf("position %d: got user %d want %d", i, outcome.UserID, want[i])
		}
	}
}

func TestOutcomesByUser_Limit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cycleID, _ := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
		if _, err := l.BeginOutcome(ctx, cycleID, 7, "", "buy", 1); err != nil {
			t.Fatalf("BeginOutcome returned error: %v", err)
		}
	}

	outcomes, err := l.OutcomesByUser(ctx, 7, 2)
	if err != nil {
		t.Fatalf("OutcomesByUser returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].CycleID < outcomes[1].CycleID {
		t.Errorf("expected newest outcome first, got cycles %d then %d", outcomes[0].CycleID, outcomes[1].CycleID)
	}
}

func TestListCycles_NewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, _ := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	second, _ := l.StartCycle(ctx, "BTC/USDT:USDT", "1m")

	cycles, err := l.ListCycles(ctx, 10)
	if err != nil {
		t.Fatalf("ListCycles returned error: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	if cycles[0].ID != second || cycles[1].ID != first {
		t.Errorf("expected newest first, got %d then %d", cycles[0].ID, cycles[1].ID)
	}
}
