package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"autopilot/internal/config"
	"autopilot/internal/ledger"
	"autopilot/internal/oracle"
	"autopilot/internal/profile"
	"autopilot/internal/risk"
	"autopilot/internal/store"
	"autopilot/internal/vault"
)

type mockTrader struct {
	mu       sync.Mutex
	orders   []OrderRequest
	failUser int64
}

func (m *mockTrader) PlaceOrder(ctx context.Context, creds vault.Credentials, req OrderRequest) (string, error) {
	m.mu.Lock()
	m.orders = append(m.orders, req)
	m.mu.Unlock()

	if req.UserID == m.failUser {
		return "", fmt.Errorf("%w: order rejected", ErrExchange)
	}
	return fmt.Sprintf("order-%d", req.UserID), nil
}

func (m *mockTrader) placed() []OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

type engineHarness struct {
	engine *Engine
	book   *ledger.Ledger
	vault  *vault.Vault
	trader *mockTrader
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	book, err := ledger.New(st, nil)
	if err != nil {
		t.Fatalf("ledger.New returned error: %v", err)
	}

	credVault, err := vault.New(config.VaultConfig{EncryptionKey: "engine-test-key"})
	if err != nil {
		t.Fatalf("vault.New returned error: %v", err)
	}

	trader := &mockTrader{}
	policy := risk.NewPolicy(config.RiskConfig{ConfidenceThreshold: 0.70})

	engine, err := NewEngine(config.ExecutionConfig{MaxConcurrent: 3}, trader, credVault, policy, book, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	return &engineHarness{engine: engine, book: book, vault: credVault, trader: trader}
}

func (h *engineHarness) profileWithCreds(t *testing.T, userID int64, level profile.RiskLevel, maxLeverage float64) profile.TradeProfile {
	t.Helper()

	keyEnc, err := h.vault.Encrypt(fmt.Sprintf("key-%d", userID))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	secretEnc, err := h.vault.Encrypt(fmt.Sprintf("secret-%d", userID))
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	return profile.TradeProfile{
		UserID:       userID,
		RiskLevel:    level,
		MaxLeverage:  maxLeverage,
		APIKeyEnc:    keyEnc,
		APISecretEnc: secretEnc,
	}
}

func buyDecision() oracle.Decision {
	return oracle.Decision{
		Action:     oracle.ActionBuy,
		Confidence: 0.85,
		Leverage:   5,
		StopLoss:   0.03,
		TakeProfit: 0.06,
		Rationale:  "uptrend",
	}
}

func outcomeByUser(t *testing.T, outcomes []ledger.Outcome, userID int64) ledger.Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.UserID == userID {
			return o
		}
	}
	t.Fatalf("no outcome for user %d", userID)
	return ledger.Outcome{}
}

func TestExecuteCycle_ClampsPerUserAndIsolatesCredentialFailure(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	cycleID, err := h.book.StartCycle(ctx, "BTC/USDT:USDT", "1m")
	if err != nil {
		t.Fatalf("StartCycle returned error: %v", err)
	}

	decision := buyDecision()
	userC := h.profileWithCreds(t, 3, profile.RiskMedium, 10)
	userC.APIKeyEnc = "garbage"
	userC.APISecretEnc = "garbage"

	assignments := []Assignment{
		{Profile: h.profileWithCreds(t, 1, profile.RiskMedium, 10), Decision: decision},
		{Profile: h.profileWithCreds(t, 2, profile.RiskMedium, 3), Decision: decision},
		{Profile: userC, Decision: decision},
	}

	summary, err := h.engine.ExecuteCycle(ctx, cycleID, "BTC/USDT:USDT", assignments)
	if err != nil {
		t.Fatalf("ExecuteCycle returned error: %v", err)
	}
	if summary.Success != 2 || summary.Failed != 1 || summary.Held != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	outcomes, err := h.book.OutcomesByCycle(ctx, cycleID)
	if err != nil {
		t.Fatalf("OutcomesByCycle returned error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	a := outcomeByUser(t, outcomes, 1)
	if a.Status != ledger.OutcomeSuccess || a.Leverage != 5 || a.OrderID != "order-1" {
		t.Errorf("user 1 outcome unexpected: %+v", a)
	}

	b := outcomeByUser(t, outcomes, 2)
	if b.Status != ledger.OutcomeSuccess || b.Leverage != 3 {
		t.Errorf("user 2 outcome unexpected: %+v", b)
	}

	c := outcomeByUser(t, outcomes, 3)
	if c.Status != ledger.OutcomeFailed {
		t.Errorf("user 3 expected failed, got %s", c.Status)
	}
	if !strings.Contains(c.ErrorMessage, "credential") {
		t.Errorf("user 3 expected credential error, got %q", c.ErrorMessage)
	}

	for _, order := range h.trader.placed() {
		if order.UserID == 3 {
			t.Errorf("no order should reach the exchange for user 3")
		}
	}
}

func TestExecuteCycle_LowConfidenceHoldsEveryone(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	cycleID, _ := h.book.StartCycle(ctx, "BTC/USDT:USDT", "1m")

	decision := buyDecision()
	decision.Confidence = 0.5

	assignments := []Assignment{
		{Profile: h.profileWithCreds(t, 1, profile.RiskLow, 10), Decision: decision},
		{Profile: h.profileWithCreds(t, 2, profile.RiskHigh, 10), Decision: decision},
	}

	summary, err := h.engine.ExecuteCycle(ctx, cycleID, "BTC/USDT:USDT", assignments)
	if err != nil {
		t.Fatalf("ExecuteCycle returned error: %v", err)
	}
	if summary.Held != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if placed := h.trader.placed(); len(placed) != 0 {
		t.Fatalf("expected no exchange calls, got %d", len(placed))
	}

	outcomes, _ := h.book.OutcomesByCycle(ctx, cycleID)
	for _, o := range outcomes {
		if o.Status != ledger.OutcomeSuccess {
			t.Errorf("user %d: expected success, got %s", o.UserID, o.Status)
		}
		if o.Action != string(oracle.ActionHold) {
			t.Errorf("user %d: expected hold action, got %q", o.UserID, o.Action)
		}
		if o.OrderID != "" {
			t.Errorf("user %d: hold must not carry an order id", o.UserID)
		}
	}
}

func TestExecuteCycle_GroupDecisionFailure(t *testing.T) {
	h := newEngineHarness(t)
	ctx := context.Background()

	cycleID, _ := h.book.StartCycle(ctx, "BTC/USDT:USDT", "1m")

	assignments := []Assignment{
		{Profile: h.profileWithCreds(t, 1, profile.RiskMedium, 10), Err: fmt.Errorf("%w: model output invalid", oracle.ErrDecision)},
		{Profile: h.profileWithCreds(t, 2, profile.RiskMedium, 10), Decision: buyDecision()},
	}

	summary, err := h.engine.ExecuteCycle(ctx, cycleID, "BTC/USDT:USDT", assignments)
	if err != nil {
		t.Fatalf("ExecuteCycle returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Success != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	outcomes, _ := h.book.OutcomesByCycle(ctx, cycleID)
	failed := outcomeByUser(t, outcomes, 1)
	if failed.Status != ledger.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", failed.Status)
	}
	if !strings.Contains(failed.ErrorMessage, "decision") {
		t.Errorf("expected decision error recorded, got %q", failed.ErrorMessage)
	}
}

func TestExecuteCycle_ExchangeFailureIsolated(t *testing.T) {
	h := newEngineHarness(t)
	h.trader.failUser = 2
	ctx := context.Background()

	cycleID, _ := h.book.StartCycle(ctx, "BTC/USDT:USDT", "1m")

	assignments := []Assignment{
		{Profile: h.profileWithCreds(t, 1, profile.RiskMedium, 10), Decision: buyDecision()},
		{Profile: h.profileWithCreds(t, 2, profile.RiskMedium, 10), Decision: buyDecision()},
		{Profile: h.profileWithCreds(t, 3, profile.RiskMedium, 10), Decision: buyDecision()},
	}

	summary, err := h.engine.ExecuteCycle(ctx, cycleID, "BTC/USDT:USDT", assignments)
	if err != nil {
		t.Fatalf("ExecuteCycle returned error: %v", err)
	}
	if summary.Success != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	outcomes, _ := h.book.OutcomesByCycle(ctx, cycleID)
	if got := outcomeByUser(t, outcomes, 2); got.Status != ledger.OutcomeFailed {
		t.Errorf("expected user 2 failed, got %s", got.Status)
	}
}

// blockingTrader 模拟一直挂起的交易所调用，只能靠上下文到期返回。
type blockingTrader struct{}

func (blockingTrader) PlaceOrder(ctx context.Context, creds vault.Credentials, req OrderRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestExecuteCycle_DeadlineExpiryLeavesNoPending(t *testing.T) {
	h := newEngineHarness(t)

	policy := risk.NewPolicy(config.RiskConfig{ConfidenceThreshold: 0.70})
	engine, err := NewEngine(config.ExecutionConfig{MaxConcurrent: 2}, blockingTrader{}, h.vault, policy, h.book, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	cycleID, err := h.book.StartCycle(context.Background(), "BTC/USDT:USDT", "1m")
	if err != nil {
		t.Fatalf("StartCycle returned error: %v", err)
	}

	assignments := []Assignment{
		{Profile: h.profileWithCreds(t, 1, profile.RiskMedium, 10), Decision: buyDecision()},
		{Profile: h.profileWithCreds(t, 2, profile.RiskMedium, 10), Decision: buyDecision()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	summary, err := engine.ExecuteCycle(ctx, cycleID, "BTC/USDT:USDT", assignments)
	if err != nil {
		t.Fatalf("ExecuteCycle returned error: %v", err)
	}
	if summary.Failed != 2 || summary.Success != 0 || summary.Held != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	outcomes, err := h.book.OutcomesByCycle(context.Background(), cycleID)
	if err != nil {
		t.Fatalf("OutcomesByCycle returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Status == ledger.OutcomePending {
			t.Errorf("user %d: outcome stuck pending after deadline expiry", o.UserID)
		}
		if o.Status != ledger.OutcomeFailed {
			t.Errorf("user %d: expected failed outcome, got %s", o.UserID, o.Status)
		}
		if !strings.Contains(o.ErrorMessage, "deadline") {
			t.Errorf("user %d: expected deadline reason, got %q", o.UserID, o.ErrorMessage)
		}
	}
}

func TestClientOrderID(t *testing.T) {
	if got := ClientOrderID(12, 34); got != "autopilot-c12-u34" {
		t.Errorf("unexpected idempotency key %q", got)
	}
}
