package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cvpay-svc/models"
	"cvpay-svc/selcom"

	"github.com/shopspring/decimal"
)

func TestApplyOutcome_DuplicateSuccessAppliesOnce(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)

	const n = 20
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{TransactionID: "TXN123", Source: SourceWebhook})
			if err != nil {
				t.Errorf("ApplyOutcome returned error: %v", err)
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res == ResultApplied {
			applied++
		} else if res != ResultAlreadyTerminal {
			t.Errorf("Expected applied or already_terminal, got %s", res)
		}
	}

	if applied != 1 {
		t.Errorf("Expected exactly 1 applied outcome, got %d", applied)
	}
	if h.payments.completions != 1 {
		t.Errorf("Expected 1 completion write, got %d", h.payments.completions)
	}
	if h.cvs.paidWrites != 1 {
		t.Errorf("Expected 1 CV unlock, got %d", h.cvs.paidWrites)
	}
	if h.affiliates.count() != 1 {
		t.Errorf("Expected 1 affiliate conversion, got %d", h.affiliates.count())
	}
	if h.publisher.count() != 1 {
		t.Errorf("Expected 1 published event, got %d", h.publisher.count())
	}
}

func TestApplyOutcome_CommissionIsTenPercent(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)

	for i := 0; i < 3; i++ {
		if _, err := h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{Source: SourceWebhook}); err != nil {
			t.Fatalf("ApplyOutcome returned error: %v", err)
		}
	}

	conv, ok := h.affiliates.conversions[orderID]
	if !ok {
		t.Fatal("Expected a conversion for the order")
	}
	if !conv.Commission.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected commission 500, got %s", conv.Commission)
	}
	if h.affiliates.count() != 1 {
		t.Errorf("Expected 1 conversion, got %d", h.affiliates.count())
	}
}

func TestApplyOutcome_UnknownOrderCreatesNothing(t *testing.T) {
	h := newHarness(t)

	res, err := h.coord.ApplyOutcome(context.Background(), "CV-nope-1", OutcomeSuccess, Meta{Source: SourceWebhook})
	if err != nil {
		t.Fatalf("ApplyOutcome returned error: %v", err)
	}
	if res != ResultUnknownOrder {
		t.Errorf("Expected unknown_order, got %s", res)
	}
	if len(h.payments.byOrder) != 0 {
		t.Errorf("Expected no payments to be created, got %d", len(h.payments.byOrder))
	}
	if h.publisher.count() != 0 {
		t.Errorf("Expected no events, got %d", h.publisher.count())
	}
}

func TestApplyOutcome_FailedThenSuccessIsIgnored(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)

	res, err := h.coord.ApplyOutcome(context.Background(), orderID, OutcomeFailure, Meta{Source: SourceWebhook})
	if err != nil || res != ResultApplied {
		t.Fatalf("Expected failure to apply, got %s %v", res, err)
	}

	res, err = h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{TransactionID: "LATE", Source: SourceWebhook})
	if err != nil {
		t.Fatalf("ApplyOutcome returned error: %v", err)
	}
	if res != ResultAlreadyTerminal {
		t.Errorf("Expected already_terminal, got %s", res)
	}
	if got := h.payments.status(orderID); got != models.PaymentStatusFailed {
		t.Errorf("Expected payment to stay failed, got %s", got)
	}
	if got := h.cvs.get(testCVID); got != models.CVStatusPendingPayment {
		t.Errorf("Expected CV to stay pending_payment, got %s", got)
	}
	if h.affiliates.count() != 0 {
		t.Errorf("Expected no conversion, got %d", h.affiliates.count())
	}
}

func TestApplyOutcome_TerminalPaymentIsNotWritten(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.payments.put(models.Payment{
		OrderID:       orderID,
		CVID:          testCVID,
		Status:        models.PaymentStatusCompleted,
		TransactionID: "TXN123",
	})

	for _, outcome := range []Outcome{OutcomeSuccess, OutcomeFailure} {
		res, err := h.coord.ApplyOutcome(context.Background(), orderID, outcome, Meta{Source: SourcePoll})
		if err != nil {
			t.Fatalf("ApplyOutcome returned error: %v", err)
		}
		if res != ResultAlreadyTerminal {
			t.Errorf("Expected already_terminal for %s, got %s", outcome, res)
		}
	}

	if h.payments.completions != 0 || h.payments.failures != 0 {
		t.Errorf("Expected no store writes, got %d completions and %d failures",
			h.payments.completions, h.payments.failures)
	}
	if got := h.payments.status(orderID); got != models.PaymentStatusCompleted {
		t.Errorf("Expected payment to stay completed, got %s", got)
	}
}

func TestApplyOutcome_ResolvesCVFromOrderID(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.cvs.status[testCVID] = models.CVStatusDraft
	h.payments.put(models.Payment{
		OrderID: orderID,
		Amount:  decimal.NewFromInt(5000),
		Status:  models.PaymentStatusPending,
	})

	if _, err := h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{Source: SourceWebhook}); err != nil {
		t.Fatalf("ApplyOutcome returned error: %v", err)
	}
	if got := h.cvs.get(testCVID); got != models.CVStatusPaid {
		t.Errorf("Expected CV to be paid, got %s", got)
	}
}

func TestQueryStatus_CompletedPoll(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)
	h.gateway.status = gatewayStatus(selcom.StatusCompleted, "TXN123")

	view, err := h.coord.QueryStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if view.Status != models.PaymentStatusCompleted {
		t.Errorf("Expected completed, got %s", view.Status)
	}
	if view.TransactionID != "TXN123" {
		t.Errorf("Expected transaction TXN123, got %q", view.TransactionID)
	}
	if view.CVID != testCVID {
		t.Errorf("Expected cv %s, got %s", testCVID, view.CVID)
	}
	if got := h.cvs.get(testCVID); got != models.CVStatusPaid {
		t.Errorf("Expected CV to be paid, got %s", got)
	}
}

func TestQueryStatus_CancelledPoll(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)
	h.gateway.status = gatewayStatus(selcom.StatusCancelled, "")

	view, err := h.coord.QueryStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if view.Status != models.PaymentStatusFailed {
		t.Errorf("Expected failed, got %s", view.Status)
	}
	if view.Message != selcom.StatusCancelled.Message() {
		t.Errorf("Expected cancellation message, got %q", view.Message)
	}
	if got := h.cvs.get(testCVID); got != models.CVStatusPendingPayment {
		t.Errorf("Expected CV to stay locked, got %s", got)
	}
}

func TestQueryStatus_StillPending(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)
	h.gateway.status = gatewayStatus(selcom.StatusPending, "")

	view, err := h.coord.QueryStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if view.Status != models.PaymentStatusProcessing {
		t.Errorf("Expected processing, got %s", view.Status)
	}
	if view.Message != selcom.StatusPending.Message() {
		t.Errorf("Expected pending message, got %q", view.Message)
	}
}

func TestQueryStatus_TerminalSkipsGateway(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)

	if _, err := h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{TransactionID: "TXN9", Source: SourceWebhook}); err != nil {
		t.Fatalf("ApplyOutcome returned error: %v", err)
	}

	view, err := h.coord.QueryStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if view.Status != models.PaymentStatusCompleted {
		t.Errorf("Expected completed, got %s", view.Status)
	}
	if calls := h.gateway.statusCalls.Load(); calls != 0 {
		t.Errorf("Expected no gateway polls, got %d", calls)
	}
}

func TestQueryStatus_GatewayErrorDegrades(t *testing.T) {
	h := newHarness(t)
	orderID := NewOrderID(testCVID, time.Now())
	h.seed(orderID)
	h.gateway.statusErr = errors.New("connection refused")

	view, err := h.coord.QueryStatus(context.Background(), orderID)
	if err != nil {
		t.Fatalf("QueryStatus returned error: %v", err)
	}
	if view.Status != models.PaymentStatusProcessing {
		t.Errorf("Expected processing, got %s", view.Status)
	}
	if view.Message != msgStillConfirming {
		t.Errorf("Expected still-confirming message, got %q", view.Message)
	}
}

func TestQueryStatus_UnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.QueryStatus(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Expected ErrUnknownOrder, got %v", err)
	}
}

func TestWebhookAndPollRace(t *testing.T) {
	for i := 0; i < 25; i++ {
		t.Run(fmt.Sprintf("round_%d", i), func(t *testing.T) {
			h := newHarness(t)
			orderID := NewOrderID(testCVID, time.Now())
			h.seed(orderID)
			h.gateway.status = gatewayStatus(selcom.StatusCompleted, "TXN123")

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				h.coord.ApplyOutcome(context.Background(), orderID, OutcomeSuccess, Meta{TransactionID: "TXN123", Source: SourceWebhook})
			}()
			go func() {
				defer wg.Done()
				h.coord.QueryStatus(context.Background(), orderID)
			}()
			wg.Wait()

			if h.payments.completions != 1 {
				t.Errorf("Expected 1 completion, got %d", h.payments.completions)
			}
			if h.cvs.paidWrites != 1 {
				t.Errorf("Expected 1 CV unlock, got %d", h.cvs.paidWrites)
			}
			if h.affiliates.count() != 1 {
				t.Errorf("Expected 1 conversion, got %d", h.affiliates.count())
			}
		})
	}
}
