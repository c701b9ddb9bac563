package reconcile

import (
	"context"
	"errors"
	"fmt"

	"cvpay-svc/database"
	"cvpay-svc/models"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const msgStillConfirming = "Payment is still being confirmed. Please check again shortly"

// StatusView is what a payer sees when checking on an order.
type StatusView struct {
	Status        models.PaymentStatus
	CVID          string
	TransactionID string
	Message       string
}

// QueryStatus reports the status of orderID. Terminal payments are answered
// locally; otherwise the gateway is polled and a final answer is applied
// through ApplyOutcome.
func (c *Coordinator) QueryStatus(ctx context.Context, orderID string) (StatusView, error) {
	ctx, span := c.tracer.Start(ctx, "QueryStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	payment, err := c.payments.GetByOrderID(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		return StatusView{}, fmt.Errorf("order %s: %w", orderID, ErrUnknownOrder)
	}
	if err != nil {
		span.RecordError(err)
		return StatusView{}, fmt.Errorf("failed to load payment %s: %w", orderID, err)
	}

	if payment.Status.IsTerminal() {
		return localView(payment), nil
	}

	logger := c.logger.With(zap.String("order_id", orderID))

	resp, err := c.gateway.OrderStatus(ctx, orderID)
	if err != nil {
		logger.Warn("Gateway status poll failed", zap.Error(err))
		return stillConfirming(payment), nil
	}
	data, ok := resp.First()
	if !ok {
		logger.Warn("Gateway status response carried no order data",
			zap.String("resultcode", string(resp.ResultCode)),
			zap.String("message", resp.Message))
		return stillConfirming(payment), nil
	}
	span.SetAttributes(attribute.String("gateway.payment_status", string(data.PaymentStatus)))

	var (
		outcome Outcome
		target  models.PaymentStatus
	)
	switch {
	case data.PaymentStatus.Completed():
		outcome, target = OutcomeSuccess, models.PaymentStatusCompleted
	case data.PaymentStatus.Failed():
		outcome, target = OutcomeFailure, models.PaymentStatusFailed
	default:
		view := localView(payment)
		view.Message = data.PaymentStatus.Message()
		return view, nil
	}

	meta := Meta{TransactionID: data.TransID, Reference: data.Reference, Source: SourcePoll}
	if _, err := c.ApplyOutcome(ctx, orderID, outcome, meta); err != nil {
		logger.Error("Failed to apply polled outcome", zap.Error(err))
		return stillConfirming(payment), nil
	}

	// Reload so a concurrent webhook's result is what the payer sees.
	current, err := c.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		logger.Error("Failed to reload payment after poll", zap.Error(err))
		return stillConfirming(payment), nil
	}
	view := localView(current)
	if current.Status == target {
		view.Message = data.PaymentStatus.Message()
	}
	return view, nil
}

func localView(p *models.Payment) StatusView {
	view := StatusView{
		Status:        p.Status,
		CVID:          resolveCVID(p),
		TransactionID: p.TransactionID,
	}
	switch p.Status {
	case models.PaymentStatusCompleted:
		view.Message = "Payment completed successfully"
	case models.PaymentStatusFailed:
		view.Message = "Payment was not completed. You can try again"
	case models.PaymentStatusProcessing:
		view.Message = "Waiting for you to confirm the payment on your phone"
	default:
		view.Message = msgStillConfirming
	}
	return view
}

func stillConfirming(p *models.Payment) StatusView {
	view := localView(p)
	view.Message = msgStillConfirming
	return view
}
