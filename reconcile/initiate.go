package reconcile

import (
	"context"
	"errors"
	"fmt"

	"cvpay-svc/database"
	"cvpay-svc/models"
	"cvpay-svc/selcom"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type InitiateRequest struct {
	CVID          string
	Phone         string
	AffiliateCode string
	BuyerName     string
	BuyerEmail    string
}

type InitiateResult struct {
	OrderID   string
	Status    models.PaymentStatus
	Reference string
	Message   string
}

// Initiate records a pending payment for a CV and asks the gateway to push a
// payment prompt to the payer's phone. A rejected or failed push leaves the
// payment pending and returns an error wrapping ErrGateway.
func (c *Coordinator) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	ctx, span := c.tracer.Start(ctx, "Initiate")
	defer span.End()

	cvUUID, err := uuid.Parse(req.CVID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("cv %q: %w", req.CVID, ErrCVNotFound)
	}
	cvID := cvUUID.String()
	span.SetAttributes(attribute.String("cv.id", cvID))

	msisdn, err := selcom.NormalizeMSISDN(req.Phone)
	if err != nil {
		return InitiateResult{}, err
	}

	cv, err := c.cvs.Get(ctx, cvID)
	if errors.Is(err, database.ErrNotFound) {
		return InitiateResult{}, fmt.Errorf("cv %s: %w", cvID, ErrCVNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return InitiateResult{}, err
	}
	if cv.Status.Unlocked() {
		return InitiateResult{}, fmt.Errorf("cv %s: %w", cvID, ErrCVAlreadyPaid)
	}

	payment := &models.Payment{
		OrderID:     NewOrderID(cvID, c.now()),
		CVID:        cvID,
		AffiliateID: c.resolveAffiliate(ctx, req.AffiliateCode),
		Amount:      c.pricing.CVPrice,
		Currency:    c.pricing.Currency,
		MSISDN:      msisdn,
		Status:      models.PaymentStatusPending,
	}
	span.SetAttributes(attribute.String("order.id", payment.OrderID))

	logger := c.logger.With(zap.String("order_id", payment.OrderID), zap.String("cv_id", cvID))

	if err := c.payments.Create(ctx, payment); err != nil {
		span.RecordError(err)
		return InitiateResult{}, err
	}
	if _, err := c.cvs.MarkPendingPayment(ctx, cvID); err != nil {
		span.RecordError(err)
		return InitiateResult{}, err
	}

	result := InitiateResult{OrderID: payment.OrderID, Status: models.PaymentStatusPending}

	if _, err := c.gateway.CreateOrder(ctx, selcom.Order{
		OrderID:    payment.OrderID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
		BuyerPhone: msisdn,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
	}); err != nil {
		span.RecordError(err)
		logger.Error("Failed to create gateway order", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	push, err := c.gateway.PushPayment(ctx, payment.OrderID, msisdn)
	if err != nil {
		span.RecordError(err)
		logger.Error("Payment push failed", zap.Error(err), zap.String("resultcode", string(push.ResultCode)))
		return result, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	result.Reference = push.Reference
	result.Message = "Check your phone and enter your PIN to approve the payment"

	moved, err := c.payments.MarkProcessing(ctx, payment.OrderID, push.Reference)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	if moved {
		result.Status = models.PaymentStatusProcessing
	} else if current, err := c.payments.GetByOrderID(ctx, payment.OrderID); err == nil {
		// A callback can land before the push response does.
		result.Status = current.Status
		result.Message = localView(current).Message
	}

	logger.Info("Payment initiated",
		zap.String("status", string(result.Status)),
		zap.String("reference", push.Reference),
		zap.String("resultcode", string(push.ResultCode)),
	)
	return result, nil
}

// resolveAffiliate maps a referral code to an affiliate id. Unknown or inactive
// codes do not block the purchase.
func (c *Coordinator) resolveAffiliate(ctx context.Context, code string) *int {
	if code == "" {
		return nil
	}
	affiliate, err := c.affiliates.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			c.logger.Error("Failed to resolve affiliate code", zap.String("code", code), zap.Error(err))
		}
		return nil
	}
	if !affiliate.Active {
		c.logger.Info("Inactive affiliate code ignored", zap.String("code", code))
		return nil
	}
	id := affiliate.ID
	return &id
}
