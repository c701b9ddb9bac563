package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cvpay-svc/config"
	"cvpay-svc/database"
	"cvpay-svc/models"
	"cvpay-svc/selcom"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrUnknownOrder  = errors.New("unknown order")
	ErrCVNotFound    = errors.New("cv not found")
	ErrCVAlreadyPaid = errors.New("cv already paid")
	ErrGateway       = errors.New("payment gateway request failed")
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// Result describes what ApplyOutcome did with an outcome.
type Result int

const (
	ResultApplied Result = iota + 1
	ResultAlreadyTerminal
	ResultUnknownOrder
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultAlreadyTerminal:
		return "already_terminal"
	case ResultUnknownOrder:
		return "unknown_order"
	default:
		return "unknown"
	}
}

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Meta is the gateway data that accompanies an outcome.
type Meta struct {
	TransactionID string
	Reference     string
	RawCallback   []byte
	Source        string
}

type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	MarkProcessing(ctx context.Context, orderID, reference string) (bool, error)
	Complete(ctx context.Context, c database.Completion) (bool, error)
	Fail(ctx context.Context, f database.Failure) (bool, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

type CVStore interface {
	Get(ctx context.Context, id string) (*models.CV, error)
	MarkPendingPayment(ctx context.Context, id string) (bool, error)
}

type AffiliateStore interface {
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
	GetByID(ctx context.Context, id int) (*models.Affiliate, error)
	RecordConversion(ctx context.Context, conv *models.AffiliateConversion) (bool, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, order selcom.Order) (selcom.CreateOrderResult, error)
	PushPayment(ctx context.Context, orderID, phone string) (selcom.PushResult, error)
	OrderStatus(ctx context.Context, orderID string) (selcom.StatusResponse, error)
}

type Publisher interface {
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// TransitionObserver is told about every payment that reaches a terminal status.
type TransitionObserver func(status models.PaymentStatus, source string)

type Deps struct {
	Payments   PaymentStore
	CVs        CVStore
	Affiliates AffiliateStore
	Gateway    Gateway
	Publisher  Publisher
}

type Option func(*Coordinator)

func WithTransitionObserver(o TransitionObserver) Option {
	return func(c *Coordinator) {
		c.observe = o
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator is the only component that moves a payment into a terminal
// status. Webhooks, polls and the sweeper all go through ApplyOutcome.
type Coordinator struct {
	payments   PaymentStore
	cvs        CVStore
	affiliates AffiliateStore
	gateway    Gateway
	publisher  Publisher
	pricing    config.Pricing
	observe    TransitionObserver
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
}

func NewCoordinator(deps Deps, pricing config.Pricing, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		payments:   deps.Payments,
		cvs:        deps.CVs,
		affiliates: deps.Affiliates,
		gateway:    deps.Gateway,
		publisher:  deps.Publisher,
		pricing:    pricing,
		observe:    func(models.PaymentStatus, string) {},
		tracer:     otel.Tracer("cvpay-service"),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyOutcome records a success or failure reported for orderID. Outcomes for
// unknown orders and for payments that are already terminal change nothing.
func (c *Coordinator) ApplyOutcome(ctx context.Context, orderID string, outcome Outcome, meta Meta) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "ApplyOutcome")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("outcome", outcome.String()),
		attribute.String("source", meta.Source),
	)

	logger := c.logger.With(
		zap.String("order_id", orderID),
		zap.String("outcome", outcome.String()),
		zap.String("source", meta.Source),
	)

	payment, err := c.payments.GetByOrderID(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("Outcome for unknown order ignored")
		return ResultUnknownOrder, nil
	}
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to load payment %s: %w", orderID, err)
	}

	target := models.PaymentStatusFailed
	if outcome == OutcomeSuccess {
		target = models.PaymentStatusCompleted
	}
	if !models.CanTransition(payment.Status, target) {
		c.noteReplay(logger, payment, outcome)
		return ResultAlreadyTerminal, nil
	}

	var applied bool
	if target == models.PaymentStatusCompleted {
		applied, err = c.payments.Complete(ctx, database.Completion{
			OrderID:       orderID,
			CVID:          resolveCVID(payment),
			TransactionID: meta.TransactionID,
			Reference:     meta.Reference,
			RawCallback:   meta.RawCallback,
			CompletedAt:   c.now(),
		})
	} else {
		applied, err = c.payments.Fail(ctx, database.Failure{
			OrderID:       orderID,
			TransactionID: meta.TransactionID,
			Reference:     meta.Reference,
			RawCallback:   meta.RawCallback,
		})
	}
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if !applied {
		logger.Info("Payment reached a terminal status concurrently, outcome ignored")
		return ResultAlreadyTerminal, nil
	}

	logger.Info("Payment transitioned",
		zap.String("from", string(payment.Status)),
		zap.String("to", string(target)),
		zap.String("transaction_id", meta.TransactionID),
	)
	span.SetAttributes(attribute.String("payment.status", string(target)))

	if target == models.PaymentStatusCompleted && payment.AffiliateID != nil {
		c.recordConversion(ctx, payment)
	}

	c.publish(ctx, payment, target, meta)
	c.observe(target, meta.Source)

	return ResultApplied, nil
}

func (c *Coordinator) noteReplay(logger *zap.Logger, payment *models.Payment, outcome Outcome) {
	contradicts := (outcome == OutcomeSuccess && payment.Status == models.PaymentStatusFailed) ||
		(outcome == OutcomeFailure && payment.Status == models.PaymentStatusCompleted)
	if contradicts {
		logger.Warn("Outcome contradicts terminal payment status",
			zap.String("status", string(payment.Status)))
		return
	}
	logger.Debug("Duplicate outcome for terminal payment", zap.String("status", string(payment.Status)))
}

// recordConversion credits the referring affiliate. Errors are logged and
// never undo the completed payment.
func (c *Coordinator) recordConversion(ctx context.Context, payment *models.Payment) {
	logger := c.logger.With(zap.String("order_id", payment.OrderID), zap.Int("affiliate_id", *payment.AffiliateID))

	affiliate, err := c.affiliates.GetByID(ctx, *payment.AffiliateID)
	if err != nil {
		logger.Error("Failed to load affiliate for conversion", zap.Error(err))
		return
	}

	conv := &models.AffiliateConversion{
		AffiliateID: affiliate.ID,
		OrderID:     payment.OrderID,
		Amount:      payment.Amount,
		Commission:  models.Commission(payment.Amount, affiliate.CommissionRate),
		Status:      models.ConversionStatusPending,
	}
	inserted, err := c.affiliates.RecordConversion(ctx, conv)
	if err != nil {
		logger.Error("Failed to record affiliate conversion", zap.Error(err))
		return
	}
	if !inserted {
		logger.Info("Affiliate conversion already recorded")
		return
	}
	logger.Info("Affiliate conversion recorded", zap.String("commission", conv.Commission.String()))
}

func (c *Coordinator) publish(ctx context.Context, payment *models.Payment, status models.PaymentStatus, meta Meta) {
	if c.publisher == nil {
		return
	}

	eventType := models.EventPaymentFailed
	if status == models.PaymentStatusCompleted {
		eventType = models.EventPaymentCompleted
	}

	event := models.PaymentEvent{
		OrderID:       payment.OrderID,
		CVID:          resolveCVID(payment),
		MSISDN:        payment.MSISDN,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        status,
		EventType:     eventType,
		TransactionID: meta.TransactionID,
		OccurredAt:    c.now(),
	}
	if err := c.publisher.PublishPaymentEvent(ctx, event); err != nil {
		// The transition is already committed.
		c.logger.Error("Failed to publish payment event",
			zap.String("order_id", payment.OrderID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func resolveCVID(payment *models.Payment) string {
	if payment.CVID != "" {
		return payment.CVID
	}
	cvID, _ := CVIDFromOrderID(payment.OrderID)
	return cvID
}
