package cli

import (
	"database/sql"
	"fmt"
	"time"

	"cvpay-svc/circuitbreaker"
	"cvpay-svc/config"
	"cvpay-svc/database"
	"cvpay-svc/kafka"
	"cvpay-svc/middleware"
	"cvpay-svc/reconcile"
	"cvpay-svc/selcom"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// app holds what every command that touches payments needs.
type app struct {
	db         *sql.DB
	payments   *database.PaymentStore
	cvs        *database.CVStore
	affiliates *database.AffiliateStore
	gateway    *selcom.Client
	coord      *reconcile.Coordinator
	producer   sarama.SyncProducer
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		db:         db,
		payments:   database.NewPaymentStore(db),
		cvs:        database.NewCVStore(db),
		affiliates: database.NewAffiliateStore(db),
	}

	breaker := circuitbreaker.NewCircuitBreaker("selcom", 5, 30*time.Second,
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
	a.gateway = selcom.NewClient(cfg.Selcom, logger,
		selcom.WithCircuitBreaker(breaker),
		selcom.WithObserver(middleware.ObserveGatewayRequest),
	)

	deps := reconcile.Deps{
		Payments:   a.payments,
		CVs:        a.cvs,
		Affiliates: a.affiliates,
		Gateway:    a.gateway,
	}
	if cfg.Kafka.Enabled() {
		producer, err := kafka.InitProducer(cfg.Kafka, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize Kafka producer: %w", err)
		}
		a.producer = producer
		deps.Publisher = kafka.NewPublisher(producer, cfg.Kafka.Topic, logger)
	} else {
		logger.Info("Kafka disabled: payment events will not be published")
	}

	a.coord = reconcile.NewCoordinator(deps, cfg.Pricing, logger,
		reconcile.WithTransitionObserver(middleware.RecordPaymentTransition),
	)
	return a, nil
}

func (a *app) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	a.db.Close()
}
