package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"cvpay-svc/config"
	"cvpay-svc/middleware"
	"cvpay-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func InitConsumer(cfg config.Kafka, logger *zap.Logger) (sarama.Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

// ReceiptSender delivers the payer-facing receipt for a payment event.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, event models.PaymentEvent) error
}

// LogReceiptSender writes receipts to the log. It stands in for an SMS
// provider.
type LogReceiptSender struct {
	logger *zap.Logger
}

func NewLogReceiptSender(logger *zap.Logger) *LogReceiptSender {
	return &LogReceiptSender{logger: logger}
}

func (s *LogReceiptSender) SendReceipt(ctx context.Context, event models.PaymentEvent) error {
	var message string
	switch event.EventType {
	case models.EventPaymentCompleted:
		message = fmt.Sprintf("Payment of %s %s received (ref %s). Your CV is ready to download.",
			event.Currency, event.Amount.StringFixed(0), event.TransactionID)
	case models.EventPaymentFailed:
		message = fmt.Sprintf("Your payment for order %s was not completed. You can try again from your dashboard.", event.OrderID)
	default:
		return nil
	}

	s.logger.Info("Payment receipt sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("order_id", event.OrderID),
		zap.String("msisdn", event.MSISDN),
		zap.String("message", message),
	)
	return nil
}

// StartConsumer reads payment events from partition 0 of topic and hands them
// to receipts until ctx is done.
func StartConsumer(ctx context.Context, consumer sarama.Consumer, topic string, receipts ReceiptSender, logger *zap.Logger) error {
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-partitionConsumer.Messages():
			if !ok {
				return nil
			}
			if err := handleMessage(message, receipts); err != nil {
				logger.Error("Failed to handle message", zap.Error(err))
			}
		case err, ok := <-partitionConsumer.Errors():
			if !ok {
				return nil
			}
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleMessage(message *sarama.ConsumerMessage, receipts ReceiptSender) error {
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), consumerCarrier(message.Headers))

	ctx, span := otel.Tracer("cvpay-service").Start(ctx, "SendPaymentReceipt")
	defer span.End()

	var event models.PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("order.id", event.OrderID),
	)

	if err := receipts.SendReceipt(ctx, event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send receipt for %s: %w", event.OrderID, err)
	}
	return nil
}
