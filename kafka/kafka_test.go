package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"cvpay-svc/models"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testEvent() models.PaymentEvent {
	return models.PaymentEvent{
		OrderID:       "CV-3f2b8c1a-6d4e-4f7a-9b0c-1d2e3f4a5b6c-1700000000000",
		MSISDN:        "255712345678",
		Amount:        decimal.NewFromInt(5000),
		Currency:      "TZS",
		Status:        models.PaymentStatusCompleted,
		EventType:     models.EventPaymentCompleted,
		TransactionID: "TXN123",
	}
}

func TestPublisher_PublishPaymentEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event models.PaymentEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventType != models.EventPaymentCompleted || event.TransactionID != "TXN123" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	publisher := NewPublisher(producer, "payment_events", logger)

	if err := publisher.PublishPaymentEvent(context.Background(), testEvent()); err != nil {
		t.Fatalf("PublishPaymentEvent returned error: %v", err)
	}
}

func TestPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	publisher := NewPublisher(producer, "payment_events", logger)

	err := publisher.PublishPaymentEvent(context.Background(), testEvent())
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected ErrOutOfBrokers, got %v", err)
	}
}

type recordingSender struct {
	received chan models.PaymentEvent
}

func (r *recordingSender) SendReceipt(_ context.Context, event models.PaymentEvent) error {
	r.received <- event
	return nil
}

func TestStartConsumer_DeliversReceipts(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	defer consumer.Close()

	payload, err := json.Marshal(testEvent())
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	consumer.ExpectConsumePartition("payment_events", 0, sarama.OffsetNewest).
		YieldMessage(&sarama.ConsumerMessage{Topic: "payment_events", Value: payload})

	sender := &recordingSender{received: make(chan models.PaymentEvent, 1)}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartConsumer(ctx, consumer, "payment_events", sender, logger)
	}()

	select {
	case event := <-sender.received:
		if event.TransactionID != "TXN123" {
			t.Errorf("Expected transaction TXN123, got %q", event.TransactionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for receipt")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("StartConsumer returned error: %v", err)
	}
}

func TestLogReceiptSender_IgnoresUnknownEvents(t *testing.T) {
	sender := NewLogReceiptSender(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))
	event := testEvent()
	event.EventType = "something_else"
	if err := sender.SendReceipt(context.Background(), event); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
