package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"cvpay-svc/middleware"
	"cvpay-svc/reconcile"
	"cvpay-svc/selcom"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxCallbackBytes = 64 << 10

type OutcomeApplier interface {
	ApplyOutcome(ctx context.Context, orderID string, outcome reconcile.Outcome, meta reconcile.Meta) (reconcile.Result, error)
}

type SignatureVerifier interface {
	Verify(h selcom.SignatureHeaders, body map[string]any) error
}

type WebhookHandler struct {
	verifier SignatureVerifier
	coord    OutcomeApplier
	logger   *zap.Logger
}

func NewWebhookHandler(verifier SignatureVerifier, coord OutcomeApplier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, coord: coord, logger: logger}
}

// Handle receives the gateway's payment callback. The signature is checked
// before anything is read from the payload into the payment state.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "PaymentWebhook")
	defer span.End()

	traceID := middleware.GetTraceID(ctx)

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		middleware.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}

	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		middleware.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	headers := selcom.SignatureHeaders{
		Timestamp:    c.GetHeader(selcom.HeaderTimestamp),
		Digest:       c.GetHeader(selcom.HeaderDigest),
		SignedFields: c.GetHeader(selcom.HeaderSignedFields),
	}
	if err := h.verifier.Verify(headers, fields); err != nil {
		middleware.RecordWebhook("unauthorized")
		h.logger.Warn("Rejected webhook with bad signature",
			zap.String("trace_id", traceID),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var callback selcom.Callback
	if err := json.Unmarshal(raw, &callback); err != nil {
		middleware.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callback payload"})
		return
	}
	if callback.OrderID == "" {
		middleware.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	outcome := reconcile.OutcomeFailure
	if callback.Succeeded() {
		outcome = reconcile.OutcomeSuccess
	}
	span.SetAttributes(
		attribute.String("order.id", callback.OrderID),
		attribute.String("resultcode", string(callback.ResultCode)),
	)

	result, err := h.coord.ApplyOutcome(ctx, callback.OrderID, outcome, reconcile.Meta{
		TransactionID: callback.TransID,
		Reference:     callback.Reference,
		RawCallback:   raw,
		Source:        reconcile.SourceWebhook,
	})
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhook("error")
		h.logger.Error("Failed to process webhook",
			zap.String("trace_id", traceID),
			zap.String("order_id", callback.OrderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process callback"})
		return
	}

	middleware.RecordWebhook(result.String())
	h.logger.Info("Webhook processed",
		zap.String("trace_id", traceID),
		zap.String("order_id", callback.OrderID),
		zap.String("resultcode", string(callback.ResultCode)),
		zap.String("result", result.String()),
	)

	c.JSON(http.StatusOK, gin.H{
		"result":     "SUCCESS",
		"resultcode": string(selcom.ResultCodeSuccess),
		"message":    webhookMessage(result),
	})
}

func webhookMessage(r reconcile.Result) string {
	switch r {
	case reconcile.ResultApplied:
		return "Callback processed"
	case reconcile.ResultAlreadyTerminal:
		return "Callback already processed"
	default:
		return "Order not recognised"
	}
}
