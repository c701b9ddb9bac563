package handlers

import (
	"context"
	"errors"
	"net/http"

	"cvpay-svc/middleware"
	"cvpay-svc/models"
	"cvpay-svc/reconcile"
	"cvpay-svc/selcom"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentCoordinator interface {
	Initiate(ctx context.Context, req reconcile.InitiateRequest) (reconcile.InitiateResult, error)
	QueryStatus(ctx context.Context, orderID string) (reconcile.StatusView, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (models.PaymentStatusResponse, bool, error)
	Set(ctx context.Context, orderID string, resp models.PaymentStatusResponse) error
}

type PaymentHandler struct {
	coord  PaymentCoordinator
	cache  StatusCache
	logger *zap.Logger
}

// NewPaymentHandler builds the payment endpoints. cache may be nil.
func NewPaymentHandler(coord PaymentCoordinator, cache StatusCache, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{coord: coord, cache: cache, logger: logger}
}

func (h *PaymentHandler) Initiate(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "InitiatePayment")
	defer span.End()

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("cv.id", req.CVID))

	traceID := middleware.GetTraceID(ctx)
	res, err := h.coord.Initiate(ctx, reconcile.InitiateRequest{
		CVID:          req.CVID,
		Phone:         req.Phone,
		AffiliateCode: req.AffiliateCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, selcom.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid phone number"})
		case errors.Is(err, reconcile.ErrCVNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "CV not found"})
		case errors.Is(err, reconcile.ErrCVAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"error": "CV has already been paid for"})
		case errors.Is(err, reconcile.ErrGateway):
			h.logger.Warn("Payment push failed", zap.String("trace_id", traceID), zap.String("order_id", res.OrderID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "Could not reach the mobile money provider. Please try again",
				"orderId": res.OrderID,
			})
		default:
			span.RecordError(err)
			h.logger.Error("Failed to initiate payment", zap.String("trace_id", traceID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	h.logger.Info("Payment initiated", zap.String("trace_id", traceID), zap.String("order_id", res.OrderID))
	c.JSON(http.StatusOK, models.InitiatePaymentResponse{
		OrderID:   res.OrderID,
		Status:    res.Status,
		Reference: res.Reference,
		Message:   res.Message,
	})
}

func (h *PaymentHandler) Status(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "GetPaymentStatus")
	defer span.End()

	orderID := c.Query("orderId")
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	traceID := middleware.GetTraceID(ctx)
	if h.cache != nil {
		if cached, ok, err := h.cache.Get(ctx, orderID); err != nil {
			h.logger.Warn("Status cache read failed", zap.String("trace_id", traceID), zap.Error(err))
		} else if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	view, err := h.coord.QueryStatus(ctx, orderID)
	if err != nil {
		if errors.Is(err, reconcile.ErrUnknownOrder) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to query payment status", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	resp := models.PaymentStatusResponse{
		Status:        view.Status,
		CVID:          view.CVID,
		TransactionID: view.TransactionID,
		Message:       view.Message,
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, orderID, resp); err != nil {
			h.logger.Warn("Status cache write failed", zap.String("trace_id", traceID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, resp)
}
