package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cvpay-svc/database"
	"cvpay-svc/middleware"
	"cvpay-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type AffiliateStore interface {
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
	GetByID(ctx context.Context, id int) (*models.Affiliate, error)
	RecordClick(ctx context.Context, click models.AffiliateClick) error
	Stats(ctx context.Context, affiliateID int) (models.AffiliateStats, error)
}

type AffiliateHandler struct {
	affiliates AffiliateStore
	logger     *zap.Logger
}

func NewAffiliateHandler(affiliates AffiliateStore, logger *zap.Logger) *AffiliateHandler {
	return &AffiliateHandler{affiliates: affiliates, logger: logger}
}

func (h *AffiliateHandler) RecordClick(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "RecordAffiliateClick")
	defer span.End()

	var req models.RecordClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("affiliate.code", req.Code))

	traceID := middleware.GetTraceID(ctx)

	affiliate, err := h.affiliates.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Affiliate not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to look up affiliate", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !affiliate.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "Affiliate not found"})
		return
	}

	click := models.AffiliateClick{
		AffiliateID: affiliate.ID,
		LandingPath: req.LandingPath,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	}
	if err := h.affiliates.RecordClick(ctx, click); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to record affiliate click", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"affiliate_id": affiliate.ID, "recorded": true})
}

func (h *AffiliateHandler) Stats(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "GetAffiliateStats")
	defer span.End()

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid affiliate ID"})
		return
	}
	span.SetAttributes(attribute.Int("affiliate.id", id))

	traceID := middleware.GetTraceID(ctx)

	if _, err := h.affiliates.GetByID(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Affiliate not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to look up affiliate", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	stats, err := h.affiliates.Stats(ctx, id)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to load affiliate stats", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
