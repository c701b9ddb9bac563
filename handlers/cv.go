package handlers

import (
	"context"
	"errors"
	"net/http"

	"cvpay-svc/database"
	"cvpay-svc/middleware"
	"cvpay-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CVStore interface {
	Get(ctx context.Context, id string) (*models.CV, error)
	MarkDownloaded(ctx context.Context, id string) (bool, error)
}

type CVHandler struct {
	cvs    CVStore
	logger *zap.Logger
}

func NewCVHandler(cvs CVStore, logger *zap.Logger) *CVHandler {
	return &CVHandler{cvs: cvs, logger: logger}
}

// Download releases a CV once it has been paid for.
func (h *CVHandler) Download(c *gin.Context) {
	ctx, span := otel.Tracer(serviceName).Start(c.Request.Context(), "DownloadCV")
	defer span.End()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid CV ID"})
		return
	}
	cvID := id.String()
	span.SetAttributes(attribute.String("cv.id", cvID))

	traceID := middleware.GetTraceID(ctx)

	unlocked, err := h.cvs.MarkDownloaded(ctx, cvID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to mark CV downloaded", zap.String("trace_id", traceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if !unlocked {
		if _, err := h.cvs.Get(ctx, cvID); errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "CV not found"})
			return
		}
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment required to download this CV"})
		return
	}

	h.logger.Info("CV downloaded",
		zap.String("trace_id", traceID),
		zap.String("cv_id", cvID),
		zap.String("user_id", c.GetString(middleware.ContextUserID)),
	)
	c.JSON(http.StatusOK, gin.H{
		"id":     cvID,
		"status": models.CVStatusDownloaded,
	})
}
