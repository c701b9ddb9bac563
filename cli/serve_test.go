package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cvpay-svc/config"
	"cvpay-svc/database"
	"cvpay-svc/ratelimit"
	"cvpay-svc/reconcile"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	a := &app{
		db:         db,
		payments:   database.NewPaymentStore(db),
		cvs:        database.NewCVStore(db),
		affiliates: database.NewAffiliateStore(db),
	}
	a.coord = reconcile.NewCoordinator(reconcile.Deps{
		Payments:   a.payments,
		CVs:        a.cvs,
		Affiliates: a.affiliates,
	}, config.Pricing{}, logger)

	cfg := config.Config{ServiceName: "cvpay-service", JWTSecret: "secret"}
	router := newRouter(cfg, a, ratelimit.NewMemoryLimiter(100, time.Minute), nil, logger)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/payments/initiate"},
		{http.MethodPost, "/api/cvs/3f2b8c1a-6d4e-4f7a-9b0c-1d2e3f4a5b6c/download"},
		{http.MethodGet, "/api/affiliates/3/stats"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/payments/status", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected public status endpoint to answer %d, got %d", http.StatusBadRequest, w.Code)
	}
}
