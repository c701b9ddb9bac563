package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cvpay-svc/cache"
	"cvpay-svc/config"
	"cvpay-svc/database"
	"cvpay-svc/handlers"
	"cvpay-svc/kafka"
	"cvpay-svc/middleware"
	"cvpay-svc/ratelimit"
	"cvpay-svc/reconcile"
	"cvpay-svc/selcom"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const statusCacheTTL = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payment API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing(cfg.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, a.db, logger); err != nil {
		return err
	}

	limiter, statusCache, err := initLimits(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Kafka.Enabled() {
		consumer, err := kafka.InitConsumer(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()

		go func() {
			if err := kafka.StartConsumer(ctx, consumer, cfg.Kafka.Topic, kafka.NewLogReceiptSender(logger), logger); err != nil {
				logger.Error("Kafka consumer error", zap.Error(err))
			}
		}()
	}

	if cfg.Sweep.Enabled {
		reconcile.NewSweeper(a.coord, cfg.Sweep, logger).Start(ctx)
		logger.Info("Stale payment sweeper started",
			zap.Duration("interval", cfg.Sweep.Interval),
			zap.Duration("stale_after", cfg.Sweep.StaleAfter),
		)
	}

	router := newRouter(cfg, a, limiter, statusCache, logger)

	restSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("CV payment REST API started", zap.String("addr", cfg.HTTPAddr))

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	logger.Info("gRPC health server started", zap.String("addr", cfg.GRPCAddr))

	<-ctx.Done()

	logger.Info("Shutting down servers...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("Servers exited")
	return nil
}

// initLimits picks the shared Redis limiter and status cache when Redis is
// configured, and an in-process limiter without a cache otherwise.
func initLimits(ctx context.Context, cfg config.Config, logger *zap.Logger) (middleware.Limiter, handlers.StatusCache, error) {
	if cfg.Redis.Addr == "" {
		limiter := ratelimit.NewMemoryLimiter(cfg.Limits.Requests, cfg.Limits.Window)
		limiter.StartCleanup(ctx, cfg.Limits.Window)
		logger.Info("Redis not configured: rate limits are per instance")
		return limiter, nil, nil
	}

	rdb, err := cache.InitRedis(cfg.Redis, logger)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		rdb.Close()
	}()

	return ratelimit.NewRedisLimiter(rdb, cfg.Limits.Requests, cfg.Limits.Window),
		cache.NewStatusCache(rdb, statusCacheTTL), nil
}

func newRouter(cfg config.Config, a *app, limiter middleware.Limiter, statusCache handlers.StatusCache, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck(a.db))
	router.GET("/metrics", middleware.PrometheusHandler())

	auth := middleware.AuthMiddleware(cfg.JWTSecret)
	limit := middleware.RateLimitMiddleware(limiter, logger)

	paymentHandler := handlers.NewPaymentHandler(a.coord, statusCache, logger)
	verifier := selcom.NewVerifier(cfg.Selcom.APISecret, logger,
		selcom.WithMaxClockSkew(cfg.Selcom.MaxClockSkew),
	)
	webhookHandler := handlers.NewWebhookHandler(verifier, a.coord, logger)
	cvHandler := handlers.NewCVHandler(a.cvs, logger)
	affiliateHandler := handlers.NewAffiliateHandler(a.affiliates, logger)

	api := router.Group("/api")
	{
		api.POST("/payments/webhook", webhookHandler.Handle)
		api.POST("/payments/initiate", limit, auth, paymentHandler.Initiate)
		api.GET("/payments/status", limit, paymentHandler.Status)
		api.POST("/cvs/:id/download", auth, cvHandler.Download)
		api.POST("/affiliates/clicks", limit, affiliateHandler.RecordClick)
		api.GET("/affiliates/:id/stats", auth, affiliateHandler.Stats)
	}

	return router
}
