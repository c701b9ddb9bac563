package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName     string
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
	JWTSecret       string

	Database Database
	Redis    Redis
	Kafka    Kafka
	Tracing  Tracing
	Selcom   Selcom
	Pricing  Pricing
	Limits   Limits
	Sweep    Sweep
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// Redis is optional. An empty Addr keeps rate limiting in process.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Kafka is optional. No brokers disables event publishing and the receipt consumer.
type Kafka struct {
	Brokers []string
	Topic   string
}

func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type Tracing struct {
	JaegerEndpoint string
}

type Selcom struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	VendorID   string
	WebhookURL string
	Timeout    time.Duration

	// MaxClockSkew bounds callback timestamps; zero disables the check.
	MaxClockSkew time.Duration
}

type Pricing struct {
	CVPrice  decimal.Decimal
	Currency string
}

type Limits struct {
	Requests int
	Window   time.Duration
}

type Sweep struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "cvpay-service")
	v.SetDefault("http_addr", ":8085")
	v.SetDefault("grpc_addr", ":50055")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "postgres")
	v.SetDefault("db_name", "cvpaydb")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "payment_events")

	v.SetDefault("jaeger_endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("selcom_base_url", "https://apigw.selcommobile.com")
	v.SetDefault("selcom_api_key", "")
	v.SetDefault("selcom_api_secret", "")
	v.SetDefault("selcom_vendor_id", "")
	v.SetDefault("selcom_webhook_url", "")
	v.SetDefault("selcom_timeout", "15s")
	v.SetDefault("selcom_max_clock_skew", "5m")

	v.SetDefault("cv_price", "5000")
	v.SetDefault("currency", "TZS")

	v.SetDefault("rate_limit_requests", 15)
	v.SetDefault("rate_limit_window", "1m")

	v.SetDefault("sweep_enabled", false)
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("sweep_stale_after", "10m")
	v.SetDefault("sweep_batch_size", 50)
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	price, err := decimal.NewFromString(v.GetString("cv_price"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CV_PRICE: %w", err)
	}
	if !price.IsPositive() {
		return Config{}, fmt.Errorf("CV_PRICE must be positive, got %s", price)
	}

	cfg := Config{
		ServiceName:     v.GetString("service_name"),
		HTTPAddr:        v.GetString("http_addr"),
		GRPCAddr:        v.GetString("grpc_addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		JWTSecret:       v.GetString("jwt_secret"),
		Database: Database{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetString("kafka_brokers")),
			Topic:   v.GetString("kafka_topic"),
		},
		Tracing: Tracing{
			JaegerEndpoint: v.GetString("jaeger_endpoint"),
		},
		Selcom: Selcom{
			BaseURL:    strings.TrimRight(v.GetString("selcom_base_url"), "/"),
			APIKey:     v.GetString("selcom_api_key"),
			APISecret:  v.GetString("selcom_api_secret"),
			VendorID:   v.GetString("selcom_vendor_id"),
			WebhookURL: v.GetString("selcom_webhook_url"),
			Timeout:    v.GetDuration("selcom_timeout"),

			MaxClockSkew: v.GetDuration("selcom_max_clock_skew"),
		},
		Pricing: Pricing{
			CVPrice:  price,
			Currency: v.GetString("currency"),
		},
		Limits: Limits{
			Requests: v.GetInt("rate_limit_requests"),
			Window:   v.GetDuration("rate_limit_window"),
		},
		Sweep: Sweep{
			Enabled:    v.GetBool("sweep_enabled"),
			Interval:   v.GetDuration("sweep_interval"),
			StaleAfter: v.GetDuration("sweep_stale_after"),
			BatchSize:  v.GetInt("sweep_batch_size"),
		},
	}

	if cfg.Selcom.Timeout <= 0 {
		return Config{}, fmt.Errorf("SELCOM_TIMEOUT must be positive")
	}
	if cfg.Limits.Requests <= 0 || cfg.Limits.Window <= 0 {
		return Config{}, fmt.Errorf("rate limit requires positive RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
