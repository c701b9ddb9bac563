package selcom

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cvpay-svc/circuitbreaker"
	"cvpay-svc/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	pathCreateOrder  = "/v1/checkout/create-order-minimal"
	pathWalletPush   = "/v1/checkout/wallet-payment"
	pathOrderStatus  = "/v1/checkout/order-status"
	authSchemeSelcom = "SELCOM "
)

var (
	ErrPushRejected  = errors.New("push request rejected by gateway")
	ErrOrderRejected = errors.New("order rejected by gateway")
)

// Observer receives the outcome and latency of every gateway call.
type Observer func(operation, outcome string, elapsed time.Duration)

type Client struct {
	http      *resty.Client
	apiKey    string
	apiSecret string
	vendor    string
	webhook   string
	breaker   *circuitbreaker.CircuitBreaker
	observe   Observer
	logger    *zap.Logger
	now       func() time.Time
}

type ClientOption func(*Client)

func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observe = o
	}
}

func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

func NewClient(cfg config.Selcom, logger *zap.Logger, opts ...ClientOption) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &Client{
		http:      httpClient,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		vendor:    cfg.VendorID,
		webhook:   cfg.WebhookURL,
		breaker:   circuitbreaker.NewCircuitBreaker("selcom", 5, 30*time.Second),
		observe:   func(string, string, time.Duration) {},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder registers a minimal checkout order for the buyer's phone.
func (c *Client) CreateOrder(ctx context.Context, order Order) (CreateOrderResult, error) {
	msisdn, err := NormalizeMSISDN(order.BuyerPhone)
	if err != nil {
		return CreateOrderResult{}, err
	}

	params := []param{
		{"vendor", c.vendor},
		{"order_id", order.OrderID},
		{"buyer_email", order.BuyerEmail},
		{"buyer_name", order.BuyerName},
		{"buyer_phone", msisdn},
		{"amount", order.Amount.StringFixed(0)},
		{"currency", order.Currency},
		{"webhook", base64.StdEncoding.EncodeToString([]byte(c.webhook))},
		{"no_of_items", "1"},
	}

	var result CreateOrderResult
	if err := c.call(ctx, "create_order", http.MethodPost, pathCreateOrder, params, &result); err != nil {
		return CreateOrderResult{}, err
	}
	if result.ResultCode != ResultCodeSuccess {
		return result, fmt.Errorf("%w: resultcode=%s message=%q", ErrOrderRejected, result.ResultCode, result.Message)
	}
	return result, nil
}

// PushPayment asks the gateway to prompt the payer on their handset. An accepted
// result only means the prompt was sent; the outcome arrives later.
func (c *Client) PushPayment(ctx context.Context, orderID, phone string) (PushResult, error) {
	msisdn, err := NormalizeMSISDN(phone)
	if err != nil {
		return PushResult{}, err
	}

	params := []param{
		{"transId", fmt.Sprintf("PUSH-%s-%d", orderID, c.now().UnixMilli())},
		{"orderId", orderID},
		{"msisdn", msisdn},
	}

	var result PushResult
	if err := c.call(ctx, "push_payment", http.MethodPost, pathWalletPush, params, &result); err != nil {
		return PushResult{}, err
	}
	if !result.ResultCode.Accepted() {
		return result, fmt.Errorf("%w: resultcode=%s message=%q", ErrPushRejected, result.ResultCode, result.Message)
	}
	return result, nil
}

// OrderStatus polls the gateway for the current status of orderID.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (StatusResponse, error) {
	var result StatusResponse
	params := []param{{"order_id", orderID}}
	if err := c.call(ctx, "order_status", http.MethodGet, pathOrderStatus, params, &result); err != nil {
		return StatusResponse{}, err
	}
	return result, nil
}

type param struct {
	key   string
	value string
}

func (c *Client) call(ctx context.Context, op, method, path string, params []param, out any) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		c.observe(op, outcome, time.Since(start))
	}()

	req, err := c.signedRequest(ctx, params)
	if err != nil {
		outcome = "error"
		return fmt.Errorf("selcom %s: %w", op, err)
	}

	err = c.breaker.Execute(ctx, func() error {
		if method == http.MethodGet {
			req.SetQueryParams(paramMap(params))
		} else {
			req.SetBody(paramMap(params))
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return fmt.Errorf("selcom %s: %w", op, err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("selcom %s: gateway returned status %d", op, resp.StatusCode())
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("selcom %s: decode response (status %d): %w", op, resp.StatusCode(), err)
		}
		return nil
	})
	if err != nil {
		outcome = "error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		c.logger.Warn("Selcom request failed", zap.String("operation", op), zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) signedRequest(ctx context.Context, params []param) (*resty.Request, error) {
	names := make([]string, len(params))
	values := make(map[string]any, len(params))
	for i, p := range params {
		names[i] = p.key
		values[p.key] = p.value
	}

	sig, err := Sign(c.apiSecret, c.now().Format(time.RFC3339), names, values)
	if err != nil {
		return nil, err
	}

	return c.http.R().
		SetContext(ctx).
		SetHeader(HeaderAuthorization, authSchemeSelcom+base64.StdEncoding.EncodeToString([]byte(c.apiKey))).
		SetHeader(HeaderDigestMethod, digestMethodHS256).
		SetHeader(HeaderDigest, sig.Digest).
		SetHeader(HeaderTimestamp, sig.Timestamp).
		SetHeader(HeaderSignedFields, sig.SignedFields), nil
}

func paramMap(params []param) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.key] = p.value
	}
	return m
}
