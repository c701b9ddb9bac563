package selcom

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type ResultCode string

const (
	ResultCodeSuccess    ResultCode = "000"
	ResultCodeInProgress ResultCode = "111"
)

// Accepted reports whether a push request was acknowledged. It says nothing about
// whether the payer has paid.
func (c ResultCode) Accepted() bool {
	return c == ResultCodeSuccess || c == ResultCodeInProgress
}

// PaymentStatus is the gateway's order status vocabulary.
type PaymentStatus string

const (
	StatusPending       PaymentStatus = "PENDING"
	StatusInProgress    PaymentStatus = "INPROGRESS"
	StatusCompleted     PaymentStatus = "COMPLETED"
	StatusCancelled     PaymentStatus = "CANCELLED"
	StatusUserCancelled PaymentStatus = "USERCANCELLED"
	StatusRejected      PaymentStatus = "REJECTED"
)

func (s PaymentStatus) Completed() bool {
	return s == StatusCompleted
}

func (s PaymentStatus) Failed() bool {
	return s == StatusCancelled || s == StatusUserCancelled || s == StatusRejected
}

// Message is the payer-facing description of s.
func (s PaymentStatus) Message() string {
	switch s {
	case StatusPending:
		return "Waiting for you to confirm the payment on your phone"
	case StatusInProgress:
		return "Payment is being processed"
	case StatusCompleted:
		return "Payment completed successfully"
	case StatusCancelled:
		return "Payment was cancelled. You can try again"
	case StatusUserCancelled:
		return "Payment was cancelled on your phone. You can try again"
	case StatusRejected:
		return "Payment was rejected by the mobile network. You can try again"
	default:
		return "Payment status is being confirmed"
	}
}

// Amount accepts both JSON numbers and quoted strings; an empty value is zero.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(string(bytes.Trim(b, `"`)))
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", b, err)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Decimal.String())
}

type PushResult struct {
	Result     string     `json:"result"`
	ResultCode ResultCode `json:"resultcode"`
	Reference  string     `json:"reference"`
	Message    string     `json:"message"`
}

type Order struct {
	OrderID    string
	Amount     decimal.Decimal
	Currency   string
	BuyerPhone string
	BuyerName  string
	BuyerEmail string
}

type CreateOrderResult struct {
	Result     string     `json:"result"`
	ResultCode ResultCode `json:"resultcode"`
	Reference  string     `json:"reference"`
	Message    string     `json:"message"`
}

type OrderStatusData struct {
	OrderID       string        `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TransID       string        `json:"transid"`
	Reference     string        `json:"reference"`
	Channel       string        `json:"channel"`
	Amount        Amount        `json:"amount"`
}

type StatusResponse struct {
	Result     string            `json:"result"`
	ResultCode ResultCode        `json:"resultcode"`
	Message    string            `json:"message"`
	Data       []OrderStatusData `json:"data"`
}

// First returns data[0], which carries the order's status.
func (r StatusResponse) First() (OrderStatusData, bool) {
	if len(r.Data) == 0 {
		return OrderStatusData{}, false
	}
	return r.Data[0], true
}

// Callback is the asynchronous payment result posted to the webhook.
type Callback struct {
	Result     string     `json:"result"`
	ResultCode ResultCode `json:"resultcode"`
	OrderID    string     `json:"order_id"`
	TransID    string     `json:"transid"`
	Reference  string     `json:"reference"`
	Channel    string     `json:"channel"`
	MSISDN     string     `json:"msisdn"`
	Amount     Amount     `json:"amount"`
	UtilityRef string     `json:"utilityref,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// Succeeded is true only for result code 000.
func (c Callback) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}
