package selcom

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderDigestMethod  = "Digest-Method"
	HeaderDigest        = "Digest"
	HeaderTimestamp     = "Timestamp"
	HeaderSignedFields  = "Signed-Fields"

	digestMethodHS256 = "HS256"

	DefaultMaxClockSkew = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleSignature   = errors.New("signature timestamp outside allowed clock skew")
)

// requiredSignedFields are the callback fields a payment decision is made on.
var requiredSignedFields = []string{"order_id", "resultcode", "transid"}

type field struct {
	key   string
	value string
}

// digest returns base64(HMAC-SHA256(secret, "timestamp=ts&f1=v1&f2=v2...")).
func digest(secret, timestamp string, fields []field) string {
	var b strings.Builder
	b.WriteString("timestamp=")
	b.WriteString(timestamp)
	for _, f := range fields {
		b.WriteByte('&')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(f.value)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignatureHeaders are the authentication headers sent with a callback.
type SignatureHeaders struct {
	Timestamp    string
	Digest       string
	SignedFields string
}

// Sign computes the signature headers over the named fields of values, in order.
func Sign(secret, timestamp string, names []string, values map[string]any) (SignatureHeaders, error) {
	fields := make([]field, 0, len(names))
	for _, name := range names {
		value, err := fieldValue(values[name])
		if err != nil {
			return SignatureHeaders{}, fmt.Errorf("field %s: %w", name, err)
		}
		fields = append(fields, field{key: name, value: value})
	}

	return SignatureHeaders{
		Timestamp:    timestamp,
		Digest:       digest(secret, timestamp, fields),
		SignedFields: strings.Join(names, ","),
	}, nil
}

// Verifier authenticates gateway callbacks with the shared API secret.
// With an empty secret verification is skipped; that mode exists for local
// development only and is logged on every call.
type Verifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

type VerifierOption func(*Verifier)

// WithMaxClockSkew bounds how far a callback's Timestamp may be from the local
// clock. Zero or less turns the check off.
func WithMaxClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxSkew = d
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

func NewVerifier(secret string, logger *zap.Logger, opts ...VerifierOption) *Verifier {
	if secret == "" {
		logger.Warn("Selcom webhook signature verification is DISABLED: no API secret configured")
	}
	v := &Verifier{
		secret:  secret,
		maxSkew: DefaultMaxClockSkew,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

// Verify recomputes the digest over the signed fields of body and compares it
// with the Digest header in constant time. The signed fields must cover
// order_id, resultcode and transid, and the timestamp must be within the
// allowed clock skew.
func (v *Verifier) Verify(h SignatureHeaders, body map[string]any) error {
	if !v.Enabled() {
		v.logger.Warn("Skipping webhook signature verification", zap.String("reason", "no secret configured"))
		return nil
	}

	if h.Timestamp == "" || h.Digest == "" || h.SignedFields == "" {
		return ErrMissingSignature
	}

	var names []string
	signed := make(map[string]bool)
	for _, name := range strings.Split(h.SignedFields, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
			signed[name] = true
		}
	}
	for _, name := range requiredSignedFields {
		if !signed[name] {
			return fmt.Errorf("%w: field %s is not signed", ErrInvalidSignature, name)
		}
	}

	expected, err := Sign(v.secret, h.Timestamp, names, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !hmac.Equal([]byte(expected.Digest), []byte(h.Digest)) {
		return ErrInvalidSignature
	}

	return v.checkFreshness(h.Timestamp)
}

func (v *Verifier) checkFreshness(timestamp string) error {
	if v.maxSkew <= 0 {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q: %v", ErrInvalidSignature, timestamp, err)
	}
	skew := v.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("%w: %s", ErrStaleSignature, skew.Round(time.Second))
	}
	return nil
}

// fieldValue renders a decoded JSON value the way it appeared on the wire.
// body must be decoded with UseNumber so numbers keep their original text.
func fieldValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
