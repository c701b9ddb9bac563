package selcom

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

const defaultCountryCode = "255"

// NormalizeMSISDN converts a local or international phone number to the
// digits-only international form the gateway expects, e.g. 0712345678 -> 255712345678.
func NormalizeMSISDN(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := strings.TrimPrefix(b.String(), "00")

	switch {
	case len(digits) == 10 && digits[0] == '0':
		digits = defaultCountryCode + digits[1:]
	case len(digits) == 9 && (digits[0] == '6' || digits[0] == '7'):
		digits = defaultCountryCode + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "25") {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
