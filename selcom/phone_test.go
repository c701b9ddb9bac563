package selcom

import (
	"errors"
	"testing"
)

func TestNormalizeMSISDN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0712345678", "255712345678"},
		{"0655 123 456", "255655123456"},
		{"+255712345678", "255712345678"},
		{"255712345678", "255712345678"},
		{"00255712345678", "255712345678"},
		{"712345678", "255712345678"},
		{"+254 712-345-678", "254712345678"},
	}

	for _, tt := range tests {
		got, err := NormalizeMSISDN(tt.in)
		if err != nil {
			t.Errorf("NormalizeMSISDN(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeMSISDN(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeMSISDN_Invalid(t *testing.T) {
	for _, in := range []string{"", "12345", "07123456789", "0712abc678", "+1 415 555 0100", "812345678"} {
		if _, err := NormalizeMSISDN(in); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("NormalizeMSISDN(%q) expected ErrInvalidPhone, got %v", in, err)
		}
	}
}
