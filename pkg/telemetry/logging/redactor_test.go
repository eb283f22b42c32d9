package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestRedactString(t *testing.T) {
	r, err := NewRedactor(nil)
	if err != nil {
		t.Fatalf("NewRedactor() failed: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "sent to a.driver@fleet.io", "sent to ***@***"},
		{"phone dashes", "sms 555-123-4567 failed", "sms ***-***-**** failed"},
		{"phone intl", "call +1 555.123.4567", "call ***-***-****"},
		{"bearer", "Authorization: Bearer eyJhbGciOi.x-y", "Authorization: Bearer ***"},
		{"password", "password=s3cret rest", "password=*** rest"},
		{"api key", "api_key: ABCD1234", "api_key=***"},
		{"plain", "vehicle v-12 exceeded 11h", "vehicle v-12 exceeded 11h"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactString(tt.in); got != tt.want {
				t.Errorf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactAttr(t *testing.T) {
	r, err := NewRedactor(nil)
	if err != nil {
		t.Fatalf("NewRedactor() failed: %v", err)
	}

	if got := r.RedactAttr(slog.String("api_key", "short")); got.Value.String() != "***" {
		t.Errorf("short sensitive value = %q", got.Value.String())
	}
	if got := r.RedactAttr(slog.Int("retries", 3)); got.Value.Int64() != 3 {
		t.Errorf("non-string attr changed: %v", got)
	}
	if got := r.RedactAttr(slog.Any("error", errors.New("deliver to x@y.com"))); got.Value.String() != "deliver to ***@***" {
		t.Errorf("error attr = %q", got.Value.String())
	}

	group := r.RedactAttr(slog.Group("driver", slog.String("id", "d-1"), slog.String("email", "d@fleet.io")))
	attrs := group.Value.Group()
	if len(attrs) != 2 || attrs[0].Value.String() != "d-1" || attrs[1].Value.String() != "d@fl***" {
		t.Errorf("group = %v", attrs)
	}
}
