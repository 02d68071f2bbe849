package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestHealthCheckDelay(t *testing.T) {
	base := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 150 * time.Second},
		{9, 150 * time.Second},
		{-1, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := HealthCheckDelay(tc.attempt, base); got != tc.want {
			t.Fatalf("HealthCheckDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "cancelled"},
		{&StatusError{Backend: "whisper", Code: 503}, "upstream_unavailable"},
		{fmt.Errorf("call: %w", &StatusError{Backend: "tts", Code: 400, Body: "bad voice"}), "upstream_rejected"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		if got := FailureReason(tc.err); got != tc.want {
			t.Fatalf("FailureReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
