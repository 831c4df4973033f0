package httpx

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"429", statusErr(429), true},
		{"503", fmt.Errorf("wrapped: %w", statusErr(503)), true},
		{"400", statusErr(400), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestBackoff(t *testing.T) {
	base := 10 * time.Second
	if got := Backoff(base, 1, 0); got != base {
		t.Fatalf("attempt 1: want=%s got=%s", base, got)
	}
	if got := Backoff(base, 3, 0); got != 40*time.Second {
		t.Fatalf("attempt 3: want=40s got=%s", got)
	}
	if got := Backoff(base, 10, time.Minute); got != time.Minute {
		t.Fatalf("capped: want=1m got=%s", got)
	}
	if got := Backoff(0, 3, 0); got != 0 {
		t.Fatalf("zero base: want=0 got=%s", got)
	}
}
