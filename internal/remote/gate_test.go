package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net timeout", fakeTimeoutErr{}, true},
		{"status 429", &StatusError{Code: 429}, true},
		{"wrapped 429", fmt.Errorf("provider: %w", &StatusError{Code: 429, Message: "slow down"}), true},
		{"resource exhausted", errors.New("rpc error: RESOURCE_EXHAUSTED: quota"), true},
		{"rate limit text", errors.New("provider rate limit reached"), true},
		{"status 500", &StatusError{Code: 500, Message: "boom"}, false},
		{"status 401", &StatusError{Code: 401, Message: "bad key"}, false},
		{"plain failure", errors.New("malformed response"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCallTimeoutClassifiesRetryable(t *testing.T) {
	err := Call(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !Retryable(err) {
		t.Fatalf("timeout should classify as retryable, got %v", err)
	}
}

func TestCallPassesThroughSuccess(t *testing.T) {
	got, err := CallValue(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q, want ok", got)
	}
}

func TestCallFatalPropagatesUncategorized(t *testing.T) {
	cause := errors.New("parse failure")
	err := Call(context.Background(), time.Second, func(ctx context.Context) error {
		return cause
	})
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped %v", err, cause)
	}
	if Retryable(err) {
		t.Fatalf("fatal error must not classify retryable")
	}
}

func TestCallCallerCancelNotRewritten(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Call(ctx, time.Second, func(callCtx context.Context) error {
		return callCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
