package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// StatusError reports a non-success HTTP status from a provider. Clients
// return it instead of a flat string so the classification below can look at
// the code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote status %d", e.Code)
	}
	return fmt.Sprintf("remote status %d: %s", e.Code, e.Message)
}

// classifier is one row of the retryability table. The table is exported
// through Retryable so the boundary stays independently testable.
type classifier struct {
	name  string
	match func(error) bool
}

var retryableClassifiers = []classifier{
	{name: "timeout", match: isTimeout},
	{name: "throttled_status", match: isThrottledStatus},
	{name: "throttled_signature", match: isThrottledSignature},
}

// Signatures providers use to report throttling in message bodies.
var throttleSignatures = []string{
	"resource exhausted",
	"resource_exhausted",
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota exceeded",
}

// Retryable reports whether the failure is transient per the classification
// table: provider throttling or a timeout. Everything else is fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range retryableClassifiers {
		if c.match(err) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isThrottledStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 429
}

func isThrottledSignature(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range throttleSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Call runs op under a deadline. The op receives the derived context and must
// honor it; when the deadline elapses, the in-flight request is aborted and
// the resulting error classifies as retryable.
func Call(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := op(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("call timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	return err
}

// CallValue is Call for operations that produce a result.
func CallValue[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Call(ctx, timeout, func(callCtx context.Context) error {
		v, opErr := op(callCtx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	return out, err
}
