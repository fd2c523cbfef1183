// Package retry runs outbound HTTP calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often a transient failure is retried.
type Policy struct {
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxElapsedTime time.Duration
}

// None performs a single attempt.
var None = Policy{}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxElapsedTime: 30 * time.Second,
	}
}

// StatusError is a non-2xx response; Body is kept verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx response (status %d): %s", e.StatusCode, e.Body)
}

// Transient reports whether a retry could plausibly succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Do runs op until it succeeds, returns a permanent error, or the policy
// is exhausted. Errors wrapped with Permanent, non-transient StatusErrors
// and context errors stop immediately.
func Do(ctx context.Context, p Policy, op func() error) error {
	var bo backoff.BackOff
	if p.MaxRetries == 0 {
		bo = &backoff.StopBackOff{}
	} else {
		exp := backoff.NewExponentialBackOff()
		if p.InitialBackoff > 0 {
			exp.InitialInterval = p.InitialBackoff
		}
		exp.MaxElapsedTime = p.MaxElapsedTime
		bo = backoff.WithMaxRetries(exp, p.MaxRetries)
	}
	bo = backoff.WithContext(bo, ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Send executes the request built by newReq under the policy and returns
// the body of the first 2xx response. newReq is called per attempt so the
// request body can be replayed.
func Send(ctx context.Context, client *http.Client, p Policy, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	err := Do(ctx, p, func() error {
		req, err := newReq(ctx)
		if err != nil {
			return Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
