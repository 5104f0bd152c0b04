package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// Middleware decorates a Client.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order:
// Wrap(inner, A, B) => A(B(inner)).
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// callFunc lets a middleware run the same logic around both capabilities.
type callFunc func(ctx context.Context) error

type decorated struct {
	next   Client
	around func(ctx context.Context, op string, call callFunc) error
}

func (d *decorated) Name() string { return d.next.Name() }

func (d *decorated) Generate(ctx context.Context, system, user string) (string, error) {
	var out string
	err := d.around(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = d.next.Generate(ctx, system, user)
		return err
	})
	return out, err
}

func (d *decorated) Extract(ctx context.Context, system, user string, schema Schema) (map[string]string, error) {
	var out map[string]string
	err := d.around(ctx, "extract", func(ctx context.Context) error {
		var err error
		out, err = d.next.Extract(ctx, system, user, schema)
		return err
	})
	return out, err
}

// Timeout bounds every call by d. An expired deadline is reported as
// ErrUnavailable unless the caller's own context ended first.
func Timeout(d time.Duration) Middleware {
	return func(next Client) Client {
		if d <= 0 {
			return next
		}
		return &decorated{next: next, around: func(ctx context.Context, op string, call callFunc) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := call(cctx)
			if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s timed out after %s", ErrUnavailable, op, d)
			}
			return err
		}}
	}
}

// RateLimit waits for a token before each call. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		lim := rate.NewLimiter(rate.Limit(rps), burst)
		return &decorated{next: next, around: func(ctx context.Context, op string, call callFunc) error {
			if err := lim.Wait(ctx); err != nil {
				return fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
			}
			return call(ctx)
		}}
	}
}

// Retry makes up to maxAttempts calls with exponential backoff starting at
// baseDelay. Context errors and ErrUnavailable are not retried.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Client) Client {
		return &decorated{next: next, around: func(ctx context.Context, op string, call callFunc) error {
			var last error
			for i := 0; i < maxAttempts; i++ {
				last = call(ctx)
				if last == nil || errors.Is(last, ErrUnavailable) || ctx.Err() != nil {
					return last
				}
				if i == maxAttempts-1 {
					break
				}
				t := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
			return last
		}}
	}
}

// WithLogging logs each call at debug and failures at warn.
func WithLogging(log logrus.FieldLogger) Middleware {
	log = logging.OrDiscard(log)
	return func(next Client) Client {
		return &decorated{next: next, around: func(ctx context.Context, op string, call callFunc) error {
			start := time.Now()
			err := call(ctx)
			entry := log.WithFields(logrus.Fields{
				"llm":         next.Name(),
				"op":          op,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if err != nil {
				entry.WithError(err).Warn("llm: call failed")
			} else {
				entry.Debug("llm: call")
			}
			return err
		}}
	}
}
