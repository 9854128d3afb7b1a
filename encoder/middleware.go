package encoder

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klejdi94/xsim/core"
	"github.com/sirupsen/logrus"
)

// Middleware wraps an encoder with additional behaviour.
type Middleware func(Encoder) Encoder

// Chain wraps e with all middlewares in order (first middleware is outermost).
func Chain(e Encoder, mws ...Middleware) Encoder {
	for i := len(mws) - 1; i >= 0; i-- {
		e = mws[i](e)
	}
	return e
}

// Logging logs every encode call with its duration.
func Logging(logger logrus.FieldLogger) Middleware {
	return func(next Encoder) Encoder {
		return Func(func(ctx context.Context, in, out string) error {
			start := time.Now()
			l := logger.WithFields(logrus.Fields{"input": in, "output": out})
			l.Info("encoding")
			if err := next.Encode(ctx, in, out); err != nil {
				l.WithError(err).Error("encoding failed")
				return err
			}
			l.WithField("took", time.Since(start).String()).Debug("encoded")
			return nil
		})
	}
}

// Retry retries failed encodes with the policy from newBackOff. Verification
// failures and cancellation are not retried, nor are HTTP client errors.
func Retry(newBackOff func() backoff.BackOff) Middleware {
	return func(next Encoder) Encoder {
		return Func(func(ctx context.Context, in, out string) error {
			op := func() error {
				err := next.Encode(ctx, in, out)
				if err == nil {
					return nil
				}
				if ctx.Err() != nil || !retryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			return backoff.Retry(op, backoff.WithContext(newBackOff(), ctx))
		})
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, core.ErrDimensionMismatch)
}

// Verified checks the output of every encode with Verify.
func Verified(dim int, prec core.Precision) Middleware {
	return func(next Encoder) Encoder {
		return Func(func(ctx context.Context, in, out string) error {
			if err := next.Encode(ctx, in, out); err != nil {
				return err
			}
			return Verify(out, dim, prec)
		})
	}
}

// SkipExisting reuses an output file that already passes Verify, so a
// persistent embed dir is encoded once across runs.
func SkipExisting(dim int, prec core.Precision, logger logrus.FieldLogger) Middleware {
	return func(next Encoder) Encoder {
		return Func(func(ctx context.Context, in, out string) error {
			if Verify(out, dim, prec) == nil {
				logger.WithField("output", out).Info("reusing existing embeddings")
				return nil
			}
			return next.Encode(ctx, in, out)
		})
	}
}

// Counters exposes the numbers collected by Metrics.
type Counters struct {
	calls  atomic.Uint64
	errors atomic.Uint64
}

func (c *Counters) Calls() uint64  { return c.calls.Load() }
func (c *Counters) Errors() uint64 { return c.errors.Load() }

// Metrics counts encode calls and failures.
func Metrics() (Middleware, *Counters) {
	c := &Counters{}
	return func(next Encoder) Encoder {
		return Func(func(ctx context.Context, in, out string) error {
			c.calls.Add(1)
			err := next.Encode(ctx, in, out)
			if err != nil {
				c.errors.Add(1)
			}
			return err
		})
	}, c
}
