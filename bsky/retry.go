package bsky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	indigoxrpc "github.com/bluesky-social/indigo/xrpc"
	"github.com/sony/gobreaker"

	"github.com/bskygeo/listkeeper/config"
)

// RetryPolicy wraps every remote call: transient failures (rate limits,
// server errors, broken connections) are retried with exponential backoff
// and jitter, and a run of consecutive failures opens a circuit breaker so
// a long batch stops hammering a service that is down.
type RetryPolicy struct {
	cfg     config.Retry
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewRetryPolicy(cfg config.Retry, logger *slog.Logger) *RetryPolicy {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	threshold := cfg.BreakerThreshold

	p := &RetryPolicy{cfg: cfg, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bsky",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. The error returned is always the last one seen.
func (p *RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := func() error {
		var permanent error
		_, err := p.breaker.Execute(func() (interface{}, error) {
			err := fn(ctx)
			if err != nil && !transient(err) {
				// not a sign of an unhealthy service, keep it out of the counts
				permanent = err
				return nil, nil
			}
			return nil, err
		})
		if permanent != nil {
			return permanent
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrUnavailable, op)
		}
		return err
	}

	return retry.Do(attempt,
		retry.Attempts(p.cfg.MaxAttempts),
		retry.DelayType(p.delay),
		retry.Delay(p.cfg.Delay),
		retry.MaxDelay(p.cfg.MaxDelay),
		retry.MaxJitter(p.cfg.Jitter),
		retry.RetryIf(transient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("retrying request",
				"op", op,
				"attempt", n+1,
				"err", err,
			)
		}),
		retry.Context(ctx),
	)
}

// delay honours the server's rate limit reset when it sent one, otherwise
// backs off exponentially with jitter.
func (p *RetryPolicy) delay(n uint, err error, cfg *retry.Config) time.Duration {
	var xrpcerr *indigoxrpc.Error
	if errors.As(err, &xrpcerr) && xrpcerr.Ratelimit != nil {
		if wait := time.Until(xrpcerr.Ratelimit.Reset); wait > 0 {
			if p.cfg.MaxDelay > 0 && wait > p.cfg.MaxDelay {
				wait = p.cfg.MaxDelay
			}
			return wait
		}
	}
	if p.cfg.Jitter <= 0 {
		return retry.BackOffDelay(n, err, cfg)
	}
	return retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)(n, err, cfg)
}

// State reports the breaker state, for doctor output.
func (p *RetryPolicy) State() string {
	return p.breaker.State().String()
}
