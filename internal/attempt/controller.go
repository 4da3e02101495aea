// Package attempt drives one destination post through the actor with
// failure classification and exponential backoff.
package attempt

import (
	"context"
	"math/rand/v2"
	"time"

	"campaignd/internal/actor"
	"campaignd/internal/clock"
	logx "campaignd/pkg/logx"
)

// Refresher re-establishes the actor session between tries.
// *session.Monitor satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (actor.SessionState, error)
}

type Config struct {
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	// Jitter returns a duration in [lo, hi). nil uses math/rand/v2.
	Jitter func(lo, hi time.Duration) time.Duration
}

// Result is the terminal outcome of one attempt.
type Result struct {
	Outcome  actor.Outcome
	Attempts int
}

type Controller struct {
	act     actor.Actor
	refresh Refresher
	clk     clock.Clock
	cfg     Config
	log     logx.Logger
}

func New(a actor.Actor, refresh Refresher, clk clock.Clock, cfg Config, log logx.Logger) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 10 * time.Second
	}
	// Waits grow strictly only while the jitter range stays within one doubling.
	cfg.BackoffMax = min(max(cfg.BackoffMax, cfg.BackoffMin), 2*cfg.BackoffMin)
	if cfg.Jitter == nil {
		cfg.Jitter = Uniform
	}
	return &Controller{
		act:     a,
		refresh: refresh,
		clk:     clk,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "attempt")),
	}
}

// Uniform returns a random duration in [lo, hi).
func Uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

// Backoff is the wait after a failed try number n (1-based):
// 2^n times a jittered base in [BackoffMin, BackoffMax).
func (c *Controller) Backoff(n int) time.Duration {
	return time.Duration(1<<uint(n)) * c.cfg.Jitter(c.cfg.BackoffMin, c.cfg.BackoffMax)
}

// Attempt posts link to destination, retrying transient failures. The only
// error it returns is the context's, when cancellation lands in a backoff
// wait; in that case nothing terminal happened and nothing should be
// recorded.
//
// A started PostOnce is never cut short by cancellation.
func (c *Controller) Attempt(ctx context.Context, destination, link string) (Result, error) {
	log := c.log.With(logx.String("destination", destination))
	var last actor.Outcome

	for n := 1; n <= c.cfg.MaxRetries; n++ {
		final := n == c.cfg.MaxRetries

		out, err := c.act.PostOnce(context.WithoutCancel(ctx), destination, link)
		if err != nil {
			log.Warn("post try raised", logx.Int("try", n), logx.Err(err))
			if final {
				return Result{Outcome: actor.ExceptionExhausted, Attempts: n}, nil
			}
			last = actor.Exception
		} else {
			switch out.Class() {
			case actor.ClassSuccess:
				if out == actor.SuccessUnconfirmed {
					log.Warn("post likely succeeded but was not confirmed", logx.Int("try", n))
				}
				return Result{Outcome: out, Attempts: n}, nil
			case actor.ClassFatal:
				log.Warn("fatal outcome; not retrying", logx.String("outcome", string(out)), logx.Int("try", n))
				return Result{Outcome: out, Attempts: n}, nil
			}
			last = out
			if final {
				break
			}
		}

		wait := c.Backoff(n)
		log.Info("retrying after transient failure",
			logx.String("outcome", string(last)),
			logx.Int("try", n),
			logx.Int("max", c.cfg.MaxRetries),
			logx.Duration("wait", wait),
		)
		if err := c.clk.Sleep(ctx, wait); err != nil {
			return Result{Attempts: n}, err
		}
		if c.refresh != nil {
			if _, err := c.refresh.Refresh(ctx); err != nil {
				log.Warn("session refresh before retry failed", logx.Err(err))
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{Attempts: n}, err
		}
	}

	return Result{Outcome: actor.Exhausted(last), Attempts: c.cfg.MaxRetries}, nil
}
