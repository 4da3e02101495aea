// Package campaign runs the daily cycle: sync the sources, plan today's
// link and destinations, authenticate the actor, post to each destination
// once, then sleep until the next day.
//
// The loop is a single sequential worker. Destinations are processed one at
// a time and cancellation is observed between cycles and between
// destinations, never in the middle of a post.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"campaignd/internal/actor"
	"campaignd/internal/attempt"
	"campaignd/internal/clock"
	"campaignd/internal/link"
	"campaignd/internal/rotation"
	"campaignd/internal/runtime/supervisor"
	"campaignd/internal/session"
	"campaignd/internal/sources"
	"campaignd/internal/storage"
	logx "campaignd/pkg/logx"
)

// ErrEmptyPlan is reported when today's link or destination pool is empty.
var ErrEmptyPlan = errors.New("nothing to post today")

// Planner extracts today's link and the destination pool from synced files.
// sources.Parser satisfies it.
type Planner interface {
	ExtractLink(path string, dayOfMonth int) (string, bool, error)
	ExtractPool(path string) ([]string, error)
}

type Config struct {
	DailyLimit int
	MaxPool    int
	MaxRetries int

	PostDelayMin time.Duration
	PostDelayMax time.Duration
	FailureDelay time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	SyncRetry time.Duration
	AuthRetry time.Duration

	Wake     cron.Schedule
	Warmup   bool
	Identity string
	Session  session.Config

	// Jitter picks a duration in [lo, hi). nil uses attempt.Uniform.
	Jitter func(lo, hi time.Duration) time.Duration
}

type Deps struct {
	Syncer    sources.Syncer
	Planner   Planner
	Ledger    storage.Ledger
	Actors    actor.Factory
	Artifacts session.ArtifactStore
	Login     actor.Login
	Clock     clock.Clock
	Log       logx.Logger

	// OnState, if set, is called on every phase change.
	OnState func(State)
}

// Report describes one cycle.
type Report struct {
	Link      string
	Window    rotation.Window
	Succeeded int
	Failed    int
	Skipped   int
	// Abandoned is the phase the cycle gave up in, Idle when it completed.
	Abandoned State
	Reason    error
	Slept     time.Duration
}

// Loop owns the long-lived state of the worker. The actor handle and its
// session monitor live only for the posting phase of one cycle.
type Loop struct {
	cfg   Config
	deps  Deps
	sched *rotation.Scheduler
	log   logx.Logger
	state atomic.Int32
}

func New(cfg Config, deps Deps) (*Loop, error) {
	switch {
	case deps.Syncer == nil:
		return nil, errors.New("campaign: syncer is required")
	case deps.Planner == nil:
		return nil, errors.New("campaign: planner is required")
	case deps.Ledger == nil:
		return nil, errors.New("campaign: ledger is required")
	case deps.Actors == nil:
		return nil, errors.New("campaign: actor factory is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if cfg.Jitter == nil {
		cfg.Jitter = attempt.Uniform
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 40
	}
	if cfg.SyncRetry <= 0 {
		cfg.SyncRetry = time.Hour
	}
	if cfg.AuthRetry <= 0 {
		cfg.AuthRetry = 10 * time.Minute
	}
	log := deps.Log.With(logx.String("comp", "campaign"))
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		sched: rotation.New(deps.Ledger, deps.Log),
		log:   log,
	}, nil
}

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) {
	if State(l.state.Swap(int32(s))) == s {
		return
	}
	l.log.Debug("phase", logx.String("state", s.String()))
	if l.deps.OnState != nil {
		l.deps.OnState(s)
	}
}

// Run cycles until ctx is canceled. It returns only on cancellation (nil)
// or when a cycle fails in a way the loop does not handle itself; storage
// failures among those are wrapped with supervisor.Fatal.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(Idle)
	for ctx.Err() == nil {
		if _, err := l.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}
	l.log.Info("campaign loop stopped")
	return nil
}

// RunCycle runs one full cycle, including the sleep that ends it.
func (l *Loop) RunCycle(ctx context.Context) (Report, error) {
	var rep Report

	l.setState(Syncing)
	if err := l.deps.Syncer.Sync(ctx); err != nil {
		l.log.Error("source sync failed; retrying later", logx.Err(err), logx.Duration("retry_in", l.cfg.SyncRetry))
		return l.abandon(ctx, rep, Syncing, err, l.cfg.SyncRetry), nil
	}

	l.setState(Planning)
	base, pool, err := l.plan()
	if err != nil {
		l.log.Warn("no plan for today; retrying later", logx.Err(err), logx.Duration("retry_in", l.cfg.SyncRetry))
		return l.abandon(ctx, rep, Planning, err, l.cfg.SyncRetry), nil
	}
	rep.Link = base

	// The advanced cursor is committed before any post.
	w, err := l.sched.SelectToday(ctx, pool, l.cfg.DailyLimit)
	if err != nil {
		return rep, supervisor.Fatal(err)
	}
	rep.Window = w
	l.log.Info("daily plan",
		logx.String("link", base),
		logx.Int("pool", len(pool)),
		logx.Int("selected", len(w.Subset)),
		logx.Int("start", w.Start),
		logx.Int("next", w.Next),
	)

	rep, err = l.post(ctx, rep)
	if err != nil {
		return rep, err
	}
	if rep.Abandoned != Idle {
		return l.abandon(ctx, rep, rep.Abandoned, rep.Reason, l.cfg.AuthRetry), nil
	}
	if ctx.Err() != nil {
		return rep, nil
	}

	l.summarize(ctx, rep)

	l.setState(Sleeping)
	now := l.deps.Clock.Now()
	wake := NextWake(now, l.cfg.Wake)
	rep.Slept = SleepUntil(now, wake)
	l.log.Info("cycle complete; sleeping until next day",
		logx.Time("wake_at", wake),
		logx.Duration("sleep", rep.Slept),
	)
	_ = l.deps.Clock.Sleep(ctx, rep.Slept)
	return rep, nil
}

func (l *Loop) abandon(ctx context.Context, rep Report, at State, reason error, wait time.Duration) Report {
	rep.Abandoned = at
	rep.Reason = reason
	rep.Slept = wait
	l.setState(Sleeping)
	_ = l.deps.Clock.Sleep(ctx, wait)
	return rep
}

func (l *Loop) plan() (string, []string, error) {
	day := l.deps.Clock.Now().Day()
	base, ok, err := l.deps.Planner.ExtractLink(l.deps.Syncer.DocumentPath(), day)
	if err != nil {
		return "", nil, fmt.Errorf("extract link: %w", err)
	}
	if !ok || base == "" {
		return "", nil, fmt.Errorf("%w: no link for day %d", ErrEmptyPlan, day)
	}
	pool, err := l.deps.Planner.ExtractPool(l.deps.Syncer.ListPath())
	if err != nil {
		return "", nil, fmt.Errorf("extract destinations: %w", err)
	}
	if len(pool) == 0 {
		return "", nil, fmt.Errorf("%w: destination list is empty", ErrEmptyPlan)
	}
	if l.cfg.MaxPool > 0 && len(pool) > l.cfg.MaxPool {
		l.log.Info("destination pool capped", logx.Int("found", len(pool)), logx.Int("max_pool", l.cfg.MaxPool))
		pool = pool[:l.cfg.MaxPool]
	}
	return base, pool, nil
}

// post runs the authenticating and posting phases with one actor instance.
// A session failure sets rep.Abandoned; only storage failures are returned.
func (l *Loop) post(ctx context.Context, rep Report) (Report, error) {
	l.setState(Authenticating)
	act, err := l.deps.Actors.New(ctx)
	if err != nil {
		l.log.Error("actor start failed", logx.Err(err))
		rep.Abandoned, rep.Reason = Authenticating, err
		return rep, nil
	}
	defer func() {
		if err := act.Close(); err != nil {
			l.log.Warn("actor close failed", logx.Err(err))
		}
	}()

	mon := session.NewMonitor(act, l.deps.Login, l.deps.Artifacts, l.deps.Clock, l.cfg.Session, l.deps.Log)
	if _, err := mon.Establish(ctx); err != nil {
		l.log.Error("authentication failed; abandoning cycle", logx.Err(err), logx.Duration("retry_in", l.cfg.AuthRetry))
		rep.Abandoned, rep.Reason = Authenticating, err
		return rep, nil
	}
	if l.cfg.Warmup {
		if w, ok := act.(actor.Warmer); ok {
			if err := w.Warmup(ctx); err != nil {
				l.log.Warn("warmup failed", logx.Err(err))
			}
		}
	}
	l.switchIdentity(ctx, act)

	ctl := attempt.New(act, mon, l.deps.Clock, attempt.Config{
		MaxRetries: l.cfg.MaxRetries,
		BackoffMin: l.cfg.BackoffMin,
		BackoffMax: l.cfg.BackoffMax,
		Jitter:     l.cfg.Jitter,
	}, l.deps.Log)

	l.setState(Posting)
	fp := link.Fingerprint(rep.Link)
	total := len(rep.Window.Subset)
	for i, dest := range rep.Window.Subset {
		if ctx.Err() != nil {
			l.log.Info("stopping between destinations", logx.Int("done", i), logx.Int("total", total))
			return rep, nil
		}
		log := l.log.With(logx.String("destination", dest), logx.String("progress", fmt.Sprintf("%d/%d", i+1, total)))

		done, err := l.deps.Ledger.HasSucceededToday(ctx, dest, fp)
		if err != nil {
			if ctx.Err() != nil {
				return rep, nil
			}
			return rep, supervisor.Fatal(fmt.Errorf("ledger lookup: %w", err))
		}
		if done {
			log.Info("already posted today; skipping")
			rep.Skipped++
			continue
		}

		if mon.IsExpired(ctx) {
			log.Warn("session expired; refreshing")
			if _, err := mon.Refresh(ctx); err != nil {
				log.Error("re-authentication failed; abandoning cycle", logx.Err(err))
				rep.Abandoned, rep.Reason = Posting, err
				return rep, nil
			}
			l.switchIdentity(ctx, act)
		}

		rendered := link.Render(rep.Link, l.deps.Clock.Now())
		log.Info("posting", logx.String("link", rendered))
		res, err := ctl.Attempt(ctx, dest, rendered)
		if err != nil {
			// Canceled in a backoff wait: nothing terminal to record.
			return rep, nil
		}
		rec := storage.Record{
			RenderedLink: rendered,
			Fingerprint:  fp,
			Destination:  dest,
			Outcome:      string(res.Outcome),
			Success:      res.Outcome.IsSuccess(),
			Attempts:     res.Attempts,
		}
		// A finished post is recorded even when shutdown has begun.
		if err := l.deps.Ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
			return rep, supervisor.Fatal(fmt.Errorf("ledger record: %w", err))
		}

		var pause time.Duration
		if rec.Success {
			rep.Succeeded++
			pause = l.cfg.Jitter(l.cfg.PostDelayMin, l.cfg.PostDelayMax)
			log.Info("posted", logx.String("outcome", rec.Outcome), logx.Int("attempts", res.Attempts), logx.Int("today", rep.Succeeded), logx.Duration("pause", pause))
		} else {
			rep.Failed++
			pause = l.cfg.FailureDelay
			log.Warn("post failed", logx.String("outcome", rec.Outcome), logx.Int("attempts", res.Attempts), logx.String("class", res.Outcome.Class().String()))
		}
		if err := l.deps.Clock.Sleep(ctx, pause); err != nil {
			return rep, nil
		}
	}
	return rep, nil
}

func (l *Loop) switchIdentity(ctx context.Context, act actor.Actor) {
	if l.cfg.Identity == "" {
		return
	}
	sw, ok := act.(actor.IdentitySwitcher)
	if !ok {
		return
	}
	if err := sw.SwitchIdentity(ctx, l.cfg.Identity); err != nil {
		l.log.Warn("identity switch failed; posting as the logged-in account", logx.String("identity", l.cfg.Identity), logx.Err(err))
	}
}

func (l *Loop) summarize(ctx context.Context, rep Report) {
	sum, err := l.deps.Ledger.DailySummary(ctx)
	if err != nil {
		l.log.Warn("daily summary unavailable", logx.Err(err))
		return
	}
	keys := make([]string, 0, len(sum))
	total := 0
	for k, n := range sum {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)
	fields := []logx.Field{
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", rep.Failed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("ledger_total", total),
	}
	for _, k := range keys {
		fields = append(fields, logx.Int("outcome."+k, sum[k]))
	}
	l.log.Info("daily summary", fields...)
}
