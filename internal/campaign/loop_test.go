package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignd/internal/actor"
	"campaignd/internal/actor/actortest"
	"campaignd/internal/clock"
	"campaignd/internal/link"
	"campaignd/internal/runtime/supervisor"
	"campaignd/internal/session"
	"campaignd/internal/storage"
	logx "campaignd/pkg/logx"
)

const baseLink = "https://social.example/page/posts/42"

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	err   error
	calls int
}

func (f *fakeSyncer) Sync(ctx context.Context) error { f.calls++; return f.err }
func (f *fakeSyncer) DocumentPath() string           { return "doc.docx" }
func (f *fakeSyncer) ListPath() string               { return "list.txt" }

type fixedPlanner struct {
	link string
	pool []string
	err  error
	days []int
}

func (p *fixedPlanner) ExtractLink(path string, day int) (string, bool, error) {
	p.days = append(p.days, day)
	return p.link, p.link != "", p.err
}

func (p *fixedPlanner) ExtractPool(path string) ([]string, error) { return p.pool, nil }

type harness struct {
	loop    *Loop
	clk     *clock.Fake
	ledger  storage.Ledger
	stub    *actortest.Stub
	syncer  *fakeSyncer
	planner *fixedPlanner
	made    int
	states  []State
}

func pool(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Group%02d", i)
	}
	return out
}

func newHarness(t *testing.T, destinations []string, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewFake(start),
		stub:    &actortest.Stub{DefaultProbe: actor.Probe{LoggedIn: true}},
		syncer:  &fakeSyncer{},
		planner: &fixedPlanner{link: baseLink, pool: destinations},
	}
	l, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "ledger.db"), Now: h.clk.Now}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	h.ledger = l

	wake, err := cron.ParseStandard("1 0 * * *")
	require.NoError(t, err)
	cfg := Config{
		DailyLimit:   5,
		MaxPool:      150,
		MaxRetries:   3,
		PostDelayMin: 180 * time.Second,
		PostDelayMax: 400 * time.Second,
		FailureDelay: 30 * time.Second,
		BackoffMin:   10 * time.Second,
		BackoffMax:   20 * time.Second,
		SyncRetry:    time.Hour,
		AuthRetry:    10 * time.Minute,
		Wake:         wake,
		Session:      session.Config{LoginTimeout: 30 * time.Second, PollInterval: 10 * time.Second, ScreenshotDir: t.TempDir()},
		Jitter:       func(lo, hi time.Duration) time.Duration { return lo },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.loop, err = New(cfg, Deps{
		Syncer:  h.syncer,
		Planner: h.planner,
		Ledger:  l,
		Actors: actor.FactoryFunc(func(ctx context.Context) (actor.Actor, error) {
			h.made++
			return h.stub, nil
		}),
		Login:   actor.Login{Email: "ops@example.com", Password: "pw"},
		Clock:   h.clk,
		Log:     logx.Nop(),
		OnState: func(s State) { h.states = append(h.states, s) },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) postedTo() []string {
	out := make([]string, 0, len(h.stub.Posts))
	for _, p := range h.stub.Posts {
		out = append(out, p.Destination)
	}
	return out
}

func TestCycleWrapsAroundAndSleepsUntilTomorrow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, pool(10), nil)
	require.NoError(t, h.ledger.SetCursor(ctx, 8))

	rep, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"Group08", "Group09", "Group00", "Group01", "Group02"}, h.postedTo())
	assert.Equal(t, 5, rep.Succeeded)
	assert.Equal(t, Idle, rep.Abandoned)
	assert.True(t, h.stub.Closed)
	assert.Equal(t, []int{1}, h.planner.days)

	cur, err := h.ledger.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cur)

	// Five inter-post pauses, then the sleep until 00:01 tomorrow.
	sleeps := h.clk.Sleeps()
	require.Len(t, sleeps, 6)
	for _, d := range sleeps[:5] {
		assert.Equal(t, 180*time.Second, d)
	}
	wantWake := time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, wantWake.Sub(start.Add(15*time.Minute)), rep.Slept)
	assert.Equal(t, rep.Slept, sleeps[5])

	assert.Equal(t, []State{Syncing, Planning, Authenticating, Posting, Sleeping}, h.states)

	// Every rendering is unique, every record shares the fingerprint.
	recent, err := h.ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	seen := map[string]bool{}
	for _, r := range recent {
		assert.Equal(t, link.Fingerprint(baseLink), r.Fingerprint)
		assert.False(t, seen[r.RenderedLink])
		seen[r.RenderedLink] = true
		assert.True(t, r.Success)
	}
}

func TestSkipsDestinationAlreadyServedToday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, []string{"GroupA", "GroupB"}, func(c *Config) { c.DailyLimit = 2 })
	require.NoError(t, h.ledger.Record(ctx, storage.Record{
		Destination:  "GroupA",
		Fingerprint:  link.Fingerprint(baseLink),
		RenderedLink: baseLink + "?ref=deadbeef&ts=1",
		Outcome:      string(actor.Success),
		Success:      true,
		Attempts:     1,
	}))

	rep, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GroupB"}, h.postedTo())
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 1, rep.Succeeded)
}

func TestFailuresAreRecordedAndDoNotAbortBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, []string{"GroupA", "GroupB", "GroupC"}, func(c *Config) { c.DailyLimit = 3 })
	h.stub.PostFunc = func(dest, _ string) (actor.Outcome, error) {
		switch dest {
		case "GroupA":
			return actor.NotAMember, nil
		case "GroupB":
			return actor.Timeout, nil
		}
		return actor.Success, nil
	}

	rep, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.Succeeded)
	// GroupA once (fatal), GroupB three times (exhausted), GroupC once.
	assert.Equal(t, []string{"GroupA", "GroupB", "GroupB", "GroupB", "GroupC"}, h.postedTo())
	// Each transient retry refreshed the session.
	assert.Equal(t, 2, h.stub.Reloads)

	recent, err := h.ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	got := map[string]storage.Record{}
	for _, r := range recent {
		got[r.Destination] = r
	}
	assert.Equal(t, "NotAMember", got["GroupA"].Outcome)
	assert.Equal(t, 1, got["GroupA"].Attempts)
	assert.Equal(t, "Failed_Timeout", got["GroupB"].Outcome)
	assert.Equal(t, 3, got["GroupB"].Attempts)
	assert.True(t, got["GroupC"].Success)

	sum, err := h.ledger.DailySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"NotAMember": 1, "Failed_Timeout": 1, "Success": 1}, sum)

	sleeps := h.clk.Sleeps()
	// failure delay, backoff x2, failure delay, success pause, end of day.
	require.Len(t, sleeps, 6)
	assert.Equal(t, 30*time.Second, sleeps[0])
	assert.Equal(t, 20*time.Second, sleeps[1])
	assert.Equal(t, 40*time.Second, sleeps[2])
	assert.Equal(t, 30*time.Second, sleeps[3])
	assert.Equal(t, 180*time.Second, sleeps[4])
}

func TestSyncFailureSleepsAnHour(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pool(3), nil)
	h.syncer.err = errors.New("remote folder unavailable")

	rep, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Syncing, rep.Abandoned)
	assert.Equal(t, []time.Duration{time.Hour}, h.clk.Sleeps())
	assert.Zero(t, h.made)
	assert.Empty(t, h.planner.days)
}

func TestEmptyPlanSleepsAnHourWithoutTouchingCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		link string
		pool []string
	}{
		{name: "no link", link: "", pool: pool(3)},
		{name: "no destinations", link: baseLink, pool: nil},
	} {
		h := newHarness(t, tc.pool, nil)
		h.planner.link = tc.link
		require.NoError(t, h.ledger.SetCursor(ctx, 2))

		rep, err := h.loop.RunCycle(ctx)
		require.NoError(t, err, tc.name)
		assert.Equal(t, Planning, rep.Abandoned, tc.name)
		assert.ErrorIs(t, rep.Reason, ErrEmptyPlan, tc.name)
		assert.Equal(t, []time.Duration{time.Hour}, h.clk.Sleeps(), tc.name)

		cur, err := h.ledger.Cursor(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, cur, tc.name)
	}
}

func TestPoolIsCapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, pool(10), func(c *Config) { c.MaxPool = 4; c.DailyLimit = 3 })
	require.NoError(t, h.ledger.SetCursor(ctx, 2))

	_, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Group02", "Group03", "Group00"}, h.postedTo())
	cur, err := h.ledger.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cur)
}

func TestLoginTimeoutAbandonsCycleAfterCursorCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, pool(10), nil)
	h.stub.DefaultProbe = actor.Probe{LoginForm: true}

	rep, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticating, rep.Abandoned)
	assert.ErrorIs(t, rep.Reason, session.ErrLoginTimeout)
	assert.Equal(t, 10*time.Minute, rep.Slept)
	assert.True(t, h.stub.Closed)
	assert.Zero(t, h.stub.PostCount())
	assert.Len(t, h.stub.Screenshots, 1)

	cur, err := h.ledger.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, cur)

	sleeps := h.clk.Sleeps()
	assert.Equal(t, 10*time.Minute, sleeps[len(sleeps)-1])
}

func TestActorStartFailureAbandonsCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pool(3), nil)
	h.loop.deps.Actors = actor.FactoryFunc(func(ctx context.Context) (actor.Actor, error) {
		return nil, errors.New("sidecar unreachable")
	})

	rep, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authenticating, rep.Abandoned)
	assert.Equal(t, []time.Duration{10 * time.Minute}, h.clk.Sleeps())
}

func TestMidCycleExpiryRefreshesAndKeepsIdentity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{"GroupA", "GroupB"}, func(c *Config) {
		c.DailyLimit = 2
		c.Identity = "Brand Page"
		c.Warmup = true
	})
	h.stub.Probes = []actor.Probe{
		{LoggedIn: true}, // establish
		{URL: "https://social.example/checkpoint/123"}, // before GroupA
		{LoggedIn: true}, // deep check after refresh
	}

	rep, err := h.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, h.stub.Reloads)
	assert.Equal(t, 1, h.stub.Warmups)
	assert.Equal(t, []string{"Brand Page", "Brand Page"}, h.stub.Identities)
}

func TestCancellationStopsBetweenDestinations(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, pool(5), nil)
	h.clk.OnSleep = func(time.Duration) { cancel() }

	rep, err := h.loop.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, h.stub.PostCount())
	assert.True(t, h.stub.Closed)

	recent, err := h.ledger.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestRunReturnsFatalOnStorageFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, pool(3), nil)
	require.NoError(t, h.ledger.Close())

	err := h.loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, supervisor.IsFatal(err))
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.Zero(t, h.made)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, pool(3), nil)
	h.syncer.err = errors.New("offline")
	h.clk.OnSleep = func(time.Duration) { cancel() }

	require.NoError(t, h.loop.Run(ctx))
	assert.Equal(t, 1, h.syncer.calls)
}

func TestNextWake(t *testing.T) {
	t.Parallel()
	daily, err := cron.ParseStandard("1 0 * * *")
	require.NoError(t, err)
	morning, err := cron.ParseStandard("30 6 * * *")
	require.NoError(t, err)
	weekdays, err := cron.ParseStandard("1 0 * * 1-5")
	require.NoError(t, err)

	tests := []struct {
		name  string
		now   time.Time
		sched cron.Schedule
		want  time.Time
	}{
		{"afternoon", time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC), daily, time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)},
		{"just before midnight", time.Date(2026, 5, 1, 23, 59, 30, 0, time.UTC), daily, time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)},
		{"just after midnight goes to next day", time.Date(2026, 5, 1, 0, 0, 30, 0, time.UTC), daily, time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC), daily, time.Date(2026, 2, 1, 0, 1, 0, 0, time.UTC)},
		{"custom time", time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC), morning, time.Date(2026, 5, 2, 6, 30, 0, 0, time.UTC)},
		{"friday to monday", time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC), weekdays, time.Date(2026, 5, 4, 0, 1, 0, 0, time.UTC)},
		{"nil schedule", time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC), nil, time.Date(2026, 5, 2, 0, 1, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.True(t, tt.want.Equal(NextWake(tt.now, tt.sched)), "%s: got %s", tt.name, NextWake(tt.now, tt.sched))
	}
}

func TestSleepUntilFloor(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Hour, SleepUntil(now, now.Add(2*time.Hour)))
	assert.Equal(t, time.Hour, SleepUntil(now, now.Add(-time.Minute)))
	assert.Equal(t, time.Hour, SleepUntil(now, now))
}
