package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignd/internal/actor"
	"campaignd/internal/actor/actortest"
	"campaignd/internal/clock"
	logx "campaignd/pkg/logx"
)

type countingRefresher struct{ n int }

func (r *countingRefresher) Refresh(ctx context.Context) (actor.SessionState, error) {
	r.n++
	return actor.StateAuthenticated, nil
}

func newController(stub *actortest.Stub, ref Refresher, clk clock.Clock, jitter func(lo, hi time.Duration) time.Duration) *Controller {
	return New(stub, ref, clk, Config{
		MaxRetries: 3,
		BackoffMin: 10 * time.Second,
		BackoffMax: 20 * time.Second,
		Jitter:     jitter,
	}, logx.Nop())
}

func TestAttemptOutcomes(t *testing.T) {
	t.Parallel()
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		results   []actor.Outcome
		errs      []error
		want      actor.Outcome
		tries     int
		refreshes int
	}{
		{name: "success first try", results: []actor.Outcome{actor.Success}, want: actor.Success, tries: 1},
		{name: "unconfirmed counts as success", results: []actor.Outcome{actor.SuccessUnconfirmed}, want: actor.SuccessUnconfirmed, tries: 1},
		{name: "fatal short-circuits", results: []actor.Outcome{actor.NotAMember}, want: actor.NotAMember, tries: 1},
		{name: "fatal after transient", results: []actor.Outcome{actor.Timeout, actor.DestinationNotFound}, want: actor.DestinationNotFound, tries: 2, refreshes: 1},
		{name: "recovers on third try", results: []actor.Outcome{actor.Timeout, actor.SessionLost, actor.Success}, want: actor.Success, tries: 3, refreshes: 2},
		{name: "unknown outcome is transient", results: []actor.Outcome{"Weird", "Weird", "Weird"}, want: "Failed_Weird", tries: 3, refreshes: 2},
		{name: "exhausted keeps last outcome", results: []actor.Outcome{actor.Timeout, actor.Timeout, actor.SubmitFailed}, want: "Failed_SubmitFailed", tries: 3, refreshes: 2},
		{name: "error then success", errs: []error{errBoom}, results: []actor.Outcome{"", actor.Success}, want: actor.Success, tries: 2, refreshes: 1},
		{name: "error on final try", errs: []error{nil, nil, errBoom}, results: []actor.Outcome{actor.Timeout, actor.Timeout, ""}, want: actor.ExceptionExhausted, tries: 3, refreshes: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			call := 0
			stub := &actortest.Stub{PostFunc: func(dest, link string) (actor.Outcome, error) {
				i := call
				call++
				if i < len(tt.errs) && tt.errs[i] != nil {
					return "", tt.errs[i]
				}
				return tt.results[i], nil
			}}
			ref := &countingRefresher{}
			clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
			c := newController(stub, ref, clk, nil)

			res, err := c.Attempt(context.Background(), "GroupA", "https://x.example/p?ref=1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.tries, res.Attempts)
			assert.Equal(t, tt.tries, stub.PostCount())
			assert.Equal(t, tt.refreshes, ref.n)
			assert.Len(t, clk.Sleeps(), tt.refreshes)
		})
	}
}

func TestAlwaysFatalTriesOnce(t *testing.T) {
	t.Parallel()
	stub := &actortest.Stub{DefaultResult: actor.EntryPointMissing}
	clk := clock.NewFake(time.Now())
	c := New(stub, nil, clk, Config{MaxRetries: 5}, logx.Nop())

	res, err := c.Attempt(context.Background(), "G", "l")
	require.NoError(t, err)
	assert.Equal(t, actor.EntryPointMissing, res.Outcome)
	assert.Equal(t, 1, stub.PostCount())
	assert.Empty(t, clk.Sleeps())
}

func TestTransientExhaustionBacksOffIncreasingly(t *testing.T) {
	t.Parallel()
	stub := &actortest.Stub{DefaultResult: actor.SearchFailed}
	clk := clock.NewFake(time.Now())
	ref := &countingRefresher{}
	c := New(stub, ref, clk, Config{MaxRetries: 4, BackoffMin: 10 * time.Second, BackoffMax: 20 * time.Second}, logx.Nop())

	res, err := c.Attempt(context.Background(), "G", "l")
	require.NoError(t, err)
	assert.Equal(t, actor.Exhausted(actor.SearchFailed), res.Outcome)
	assert.True(t, res.Outcome.IsExhausted())
	assert.Equal(t, 4, stub.PostCount())

	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 3)
	for i := 1; i < len(sleeps); i++ {
		assert.Greater(t, sleeps[i], sleeps[i-1], "backoff must strictly increase")
	}
	// Try n waits 2^n * [10s, 20s).
	assert.GreaterOrEqual(t, sleeps[0], 20*time.Second)
	assert.Less(t, sleeps[0], 40*time.Second)
	assert.GreaterOrEqual(t, sleeps[2], 80*time.Second)
	assert.Less(t, sleeps[2], 160*time.Second)
}

func TestWideJitterIsClampedToKeepBackoffIncreasing(t *testing.T) {
	t.Parallel()
	// First draw at the top of the range, later draws at the bottom.
	draws := 0
	jitter := func(lo, hi time.Duration) time.Duration {
		draws++
		if draws == 1 {
			return hi - time.Nanosecond
		}
		return lo
	}
	stub := &actortest.Stub{DefaultResult: actor.Timeout}
	clk := clock.NewFake(time.Now())
	c := New(stub, &countingRefresher{}, clk, Config{MaxRetries: 3, BackoffMin: 10 * time.Second, BackoffMax: 60 * time.Second, Jitter: jitter}, logx.Nop())

	_, err := c.Attempt(context.Background(), "G", "l")
	require.NoError(t, err)
	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Less(t, sleeps[0], 40*time.Second)
	assert.Equal(t, 40*time.Second, sleeps[1])
	assert.Greater(t, sleeps[1], sleeps[0])
}

func TestBackoffUsesJitter(t *testing.T) {
	t.Parallel()
	fixed := func(lo, hi time.Duration) time.Duration { return lo + (hi-lo)/2 }
	c := newController(&actortest.Stub{}, nil, clock.NewFake(time.Now()), fixed)

	assert.Equal(t, 30*time.Second, c.Backoff(1))
	assert.Equal(t, 60*time.Second, c.Backoff(2))
	assert.Equal(t, 120*time.Second, c.Backoff(3))
}

func TestCancelDuringBackoffRecordsNothing(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &actortest.Stub{DefaultResult: actor.Timeout}
	clk := clock.NewFake(time.Now())
	clk.OnSleep = func(time.Duration) { cancel() }
	ref := &countingRefresher{}
	c := newController(stub, ref, clk, nil)

	res, err := c.Attempt(ctx, "G", "l")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Outcome)
	assert.Equal(t, 1, stub.PostCount())
	assert.Zero(t, ref.n)
}

func TestUniformRange(t *testing.T) {
	t.Parallel()
	for range 200 {
		d := Uniform(10*time.Second, 20*time.Second)
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.Less(t, d, 20*time.Second)
	}
	assert.Equal(t, 5*time.Second, Uniform(5*time.Second, 5*time.Second))
}
