// Package rotation selects each day's destinations as a fixed-size circular
// window over the destination pool.
//
// The cursor is an index into the pool as it was when last advanced, not a
// content-addressed position: when the pool changes between cycles the window
// shifts with it. That approximation is accepted; rotation does not promise
// exact per-destination fairness across pool edits.
package rotation

import (
	"context"
	"errors"
	"fmt"

	logx "campaignd/pkg/logx"
)

var ErrEmptyPool = errors.New("destination pool is empty")

// CursorStore persists the rotation cursor. storage.Ledger satisfies it.
type CursorStore interface {
	Cursor(ctx context.Context) (int, error)
	SetCursor(ctx context.Context, n int) error
}

// Window is one day's selection.
type Window struct {
	Subset  []string
	Start   int
	Next    int
	Wrapped bool
	// Reset is true when the stored cursor was outside the pool and
	// restarted from 0.
	Reset bool
}

// Select computes the window for pool starting at cursor. A cursor outside
// [0, len(pool)) restarts at 0. The next cursor is always
// (start+limit) mod len(pool). A limit of len(pool) or more yields one full
// pass; no destination appears twice in a window.
func Select(pool []string, cursor, limit int) (Window, error) {
	n := len(pool)
	if n == 0 {
		return Window{}, ErrEmptyPool
	}
	if limit <= 0 {
		return Window{}, fmt.Errorf("daily limit must be > 0, got %d", limit)
	}

	w := Window{Start: cursor}
	if cursor < 0 || cursor >= n {
		w.Start = 0
		w.Reset = true
	}
	w.Next = (w.Start + limit) % n

	size := min(limit, n)
	end := w.Start + size
	if end <= n {
		w.Subset = append([]string(nil), pool[w.Start:end]...)
		return w, nil
	}

	w.Wrapped = true
	w.Subset = make([]string, 0, size)
	w.Subset = append(w.Subset, pool[w.Start:]...)
	w.Subset = append(w.Subset, pool[:end-n]...)
	return w, nil
}

// Scheduler owns the rotation cursor.
type Scheduler struct {
	store CursorStore
	log   logx.Logger
}

func New(store CursorStore, log logx.Logger) *Scheduler {
	return &Scheduler{store: store, log: log.With(logx.String("comp", "rotation"))}
}

// SelectToday reads the cursor, computes today's window and persists the
// advanced cursor before returning. Callers must not start posting when an
// error is returned.
func (s *Scheduler) SelectToday(ctx context.Context, pool []string, dailyLimit int) (Window, error) {
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("read rotation cursor: %w", err)
	}
	w, err := Select(pool, cursor, dailyLimit)
	if err != nil {
		return Window{}, err
	}
	if w.Reset {
		s.log.Info("rotation cursor reset", logx.Int("stored", cursor), logx.Int("pool", len(pool)))
	}
	if err := s.store.SetCursor(ctx, w.Next); err != nil {
		return Window{}, fmt.Errorf("persist rotation cursor: %w", err)
	}
	s.log.Info("rotation window selected",
		logx.Int("start", w.Start),
		logx.Int("next", w.Next),
		logx.Int("size", len(w.Subset)),
		logx.Int("pool", len(pool)),
		logx.Bool("wrapped", w.Wrapped),
	)
	return w, nil
}
