package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrReadOnly = errors.New("storage opened read-only")
)

// DateLayout is the calendar-day key of a posting record.
const DateLayout = "2006-01-02"

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s

	// ReadOnly opens an existing database for observation only.
	ReadOnly bool

	// Now returns the ledger's notion of the current time; its location
	// decides where a calendar day starts. Defaults to time.Now.
	Now func() time.Time
}

// Record is one terminal attempt outcome. Records are immutable once written.
type Record struct {
	ID           int64
	Date         string // DateLayout, filled by the ledger
	RenderedLink string
	Fingerprint  string
	Destination  string
	Outcome      string
	Success      bool
	Attempts     int
	At           time.Time // filled by the ledger
}

// Ledger is the persistence API used by the campaign core.
type Ledger interface {
	// Cursor returns the persisted rotation cursor, or 0 if unset.
	Cursor(ctx context.Context) (int, error)
	// SetCursor durably persists the rotation cursor.
	SetCursor(ctx context.Context, n int) error

	// HasSucceededToday reports whether a successful record exists for
	// today's date, destination and fingerprint.
	HasSucceededToday(ctx context.Context, destination, fingerprint string) (bool, error)
	// Record appends r. Prior records are never overwritten.
	Record(ctx context.Context, r Record) error

	// PurgeOlderThan deletes records dated more than days days ago and
	// returns the number removed.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
	// DailySummary counts today's records per outcome.
	DailySummary(ctx context.Context) (map[string]int, error)
	// Recent returns the newest records first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	Close() error
}
