package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "campaignd/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const cursorKey = "rotation_cursor"

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	readOnly bool
	now      func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open ledger read-only: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	// Pragmas go through the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if cfg.ReadOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(WAL)")
		// FULL: a committed cursor must survive power loss, not just a crash.
		q.Add("_pragma", "synchronous(FULL)")
	}
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "ledger")), readOnly: cfg.ReadOnly, now: now}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !cfg.ReadOnly {
		if _, err := db.ExecContext(context.Background(), migrations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}
	st.log.Debug("ledger opened", logx.String("path", path), logx.Bool("read_only", cfg.ReadOnly))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) writable() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *sqliteStore) today() string { return s.now().Format(DateLayout) }

func (s *sqliteStore) Cursor(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, cursorKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt rotation cursor %q: %w", raw, err)
	}
	return n, nil
}

func (s *sqliteStore) SetCursor(ctx context.Context, n int) error {
	if err := s.writable(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("rotation cursor must be >= 0, got %d", n)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_state(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cursorKey, strconv.Itoa(n),
	)
	return err
}

func (s *sqliteStore) HasSucceededToday(ctx context.Context, destination, fingerprint string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM posting_records
		 WHERE post_date = ? AND destination = ? AND link_fingerprint = ? AND success = 1
		 LIMIT 1`,
		s.today(), destination, fingerprint,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Record(ctx context.Context, r Record) error {
	if err := s.writable(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Destination) == "" || strings.TrimSpace(r.Outcome) == "" {
		return errors.New("record requires destination and outcome")
	}
	at := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posting_records(post_date, rendered_link, link_fingerprint, destination, outcome, success, attempt_count, recorded_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		at.Format(DateLayout), r.RenderedLink, r.Fingerprint, r.Destination, r.Outcome, boolInt(r.Success), r.Attempts,
		at.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	if days < 0 {
		days = 0
	}
	cutoff := s.now().AddDate(0, 0, -days).Format(DateLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM posting_records WHERE post_date < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("ledger purged", logx.Int64("deleted", n), logx.Int("days", days), logx.String("cutoff", cutoff))
	}
	return n, nil
}

func (s *sqliteStore) DailySummary(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM posting_records WHERE post_date = ? GROUP BY outcome`,
		s.today(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_date, rendered_link, link_fingerprint, destination, outcome, success, attempt_count, recorded_at
		 FROM posting_records ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			success int
			at      string
		)
		if err := rows.Scan(&r.ID, &r.Date, &r.RenderedLink, &r.Fingerprint, &r.Destination, &r.Outcome, &success, &r.Attempts, &at); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
