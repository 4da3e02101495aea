package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "campaignd/pkg/logx"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func openTestLedger(t *testing.T, clk *fakeClock) (Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(Config{Driver: "sqlite", Path: path, Now: clk.Now}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestCursorDefaultsToZeroAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	l, path := openTestLedger(t, clk)

	got, err := l.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if got != 0 {
		t.Fatalf("Cursor = %d, want 0", got)
	}

	if err := l.SetCursor(ctx, 7); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := l.SetCursor(ctx, 3); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the cursor must survive a restart.
	l2, err := Open(Config{Path: path, Now: clk.Now}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	got, err = l2.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor after reopen: %v", err)
	}
	if got != 3 {
		t.Fatalf("Cursor after reopen = %d, want 3", got)
	}

	if err := l2.SetCursor(ctx, -1); err == nil {
		t.Fatal("expected error for negative cursor")
	}
}

func TestHasSucceededTodayPredicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	l, _ := openTestLedger(t, clk)

	fp := "https://example.com/post/1"

	mustRecord := func(r Record) {
		t.Helper()
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	mustRecord(Record{Destination: "GroupA", Fingerprint: fp, RenderedLink: fp + "?ref=a", Outcome: "Failed_Timeout", Attempts: 3})
	ok, err := l.HasSucceededToday(ctx, "GroupA", fp)
	if err != nil {
		t.Fatalf("HasSucceededToday: %v", err)
	}
	if ok {
		t.Fatal("a failed record must not count as success")
	}

	mustRecord(Record{Destination: "GroupA", Fingerprint: fp, RenderedLink: fp + "?ref=b", Outcome: "Success", Success: true, Attempts: 1})
	// Duplicate attempts are allowed; the predicate stays a single yes.
	mustRecord(Record{Destination: "GroupA", Fingerprint: fp, RenderedLink: fp + "?ref=c", Outcome: "SuccessUnconfirmed", Success: true, Attempts: 2})

	tests := []struct {
		name string
		dest string
		fp   string
		want bool
	}{
		{name: "same key", dest: "GroupA", fp: fp, want: true},
		{name: "other destination", dest: "GroupB", fp: fp, want: false},
		{name: "other content", dest: "GroupA", fp: "https://example.com/post/2", want: false},
	}
	for _, tt := range tests {
		got, err := l.HasSucceededToday(ctx, tt.dest, tt.fp)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: HasSucceededToday = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Next day the same content may be posted again.
	clk.t = clk.t.Add(24 * time.Hour)
	ok, err = l.HasSucceededToday(ctx, "GroupA", fp)
	if err != nil {
		t.Fatalf("HasSucceededToday next day: %v", err)
	}
	if ok {
		t.Fatal("success from yesterday must not block today")
	}
}

func TestDailySummaryAndRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	l, _ := openTestLedger(t, clk)

	for _, r := range []Record{
		{Destination: "A", Outcome: "Success", Success: true, Attempts: 1},
		{Destination: "B", Outcome: "Success", Success: true, Attempts: 2},
		{Destination: "C", Outcome: "NotAMember", Attempts: 1},
	} {
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := l.DailySummary(ctx)
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if sum["Success"] != 2 || sum["NotAMember"] != 1 || len(sum) != 2 {
		t.Fatalf("unexpected summary: %v", sum)
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent len = %d, want 2", len(recent))
	}
	if recent[0].Destination != "C" || recent[1].Destination != "B" {
		t.Fatalf("Recent not newest-first: %+v", recent)
	}
	if recent[0].Date != "2026-03-10" || recent[0].At.IsZero() {
		t.Fatalf("ledger did not stamp date/time: %+v", recent[0])
	}

	if err := l.Record(ctx, Record{Outcome: "Success"}); err == nil {
		t.Fatal("expected error for record without destination")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l, _ := openTestLedger(t, clk)

	if err := l.Record(ctx, Record{Destination: "old", Outcome: "Success", Success: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	clk.t = clk.t.AddDate(0, 0, 40)
	if err := l.Record(ctx, Record{Destination: "new", Outcome: "Success", Success: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := l.PurgeOlderThan(ctx, 30)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	recent, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Destination != "new" {
		t.Fatalf("unexpected records after purge: %+v", recent)
	}
}

func TestReadOnlyObserverAlongsideWriter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	writer, path := openTestLedger(t, clk)

	if err := writer.SetCursor(ctx, 5); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}

	reader, err := Open(Config{Path: path, ReadOnly: true, Now: clk.Now}, logx.Nop())
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer reader.Close()

	if err := writer.Record(ctx, Record{Destination: "A", Outcome: "Success", Success: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := reader.Cursor(ctx)
	if err != nil {
		t.Fatalf("reader Cursor: %v", err)
	}
	if got != 5 {
		t.Fatalf("reader Cursor = %d, want 5", got)
	}
	sum, err := reader.DailySummary(ctx)
	if err != nil {
		t.Fatalf("reader DailySummary: %v", err)
	}
	if sum["Success"] != 1 {
		t.Fatalf("reader summary = %v", sum)
	}

	if err := reader.SetCursor(ctx, 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("SetCursor on reader err = %v, want ErrReadOnly", err)
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Path: filepath.Join(t.TempDir(), "missing.db"), ReadOnly: true}, logx.Nop())
	if err == nil {
		t.Fatal("expected error opening a missing ledger read-only")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
