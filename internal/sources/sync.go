// Package sources materializes the daily document and destination list and
// extracts the day's publishable link and destination pool from them.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	logx "campaignd/pkg/logx"
)

// ErrNotFound is returned when a source artifact cannot be located.
var ErrNotFound = errors.New("source artifact not found")

// Syncer materializes the document and list files at local paths.
type Syncer interface {
	Sync(ctx context.Context) error
	DocumentPath() string
	ListPath() string
}

// DirSync mirrors two named files from SourceDir (typically a locally
// mounted cloud folder) into WorkDir.
type DirSync struct {
	SourceDir    string
	WorkDir      string
	DocumentName string
	ListName     string
	Log          logx.Logger
}

func (d *DirSync) DocumentPath() string { return filepath.Join(d.WorkDir, d.DocumentName) }
func (d *DirSync) ListPath() string     { return filepath.Join(d.WorkDir, d.ListName) }

// Sync copies both files. A missing or unreadable file fails the whole sync;
// a partial copy is never left in WorkDir.
func (d *DirSync) Sync(ctx context.Context) error {
	if err := os.MkdirAll(d.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	var errs []error
	for _, name := range []string{d.DocumentName, d.ListName} {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := copyFile(filepath.Join(d.SourceDir, name), filepath.Join(d.WorkDir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.Log.Info("source synced", logx.String("file", name), logx.Int64("bytes", n))
	}
	return errors.Join(errs...)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, in)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("%s is empty", src)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("copy %s: %w", strings.TrimPrefix(src, "./"), err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}
