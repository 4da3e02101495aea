package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactStore keeps the serialized session token set between actor
// instantiations.
type ArtifactStore interface {
	// Load returns nil, nil when nothing has been saved yet.
	Load() ([]byte, error)
	Save(b []byte) error
}

// FileArtifacts stores the artifact in a single file, replaced atomically.
type FileArtifacts struct {
	Path string
}

func (f FileArtifacts) Load() ([]byte, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (f FileArtifacts) Save(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty session artifact")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write session artifact: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session artifact: %w", err)
	}
	return nil
}
