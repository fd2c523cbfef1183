// Package storage places run artifacts in the output directory and
// optionally publishes them to object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Artifact names are fixed; every run overwrites the previous output.
const (
	NotesArtifact  = "notes_output.txt"
	ScriptArtifact = "script_output.txt"
	AudioArtifact  = "final_output.mp3"
)

// Local writes artifacts into one directory. Writes go to a temporary
// file in the same directory and are renamed into place, so a failed write
// never leaves a truncated artifact behind.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Path returns where the artifact name lives.
func (l *Local) Path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

// WriteText stores text under name.
func (l *Local) WriteText(ctx context.Context, name, text string) (string, error) {
	return l.Write(ctx, name, strings.NewReader(text))
}

// Write stores the content of r under name and returns the final path.
func (l *Local) Write(ctx context.Context, name string, r io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	dest := l.Path(name)
	if err := WriteFile(dest, r, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return dest, nil
}

// Place moves a finished file (for example the joined audio in a run's
// temp directory) into the output directory under name.
func (l *Local) Place(ctx context.Context, name, src string) (string, error) {
	dest := l.Path(name)
	if err := os.Rename(src, dest); err == nil {
		return dest, nil
	}
	// rename fails across devices; fall back to a copy
	b, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	return l.Write(ctx, name, bytes.NewReader(b))
}

// WriteFile replaces path with the content of r. The content lands in a
// temp file next to path first and is renamed over it once synced.
func WriteFile(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
