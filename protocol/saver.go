package protocol

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Saver persists a downloaded payload under a resolved filename and returns
// where it ended up.
type Saver interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, filename string, r io.Reader) (string, error)

func (f SaverFunc) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	return f(ctx, filename, r)
}

// DirSaver writes payloads into Dir. The payload is staged in a temporary
// file that is renamed into place once complete, so a failed transfer never
// leaves a partial file behind.
type DirSaver struct {
	Dir string
}

func (s DirSaver) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".labflow-download-*")
	if err != nil {
		return "", err
	}
	// Removing after a successful rename fails harmlessly.
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, safeFilename(filename))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// safeFilename strips any directory components from a server-supplied name.
func safeFilename(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "download"
	}
	return base
}
