package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Local stores uploads on the local filesystem.
type Local struct {
	dir string
}

// NewLocal creates a filesystem-backed upload store rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) Save(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	name := objectName(filename)
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return "/uploads/" + name, nil
}

func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, string, error) {
	// Reject path traversal in stored names
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, "", ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open upload file: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}
