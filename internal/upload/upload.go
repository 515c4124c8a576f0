// Package upload stores message and reply image attachments.
package upload

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"codeconnect/api/internal/util"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("upload not found")

// Store persists uploaded files and serves them back by name.
type Store interface {
	// Save writes the file and returns the public URL path for it.
	Save(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
}

// objectName builds a collision-free stored name from the client filename.
// Only the extension survives; the rest is replaced with a random ID.
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		ext = ""
	}
	return util.NewID("img") + ext
}

// AllowedType reports whether a content type is accepted for upload.
func AllowedType(contentType string) bool {
	switch contentType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}
