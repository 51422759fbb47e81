// Package media stores uploaded files (group front images) and serves
// back public URLs for them. Files are renamed on save so user-supplied
// names never reach disk or bucket keys.
package media

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/lufeisan/tornadoforum/internal/util"
)

// Store saves uploaded files and resolves their public URLs.
type Store interface {
	// Save persists the content under a generated name and returns that name.
	Save(ctx context.Context, filename string, r io.Reader, size int64) (string, error)
	// URL returns the public URL for a previously stored name.
	URL(storedName string) string
}

// storedName generates a safe object name keeping only the original extension.
func storedName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		ext = ""
	}
	return util.NewID("img") + ext
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
