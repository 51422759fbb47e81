package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps media files on the local filesystem. It is the
// fallback when no MinIO endpoint is configured; the HTTP server
// serves the directory under /media/.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore ensures dir exists and returns a store serving files
// under baseURL (e.g. "http://localhost:8800/media").
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the directory files are stored in.
func (l *LocalStore) Dir() string { return l.dir }

func (l *LocalStore) Save(_ context.Context, filename string, r io.Reader, _ int64) (string, error) {
	name := storedName(filename)
	f, err := os.Create(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write media file: %w", err)
	}
	return name, nil
}

func (l *LocalStore) URL(storedName string) string {
	if storedName == "" {
		return ""
	}
	return l.baseURL + "/" + storedName
}
