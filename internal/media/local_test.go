package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreSaveAndURL(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "http://localhost:8800/media")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	name, err := store.Save(context.Background(), "cover.PNG", strings.NewReader("fake-image-bytes"), 16)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(name, "img_") || !strings.HasSuffix(name, ".png") {
		t.Errorf("stored name = %q, want img_*.png", name)
	}
	if strings.Contains(name, "cover") {
		t.Errorf("stored name %q leaks original filename", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "fake-image-bytes" {
		t.Errorf("stored content = %q", data)
	}

	if got := store.URL(name); got != "http://localhost:8800/media/"+name {
		t.Errorf("URL = %q", got)
	}
	if got := store.URL(""); got != "" {
		t.Errorf("URL of empty name = %q, want empty", got)
	}
}

func TestLocalStoreRejectsUnknownExtension(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://x/media")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	name, err := store.Save(context.Background(), "payload.exe", strings.NewReader("x"), 1)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(name) != "" {
		t.Errorf("stored name %q kept a disallowed extension", name)
	}
}
