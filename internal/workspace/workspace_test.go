package workspace

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/animus-migrate/internal/storage/objectstore"
)

type stubStore struct {
	objects map[string]string
	gets    []string
}

func (s *stubStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	s.gets = append(s.gets, bucket+"/"+key)
	content, ok := s.objects[key]
	if !ok {
		return nil, objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), objectstore.ObjectInfo{Key: key, Size: int64(len(content))}, nil
}

func (s *stubStore) Stat(_ context.Context, _, key string) (objectstore.ObjectInfo, error) {
	content, ok := s.objects[key]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotFound
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(content))}, nil
}

func seq(v int) *int { return &v }

func TestStage(t *testing.T) {
	root := t.TempDir()
	ws, err := New(root)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if filepath.Dir(ws.Dir()) != root || ws.ID() == "" {
		t.Fatalf("unexpected workspace dir %q", ws.Dir())
	}

	store := &stubStore{objects: map[string]string{"obj-1/a.tif": "A", "pages/b.tif": "B"}}
	files, err := ws.Stage(context.Background(), store, "objects", []StagedFile{
		{Path: "a.tif", Format: "fmt/353", Sequence: seq(1), ObjectKey: "obj-1/a.tif"},
		{Path: "pages/b.tif", Format: " fmt/353 "},
	})
	if err != nil {
		t.Fatalf("Stage() err=%v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%d, want 2", len(files))
	}
	if got := strings.Join(store.gets, ","); got != "objects/obj-1/a.tif,objects/pages/b.tif" {
		t.Fatalf("gets=%q", got)
	}
	data, err := os.ReadFile(files[1].LocalPath)
	if err != nil || string(data) != "B" {
		t.Fatalf("staged content=%q err=%v", data, err)
	}
	if v, ok := files[0].Seq(); !ok || v != 1 {
		t.Fatalf("sequence=%d,%v", v, ok)
	}
	if _, ok := files[1].Seq(); ok || files[1].Format != "fmt/353" {
		t.Fatalf("unexpected second file %+v", files[1])
	}

	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove() err=%v", err)
	}
	if _, err := os.Stat(ws.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
}

func TestStageErrors(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	store := &stubStore{objects: map[string]string{}}

	if _, err := ws.Stage(context.Background(), store, "objects", []StagedFile{{Path: "missing.tif"}}); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Stage() err=%v, want ErrNotFound", err)
	}
	for _, p := range []string{"", "../escape.tif", "/abs.tif", "a/../../b"} {
		if _, err := ws.Stage(context.Background(), store, "objects", []StagedFile{{Path: p}}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Stage(%q) err=%v, want ErrInvalidPath", p, err)
		}
	}
}

func TestAdopt(t *testing.T) {
	src := filepath.Join(t.TempDir(), "scan.tif")
	if err := os.WriteFile(src, []byte("tiff"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	files, err := ws.Adopt([]StagedFile{{Path: "scans/scan.tif", Format: "fmt/353", Source: src}})
	if err != nil {
		t.Fatalf("Adopt() err=%v", err)
	}
	if files[0].Path != "scans/scan.tif" || !strings.HasPrefix(files[0].LocalPath, ws.Dir()) {
		t.Fatalf("unexpected adopted file %+v", files[0])
	}
}
