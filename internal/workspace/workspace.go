// Package workspace manages the working directory owned by one migration run.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/storage/objectstore"
)

var ErrInvalidPath = errors.New("invalid object file path")

const inputDir = "input"

// Workspace is a private directory "<root>/<id>".
type Workspace struct {
	id  string
	dir string
}

func New(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	id := uuid.NewString()
	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{id: id, dir: dir}, nil
}

func (w *Workspace) ID() string {
	return w.id
}

func (w *Workspace) Dir() string {
	return w.dir
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// StagedFile names one object file to bring into the workspace, either from
// object storage (ObjectKey) or from a local file (Source).
type StagedFile struct {
	Path      string `json:"path"`
	Format    string `json:"format"`
	Sequence  *int   `json:"sequence,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
	Source    string `json:"-"`
}

// Stage downloads files from bucket into the workspace.
func (w *Workspace) Stage(ctx context.Context, store objectstore.Store, bucket string, files []StagedFile) ([]*domain.DataFileInfo, error) {
	out := make([]*domain.DataFileInfo, 0, len(files))
	for _, f := range files {
		key := strings.TrimSpace(f.ObjectKey)
		if key == "" {
			key = f.Path
		}
		info, err := w.place(f, func(dst io.Writer) error {
			body, _, err := store.Get(ctx, bucket, key)
			if err != nil {
				return err
			}
			defer body.Close()
			_, err = io.Copy(dst, body)
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Adopt copies local files into the workspace.
func (w *Workspace) Adopt(files []StagedFile) ([]*domain.DataFileInfo, error) {
	out := make([]*domain.DataFileInfo, 0, len(files))
	for _, f := range files {
		info, err := w.place(f, func(dst io.Writer) error {
			src, err := os.Open(f.Source)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(dst, src)
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (w *Workspace) place(f StagedFile, fill func(io.Writer) error) (*domain.DataFileInfo, error) {
	rel, err := cleanPath(f.Path)
	if err != nil {
		return nil, err
	}
	local := filepath.Join(w.dir, inputDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	dst, err := os.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	if err := fill(dst); err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("stage %s: %w", rel, err)
	}
	info := &domain.DataFileInfo{Path: rel, Format: strings.TrimSpace(f.Format), LocalPath: local}
	if f.Sequence != nil {
		info.SetSeq(*f.Sequence)
	}
	return info, nil
}

// cleanPath normalises an object relative path and rejects escapes.
func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
