// Package archive bundles files into zip archives and unpacks archives
// returned by remote services.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

// ErrArchiving marks local I/O failures while creating or reading an archive.
var ErrArchiving = errors.New("zip archiving failed")

// maxSiblingAttempts bounds the "<basename>-<n>.zip" search in ZipFile.
const maxSiblingAttempts = 1000

// ZipFile archives src into a "<basename>.zip" file next to it. When that
// name is taken, "<basename>-1.zip", "<basename>-2.zip", ... are tried.
func ZipFile(src string) (string, error) {
	base := filepath.Base(src)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" {
		name = base
	}
	dir := filepath.Dir(src)
	for n := 0; n < maxSiblingAttempts; n++ {
		candidate := name + ".zip"
		if n > 0 {
			candidate = name + "-" + strconv.Itoa(n) + ".zip"
		}
		dest := filepath.Join(dir, candidate)
		err := write(dest, []string{src})
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: no free archive name for %s in %s", ErrArchiving, base, dir)
}

// ZipFiles archives srcs, in order, into a generated "bundle-<uuid>.zip" in dir.
func ZipFiles(dir string, srcs []string) (string, error) {
	if len(srcs) == 0 {
		return "", fmt.Errorf("%w: nothing to archive", ErrArchiving)
	}
	dest := filepath.Join(dir, "bundle-"+uuid.NewString()+".zip")
	if err := write(dest, srcs); err != nil {
		return "", err
	}
	return dest, nil
}

func write(dest string, srcs []string) (err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrArchiving, dest, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrArchiving, dest, cerr)
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	zw := zip.NewWriter(out)
	used := make(map[string]int, len(srcs))
	for _, src := range srcs {
		if err := addFile(zw, src, entryName(used, filepath.Base(src))); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finish %s: %v", ErrArchiving, dest, err)
	}
	return nil
}

// entryName keeps entry names unique within one archive.
func entryName(used map[string]int, name string) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(n) + ext
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrArchiving, src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrArchiving, src, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("%w: header %s: %v", ErrArchiving, src, err)
	}
	header.Name = name
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: add %s: %v", ErrArchiving, name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrArchiving, name, err)
	}
	return nil
}

// Entry is one file unpacked by Extract.
type Entry struct {
	// Name is the slash-separated entry name inside the archive.
	Name string
	// Path is where the entry was written.
	Path string
}

// Extract unpacks src into destDir and returns the extracted entries in
// archive order. Directory entries are skipped; entries escaping destDir
// are rejected.
func Extract(src, destDir string) ([]Entry, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchiving, src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrArchiving, destDir, err)
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiving, err)
	}

	var out []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%w: entry %q escapes destination", ErrArchiving, f.Name)
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrArchiving, err)
		}
		out = append(out, Entry{Name: filepath.ToSlash(rel), Path: target})
	}
	return out, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrArchiving, filepath.Dir(target), err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrArchiving, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrArchiving, target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: write %s: %v", ErrArchiving, target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrArchiving, target, err)
	}
	return nil
}
