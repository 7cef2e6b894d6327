// Package formats maps format identifiers (PUIDs) to media types and file
// extensions.
package formats

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidCatalog = errors.New("invalid format catalog")

// Registry answers format questions for the pipeline.
type Registry interface {
	MimeTypes(puid string) []string
	Extension(puid string) string
}

type Format struct {
	PUID      string   `yaml:"puid"`
	MimeTypes []string `yaml:"mimetypes"`
	Extension string   `yaml:"extension"`
}

// Catalog is an in-memory Registry. It is read-only after construction.
type Catalog struct {
	byPUID map[string]Format
	order  []string
}

func NewCatalog(formats []Format) (*Catalog, error) {
	c := &Catalog{byPUID: make(map[string]Format, len(formats))}
	for i, f := range formats {
		f.PUID = strings.TrimSpace(f.PUID)
		if f.PUID == "" {
			return nil, fmt.Errorf("%w: format %d has no puid", ErrInvalidCatalog, i)
		}
		if _, dup := c.byPUID[f.PUID]; dup {
			return nil, fmt.Errorf("%w: duplicate puid %q", ErrInvalidCatalog, f.PUID)
		}
		f.Extension = strings.TrimPrefix(strings.TrimSpace(f.Extension), ".")
		mimes := make([]string, 0, len(f.MimeTypes))
		for _, mt := range f.MimeTypes {
			if mt = strings.TrimSpace(mt); mt != "" {
				mimes = append(mimes, mt)
			}
		}
		f.MimeTypes = mimes
		c.byPUID[f.PUID] = f
		c.order = append(c.order, f.PUID)
	}
	return c, nil
}

// Decode reads a YAML document with a top-level formats list.
func Decode(data []byte) (*Catalog, error) {
	var doc struct {
		Formats []Format `yaml:"formats"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Formats)
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read format catalog: %w", err)
	}
	return Decode(data)
}

// MimeTypes returns the media types of puid, preferred first.
func (c *Catalog) MimeTypes(puid string) []string {
	f, ok := c.byPUID[strings.TrimSpace(puid)]
	if !ok {
		return nil
	}
	return append([]string(nil), f.MimeTypes...)
}

// Extension returns the extension without a leading dot, or "" when unknown.
func (c *Catalog) Extension(puid string) string {
	return c.byPUID[strings.TrimSpace(puid)].Extension
}

func (c *Catalog) Formats() []Format {
	out := make([]Format, 0, len(c.order))
	for _, puid := range c.order {
		f := c.byPUID[puid]
		f.MimeTypes = append([]string(nil), f.MimeTypes...)
		out = append(out, f)
	}
	return out
}
