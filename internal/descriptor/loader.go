package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ErrFetch marks transport failures while retrieving a technical document.
var ErrFetch = errors.New("technical descriptor fetch failed")

type Format string

const (
	FormatWADL    Format = "wadl"
	FormatOpenAPI Format = "openapi"
)

type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindURL  SourceKind = "url"
)

// Source names where a technical document lives and how to read it.
type Source struct {
	Kind     SourceKind
	Location string
	Format   Format
}

// SourceFor infers the kind from the location's scheme.
func SourceFor(location string, format Format) Source {
	kind := SourceKindFile
	lower := strings.ToLower(strings.TrimSpace(location))
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		kind = SourceKindURL
	}
	if format == "" {
		format = FormatWADL
	}
	return Source{Kind: kind, Location: strings.TrimSpace(location), Format: format}
}

const maxDocumentBytes = 8 << 20

type Loader struct {
	client *http.Client
}

func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

// Load reads and decodes the document behind src.
func (l *Loader) Load(ctx context.Context, src Source) (Application, error) {
	if strings.TrimSpace(src.Location) == "" {
		return Application{}, errors.New("descriptor source location is required")
	}

	var (
		data []byte
		err  error
	)
	switch src.Kind {
	case SourceKindFile:
		data, err = os.ReadFile(src.Location)
		if err != nil {
			return Application{}, fmt.Errorf("read %s: %w", src.Location, err)
		}
	case SourceKindURL:
		data, err = l.fetch(ctx, src.Location)
		if err != nil {
			return Application{}, err
		}
	default:
		return Application{}, fmt.Errorf("unsupported descriptor source kind %q", src.Kind)
	}

	switch src.Format {
	case FormatWADL, "":
		return DecodeWADL(data)
	case FormatOpenAPI:
		return FromOpenAPI(ctx, data)
	default:
		return Application{}, fmt.Errorf("unsupported descriptor format %q", src.Format)
	}
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, location, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, location, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrFetch, location, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s returned no entity", ErrFetch, location)
	}
	return data, nil
}
