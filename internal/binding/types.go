// Package binding merges the semantic description of a remote service with
// its technical description into one invocation contract, ServiceInfo.
package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/descriptor"
)

// ErrInconsistentDescription marks contradictions between the semantic and
// technical descriptions of a service. It is permanent: the service
// registration itself is malformed.
var ErrInconsistentDescription = errors.New("inconsistent service description")

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistentDescription, fmt.Sprintf(format, args...))
}

// Semantic type local names the pipeline relies on.
const (
	SemanticFile           = "File"
	SemanticFileBundle     = "FileBundle"
	SemanticClientLocation = "ClientLocation"
)

// SemanticRecord is one parameter or outcome of a semantic descriptor.
type SemanticRecord struct {
	Name       string  `json:"name" yaml:"name"`
	Type       string  `json:"type" yaml:"type"`
	BundleType string  `json:"bundle_type,omitempty" yaml:"bundle_type,omitempty"`
	Value      *string `json:"value,omitempty" yaml:"value,omitempty"`
}

// NameMapping resolves technical node identifiers to semantic names.
type NameMapping map[string][]string

// IsFileType reports whether a semantic type names a file or file bundle.
func IsFileType(semanticType string) bool {
	switch localName(semanticType) {
	case SemanticFile, SemanticFileBundle:
		return true
	default:
		return false
	}
}

// IsClientLocationType reports whether a semantic type names a client location.
func IsClientLocationType(semanticType string) bool {
	return localName(semanticType) == SemanticClientLocation
}

func localName(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.LastIndexAny(t, "#/:"); i >= 0 {
		return t[i+1:]
	}
	return t
}

type Style string

const (
	StyleTemplate Style = "TEMPLATE"
	StyleQuery    Style = "QUERY"
	StyleHeader   Style = "HEADER"
	StyleForm     Style = "FORM"
	StyleBody     Style = "BODY"
)

type OutcomeStyle string

const (
	OutcomeBody   OutcomeStyle = "BODY"
	OutcomeHeader OutcomeStyle = "HEADER"
)

type RequestEncoding string

const (
	EncodingNone           RequestEncoding = "NONE"
	EncodingOctetStream    RequestEncoding = "OCTET_STREAM"
	EncodingMultipartForm  RequestEncoding = "MULTIPART_FORM"
	EncodingURLEncodedForm RequestEncoding = "URLENCODED_FORM"
)

// encodingFor classifies a request representation media type.
func encodingFor(mediaType string) RequestEncoding {
	switch descriptor.BaseMediaType(mediaType) {
	case descriptor.MediaMultipartForm:
		return EncodingMultipartForm
	case descriptor.MediaURLEncodedForm:
		return EncodingURLEncodedForm
	default:
		// XML, JSON and anything else travel as a single entity.
		return EncodingOctetStream
	}
}

// ParameterBinding ties a semantic parameter to the technical node that
// carries it on the wire.
type ParameterBinding struct {
	Style         Style    `json:"style"`
	SemanticName  string   `json:"semantic_name"`
	SemanticType  string   `json:"semantic_type"`
	BundleType    string   `json:"bundle_type,omitempty"`
	TechnicalID   string   `json:"technical_id,omitempty"`
	TechnicalName string   `json:"technical_name"`
	TechnicalType string   `json:"technical_type,omitempty"`
	Repeating     bool     `json:"repeating"`
	Required      bool     `json:"required"`
	Value         *string  `json:"value,omitempty"`
	MimeTypes     []string `json:"mime_types,omitempty"`
}

func (p ParameterBinding) IsFile() bool {
	return IsFileType(p.SemanticType)
}

func (p ParameterBinding) IsBundle() bool {
	return strings.TrimSpace(p.BundleType) != ""
}

func (p ParameterBinding) HasValue() bool {
	return p.Value != nil
}

// IsBoolean reports whether the wire type is a boolean flag.
func (p ParameterBinding) IsBoolean() bool {
	return descriptor.IsBooleanType(p.TechnicalType)
}

// ZipMimeType returns the declared archive option, if any.
func (p ParameterBinding) ZipMimeType() (string, bool) {
	for _, mt := range p.MimeTypes {
		if descriptor.IsZip(mt) {
			return mt, true
		}
	}
	return "", false
}

func (p ParameterBinding) clone() ParameterBinding {
	p.MimeTypes = append([]string(nil), p.MimeTypes...)
	return p
}

// OutcomeBinding ties a semantic outcome to a response header or body.
// Optional outcomes have no semantic mapping; they describe diagnostic
// responses a service may return instead of a result.
type OutcomeBinding struct {
	Style          OutcomeStyle `json:"style"`
	SemanticName   string       `json:"semantic_name,omitempty"`
	SemanticType   string       `json:"semantic_type,omitempty"`
	BundleType     string       `json:"bundle_type,omitempty"`
	TechnicalID    string       `json:"technical_id,omitempty"`
	TechnicalName  string       `json:"technical_name,omitempty"`
	TechnicalTypes []string     `json:"technical_types,omitempty"`
	Repeating      bool         `json:"repeating"`
	Statuses       []int        `json:"statuses"`
	MimeTypes      []string     `json:"mime_types,omitempty"`
	Optional       bool         `json:"optional"`
}

func (o OutcomeBinding) IsFile() bool {
	return !o.Optional && IsFileType(o.SemanticType)
}

func (o OutcomeBinding) IsClientLocation() bool {
	return !o.Optional && IsClientLocationType(o.SemanticType)
}

func (o OutcomeBinding) IsBundle() bool {
	return strings.TrimSpace(o.BundleType) != ""
}

// AcceptsStatus reports whether code is one of the declared statuses.
func (o OutcomeBinding) AcceptsStatus(code int) bool {
	for _, s := range o.Statuses {
		if s == code {
			return true
		}
	}
	return false
}

// HasTextualType reports whether any technical type is not raw file content.
func (o OutcomeBinding) HasTextualType() bool {
	for _, t := range o.TechnicalTypes {
		if !descriptor.IsBinaryType(t) {
			return true
		}
	}
	return false
}

func (o OutcomeBinding) clone() OutcomeBinding {
	o.TechnicalTypes = append([]string(nil), o.TechnicalTypes...)
	o.Statuses = append([]int(nil), o.Statuses...)
	o.MimeTypes = append([]string(nil), o.MimeTypes...)
	return o
}
