// Package plan turns a resolved ServiceInfo and concrete input files into a
// call-ready ExecutionInfo.
package plan

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/binding"
)

var (
	ErrMissingRequiredParameters = errors.New("missing required parameters")
	ErrNoFileParameter           = errors.New("service declares no file parameter")
)

// MissingParametersError lists the semantic names that had no value.
type MissingParametersError struct {
	Names []string
}

func (e *MissingParametersError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredParameters, strings.Join(e.Names, ", "))
}

func (e *MissingParametersError) Unwrap() error {
	return ErrMissingRequiredParameters
}

// FileValue is a local file sent as a request entity or form part.
type FileValue struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// Value is either a literal string or a file.
type Value struct {
	Literal     string     `json:"literal,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	File        *FileValue `json:"file,omitempty"`
}

func (v Value) IsFile() bool {
	return v.File != nil
}

type TemplateValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueryValue is one query string pair. NoValue renders the bare name.
type QueryValue struct {
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	NoValue bool   `json:"no_value,omitempty"`
}

type HeaderValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type FormValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// ExecutionInfo is a fully resolved request description.
type ExecutionInfo struct {
	AddressTemplate string                  `json:"address_template"`
	Template        []TemplateValue         `json:"template,omitempty"`
	Method          string                  `json:"method"`
	Encoding        binding.RequestEncoding `json:"encoding"`
	Query           []QueryValue            `json:"query,omitempty"`
	Headers         []HeaderValue           `json:"headers,omitempty"`
	Body            *Value                  `json:"body,omitempty"`
	Form            []FormValue             `json:"form,omitempty"`
}

// Address returns the address template with every template value
// substituted, path escaped.
func (e ExecutionInfo) Address() string {
	address := e.AddressTemplate
	for _, tv := range e.Template {
		address = strings.ReplaceAll(address, "{"+tv.Name+"}", url.PathEscape(tv.Value))
	}
	return address
}

// Files lists every file payload of the request in send order.
func (e ExecutionInfo) Files() []FileValue {
	var out []FileValue
	if e.Body != nil && e.Body.File != nil {
		out = append(out, *e.Body.File)
	}
	for _, fv := range e.Form {
		if fv.Value.File != nil {
			out = append(out, *fv.Value.File)
		}
	}
	return out
}
