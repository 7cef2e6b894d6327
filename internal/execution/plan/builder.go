package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/execution/archive"
	"github.com/animus-labs/animus-migrate/internal/formats"
)

// Builder builds ExecutionInfos. Archives are written to WorkDir.
type Builder struct {
	Formats formats.Registry
	WorkDir string
}

func NewBuilder(registry formats.Registry, workDir string) *Builder {
	return &Builder{Formats: registry, WorkDir: workDir}
}

// fileValues maps a file parameter's semantic name to its payloads.
type fileValues map[string][]Value

// NoFile builds a request from literal values only.
func (b *Builder) NoFile(info binding.ServiceInfo) (ExecutionInfo, error) {
	return b.assemble(info, nil)
}

// OneFile binds file to the service's file parameter.
func (b *Builder) OneFile(info binding.ServiceInfo, file *domain.DataFileInfo) (ExecutionInfo, error) {
	if file == nil {
		return ExecutionInfo{}, fmt.Errorf("plan: no input file")
	}
	param, ok := info.FileParameter()
	if !ok {
		return ExecutionInfo{}, ErrNoFileParameter
	}
	v, err := b.single(param, file)
	if err != nil {
		return ExecutionInfo{}, err
	}
	return b.assemble(info, fileValues{param.SemanticName: {v}})
}

// ManyFiles binds files of one format to the service's file parameter.
func (b *Builder) ManyFiles(info binding.ServiceInfo, files []*domain.DataFileInfo) (ExecutionInfo, error) {
	param, ok := info.FileParameter()
	if !ok {
		return ExecutionInfo{}, ErrNoFileParameter
	}
	values, err := b.many(param, files)
	if err != nil {
		return ExecutionInfo{}, err
	}
	return b.assemble(info, fileValues{param.SemanticName: values})
}

// VariousFiles binds files of mixed formats. Files are grouped by format;
// each group goes to the form file parameter accepting its media type, and
// the body is only filled when a single format is present.
func (b *Builder) VariousFiles(info binding.ServiceInfo, files []*domain.DataFileInfo) (ExecutionInfo, error) {
	groups, order := groupByFormat(files)
	values := fileValues{}

	if body, ok := info.BodyParameter(); ok && body.IsFile() {
		if len(order) == 1 {
			vs, err := b.many(body, groups[order[0]])
			if err != nil {
				return ExecutionInfo{}, err
			}
			values[body.SemanticName] = vs
		}
		return b.assemble(info, values)
	}

	var fileForms []binding.ParameterBinding
	for _, p := range info.FormParameters() {
		if p.IsFile() {
			fileForms = append(fileForms, p)
		}
	}
	if len(fileForms) == 0 {
		if len(files) > 0 {
			return ExecutionInfo{}, ErrNoFileParameter
		}
		return b.assemble(info, nil)
	}
	for _, format := range order {
		param := b.paramForFormat(fileForms, format)
		vs, err := b.many(param, groups[format])
		if err != nil {
			return ExecutionInfo{}, err
		}
		values[param.SemanticName] = append(values[param.SemanticName], vs...)
	}
	return b.assemble(info, values)
}

func groupByFormat(files []*domain.DataFileInfo) (map[string][]*domain.DataFileInfo, []string) {
	sorted := append([]*domain.DataFileInfo(nil), files...)
	domain.SortFiles(sorted)
	groups := make(map[string][]*domain.DataFileInfo)
	var order []string
	for _, f := range sorted {
		if _, seen := groups[f.Format]; !seen {
			order = append(order, f.Format)
		}
		groups[f.Format] = append(groups[f.Format], f)
	}
	return groups, order
}

// paramForFormat picks the first file parameter declaring one of the
// format's media types, else the first file parameter.
func (b *Builder) paramForFormat(params []binding.ParameterBinding, format string) binding.ParameterBinding {
	mimes := b.mimeTypes(format)
	for _, p := range params {
		for _, mt := range mimes {
			if matchOption(p.MimeTypes, mt) != "" {
				return p
			}
		}
	}
	return params[0]
}

func (b *Builder) mimeTypes(format string) []string {
	if b.Formats == nil {
		return nil
	}
	return b.Formats.MimeTypes(format)
}

// chooseMimeType matches the file's own media types against the declared
// options, then falls back to the first non-zip option, then to the first.
func (b *Builder) chooseMimeType(p binding.ParameterBinding, format string) string {
	for _, mt := range b.mimeTypes(format) {
		if opt := matchOption(p.MimeTypes, mt); opt != "" {
			return opt
		}
	}
	for _, opt := range p.MimeTypes {
		if !descriptor.IsZip(opt) {
			return opt
		}
	}
	if len(p.MimeTypes) > 0 {
		return p.MimeTypes[0]
	}
	return descriptor.MediaOctetStream
}

func matchOption(options []string, mt string) string {
	want := descriptor.BaseMediaType(mt)
	for _, opt := range options {
		if descriptor.BaseMediaType(opt) == want {
			return opt
		}
	}
	return ""
}

func zipMimeType(p binding.ParameterBinding) string {
	if mt, ok := p.ZipMimeType(); ok {
		return mt
	}
	return descriptor.MediaZip
}

// single binds one file. A bundle parameter resolved to its zip option still
// receives an archive, with the file as the only entry.
func (b *Builder) single(p binding.ParameterBinding, file *domain.DataFileInfo) (Value, error) {
	mt := b.chooseMimeType(p, file.Format)
	if p.IsBundle() && descriptor.IsZip(mt) && !isZipFormat(b.mimeTypes(file.Format)) {
		dest, err := archive.ZipFile(file.LocalPath)
		if err != nil {
			return Value{}, err
		}
		return fileValue(dest, filepath.Base(dest), mt), nil
	}
	return fileValue(file.LocalPath, file.Base(), mt), nil
}

func isZipFormat(mimes []string) bool {
	for _, mt := range mimes {
		if descriptor.IsZip(mt) {
			return true
		}
	}
	return false
}

// many binds several files of one format: separate parts for a repeating
// parameter, otherwise one archive.
func (b *Builder) many(p binding.ParameterBinding, files []*domain.DataFileInfo) ([]Value, error) {
	switch {
	case len(files) == 0:
		return nil, nil
	case len(files) == 1:
		v, err := b.single(p, files[0])
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	case p.Repeating && p.Style == binding.StyleForm:
		out := make([]Value, 0, len(files))
		for _, f := range files {
			v, err := b.single(p, f)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.LocalPath)
	}
	dest, err := archive.ZipFiles(b.WorkDir, paths)
	if err != nil {
		return nil, err
	}
	return []Value{fileValue(dest, filepath.Base(dest), zipMimeType(p))}, nil
}

func fileValue(path, filename, mimeType string) Value {
	return Value{File: &FileValue{Path: path, Filename: filename, MimeType: mimeType}}
}

// assemble fills every parameter of info from literal values and the given
// file payloads, and reports all required parameters left without a value.
func (b *Builder) assemble(info binding.ServiceInfo, files fileValues) (ExecutionInfo, error) {
	out := ExecutionInfo{
		AddressTemplate: info.Address(),
		Method:          info.Method(),
		Encoding:        info.Encoding(),
	}
	var missing []string

	for _, p := range info.TemplateParameters() {
		if !p.HasValue() {
			missing = append(missing, p.SemanticName)
			continue
		}
		out.Template = append(out.Template, TemplateValue{Name: p.TechnicalName, Value: *p.Value})
	}

	for _, p := range info.QueryParameters() {
		if p.IsBoolean() {
			if p.HasValue() && strings.EqualFold(strings.TrimSpace(*p.Value), "true") {
				out.Query = append(out.Query, QueryValue{Name: p.TechnicalName, NoValue: true})
			}
			continue
		}
		values, ok := literals(p)
		if !ok {
			if p.Required {
				missing = append(missing, p.SemanticName)
			}
			continue
		}
		for _, v := range values {
			out.Query = append(out.Query, QueryValue{Name: p.TechnicalName, Value: v})
		}
	}

	for _, p := range info.HeaderParameters() {
		values, ok := literals(p)
		if !ok {
			if p.Required {
				missing = append(missing, p.SemanticName)
			}
			continue
		}
		for _, v := range values {
			out.Headers = append(out.Headers, HeaderValue{Name: p.TechnicalName, Value: v})
		}
	}

	for _, p := range info.FormParameters() {
		if p.IsFile() {
			vs := files[p.SemanticName]
			if len(vs) == 0 && p.Required {
				missing = append(missing, p.SemanticName)
			}
			for _, v := range vs {
				out.Form = append(out.Form, FormValue{Name: p.TechnicalName, Value: v})
			}
			continue
		}
		values, ok := literals(p)
		if !ok {
			if p.Required {
				missing = append(missing, p.SemanticName)
			}
			continue
		}
		for _, v := range values {
			out.Form = append(out.Form, FormValue{Name: p.TechnicalName, Value: Value{Literal: v}})
		}
	}

	if body, ok := info.BodyParameter(); ok {
		switch {
		case body.IsFile():
			if vs := files[body.SemanticName]; len(vs) > 0 {
				v := vs[0]
				out.Body = &v
			} else if body.Required {
				missing = append(missing, body.SemanticName)
			}
		case body.HasValue():
			contentType := "text/plain"
			if len(body.MimeTypes) > 0 {
				contentType = body.MimeTypes[0]
			}
			out.Body = &Value{Literal: *body.Value, ContentType: contentType}
		case body.Required:
			missing = append(missing, body.SemanticName)
		}
	}

	if len(missing) > 0 {
		return ExecutionInfo{}, &MissingParametersError{Names: missing}
	}
	return out, nil
}

// literals returns the literal values of p. Repeating parameters carry a
// comma separated list.
func literals(p binding.ParameterBinding) ([]string, bool) {
	if !p.HasValue() {
		return nil, false
	}
	if !p.Repeating {
		return []string{*p.Value}, true
	}
	var out []string
	for _, part := range strings.Split(*p.Value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, len(out) > 0
}
