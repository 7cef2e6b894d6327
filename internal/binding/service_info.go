package binding

import (
	"strings"
)

// ServiceInfo is the resolved invocation contract of one remote service.
// It is immutable: accessors hand out copies.
type ServiceInfo struct {
	address   string
	method    string
	encoding  RequestEncoding
	templates []ParameterBinding
	queries   []ParameterBinding
	headers   []ParameterBinding
	forms     []ParameterBinding
	body      *ParameterBinding
	outcomes  []OutcomeBinding
}

// ServiceInfoSpec carries the fields of a ServiceInfo under construction.
type ServiceInfoSpec struct {
	Address  string
	Method   string
	Encoding RequestEncoding
	Template []ParameterBinding
	Query    []ParameterBinding
	Header   []ParameterBinding
	Form     []ParameterBinding
	Body     *ParameterBinding
	Outcomes []OutcomeBinding
}

// NewServiceInfo validates spec and freezes it.
func NewServiceInfo(spec ServiceInfoSpec) (ServiceInfo, error) {
	address := strings.TrimSpace(spec.Address)
	if address == "" {
		return ServiceInfo{}, inconsistent("service address is empty")
	}
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		return ServiceInfo{}, inconsistent("service method is empty")
	}
	encoding := spec.Encoding
	if encoding == "" {
		encoding = EncodingNone
	}
	switch encoding {
	case EncodingNone:
		if spec.Body != nil || len(spec.Form) > 0 {
			return ServiceInfo{}, inconsistent("request without representation declares body or form parameters")
		}
	case EncodingOctetStream:
		if len(spec.Form) > 0 {
			return ServiceInfo{}, inconsistent("single entity request declares form parameters")
		}
	case EncodingMultipartForm, EncodingURLEncodedForm:
		if spec.Body != nil {
			return ServiceInfo{}, inconsistent("form request declares a body parameter")
		}
	default:
		return ServiceInfo{}, inconsistent("unknown request encoding %q", encoding)
	}

	info := ServiceInfo{
		address:   address,
		method:    method,
		encoding:  encoding,
		templates: cloneParams(spec.Template),
		queries:   cloneParams(spec.Query),
		headers:   cloneParams(spec.Header),
		forms:     cloneParams(spec.Form),
		outcomes:  cloneOutcomes(spec.Outcomes),
	}
	if spec.Body != nil {
		body := spec.Body.clone()
		info.body = &body
	}
	return info, nil
}

func (s ServiceInfo) Address() string {
	return s.address
}

func (s ServiceInfo) Method() string {
	return s.method
}

func (s ServiceInfo) Encoding() RequestEncoding {
	return s.encoding
}

func (s ServiceInfo) TemplateParameters() []ParameterBinding {
	return cloneParams(s.templates)
}

func (s ServiceInfo) QueryParameters() []ParameterBinding {
	return cloneParams(s.queries)
}

func (s ServiceInfo) HeaderParameters() []ParameterBinding {
	return cloneParams(s.headers)
}

func (s ServiceInfo) FormParameters() []ParameterBinding {
	return cloneParams(s.forms)
}

func (s ServiceInfo) Outcomes() []OutcomeBinding {
	return cloneOutcomes(s.outcomes)
}

func (s ServiceInfo) BodyParameter() (ParameterBinding, bool) {
	if s.body == nil {
		return ParameterBinding{}, false
	}
	return s.body.clone(), true
}

// FileParameter returns the parameter that carries input files: the body
// when it is file valued, otherwise the first file valued form parameter.
func (s ServiceInfo) FileParameter() (ParameterBinding, bool) {
	if s.body != nil && s.body.IsFile() {
		return s.body.clone(), true
	}
	for _, p := range s.forms {
		if p.IsFile() {
			return p.clone(), true
		}
	}
	return ParameterBinding{}, false
}

// IsZero reports whether s was never built.
func (s ServiceInfo) IsZero() bool {
	return s.address == ""
}

func cloneParams(in []ParameterBinding) []ParameterBinding {
	if len(in) == 0 {
		return nil
	}
	out := make([]ParameterBinding, 0, len(in))
	for _, p := range in {
		out = append(out, p.clone())
	}
	return out
}

func cloneOutcomes(in []OutcomeBinding) []OutcomeBinding {
	if len(in) == 0 {
		return nil
	}
	out := make([]OutcomeBinding, 0, len(in))
	for _, o := range in {
		out = append(out, o.clone())
	}
	return out
}
