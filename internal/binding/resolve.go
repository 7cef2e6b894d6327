package binding

import (
	"strings"

	"github.com/animus-labs/animus-migrate/internal/descriptor"
)

// Description is everything needed to resolve one service.
type Description struct {
	Parameters []SemanticRecord
	Outcomes   []SemanticRecord
	Technical  descriptor.Application
	ResourceID string
	MethodID   string
	Names      NameMapping
}

// Resolve merges the semantic and technical descriptions into a ServiceInfo.
// The result is deterministic for a given description; every failure wraps
// ErrInconsistentDescription.
//
// Two selection rules depend on document order and are kept deliberately:
// the first request representation decides the request encoding, and the
// first representation of a response decides which semantic outcome its
// body carries.
func Resolve(d Description) (ServiceInfo, error) {
	path, ok := d.Technical.FindResource(d.ResourceID)
	if !ok {
		return ServiceInfo{}, inconsistent("resource %q not found in technical descriptor", d.ResourceID)
	}
	method, ok := path.Target().Method(d.MethodID)
	if !ok {
		return ServiceInfo{}, inconsistent("method %q not found on resource %q", d.MethodID, d.ResourceID)
	}

	r := &resolver{
		names:      d.Names,
		parameters: indexRecords(d.Parameters),
		outcomes:   indexRecords(d.Outcomes),
		bound:      make(map[string]*ParameterBinding),
	}

	for _, res := range path.Chain {
		for _, p := range res.Params {
			if err := r.bindPlainParam(p); err != nil {
				return ServiceInfo{}, err
			}
		}
	}

	encoding := EncodingNone
	if method.Request != nil {
		for _, p := range method.Request.Params {
			if err := r.bindPlainParam(p); err != nil {
				return ServiceInfo{}, err
			}
		}
		if len(method.Request.Representations) > 0 {
			encoding = encodingFor(method.Request.Representations[0].MediaType)
			if err := r.bindRepresentations(encoding, method.Request.Representations); err != nil {
				return ServiceInfo{}, err
			}
		}
	}

	for _, resp := range method.Responses {
		if err := r.bindResponse(resp); err != nil {
			return ServiceInfo{}, err
		}
	}

	spec := ServiceInfoSpec{
		Address:  path.Address(),
		Method:   method.Name,
		Encoding: encoding,
		Outcomes: r.outcomeList,
	}
	for _, name := range r.order {
		p := *r.bound[name]
		if err := checkBundle(p); err != nil {
			return ServiceInfo{}, err
		}
		switch p.Style {
		case StyleTemplate:
			spec.Template = append(spec.Template, p)
		case StyleQuery:
			spec.Query = append(spec.Query, p)
		case StyleHeader:
			spec.Header = append(spec.Header, p)
		case StyleForm:
			spec.Form = append(spec.Form, p)
		case StyleBody:
			body := p
			spec.Body = &body
		}
	}
	for _, o := range r.outcomeList {
		if err := checkOutcomeBundle(o); err != nil {
			return ServiceInfo{}, err
		}
	}
	return NewServiceInfo(spec)
}

type resolver struct {
	names      NameMapping
	parameters map[string][]SemanticRecord
	outcomes   map[string][]SemanticRecord

	bound       map[string]*ParameterBinding
	order       []string
	outcomeList []OutcomeBinding
}

func indexRecords(records []SemanticRecord) map[string][]SemanticRecord {
	out := make(map[string][]SemanticRecord, len(records))
	for _, rec := range records {
		name := strings.TrimSpace(rec.Name)
		out[name] = append(out[name], rec)
	}
	return out
}

// semanticName resolves a technical node to exactly one semantic name.
// ok is false when the node has no mapping at all.
func (r *resolver) semanticName(key string) (string, bool, error) {
	names := r.names[key]
	switch len(names) {
	case 0:
		return "", false, nil
	case 1:
		return strings.TrimSpace(names[0]), true, nil
	default:
		return "", false, inconsistent("technical node %q maps to several semantic names %v", key, names)
	}
}

func lookupRecord(kind string, index map[string][]SemanticRecord, name string) (SemanticRecord, error) {
	matches := index[name]
	switch len(matches) {
	case 0:
		return SemanticRecord{}, inconsistent("no semantic %s named %q", kind, name)
	case 1:
		return matches[0], nil
	default:
		return SemanticRecord{}, inconsistent("semantic %s name %q is ambiguous (%d records)", kind, name, len(matches))
	}
}

func (r *resolver) bindPlainParam(p descriptor.Param) error {
	var style Style
	switch p.Style {
	case descriptor.StyleTemplate:
		style = StyleTemplate
		if p.Repeating {
			return inconsistent("template parameter %q must not be repeating", p.Key())
		}
	case descriptor.StyleQuery, descriptor.StyleMatrix:
		style = StyleQuery
	case descriptor.StyleHeader:
		style = StyleHeader
	default:
		return inconsistent("parameter %q has unsupported style %q outside a representation", p.Key(), p.Style)
	}
	binding, err := r.newBinding(p.Key(), p, style, nil)
	if err != nil {
		return err
	}
	if style == StyleTemplate {
		binding.Required = true
	}
	return r.merge(binding)
}

func (r *resolver) bindRepresentations(encoding RequestEncoding, reps []descriptor.Representation) error {
	for _, rep := range reps {
		if got := encodingFor(rep.MediaType); got != encoding {
			return inconsistent("request mixes %s and %s representations", encoding, got)
		}
		if encoding == EncodingOctetStream {
			if len(rep.Params) > 0 {
				return inconsistent("entity representation %q declares parameters", rep.MediaType)
			}
			key := strings.TrimSpace(rep.ID)
			if key == "" {
				return inconsistent("entity representation %q has no id", rep.MediaType)
			}
			binding, err := r.newBinding(key, descriptor.Param{ID: rep.ID, Name: rep.ID}, StyleBody, []string{rep.MediaType})
			if err != nil {
				return err
			}
			binding.Required = true
			for name, existing := range r.bound {
				if existing.Style == StyleBody && name != binding.SemanticName {
					return inconsistent("request declares more than one body parameter (%q, %q)", name, binding.SemanticName)
				}
			}
			if err := r.merge(binding); err != nil {
				return err
			}
			continue
		}
		for _, p := range rep.Params {
			binding, err := r.newBinding(p.Key(), p, StyleForm, p.MediaTypes())
			if err != nil {
				return err
			}
			if binding.IsFile() && encoding == EncodingURLEncodedForm {
				return inconsistent("file parameter %q cannot travel in a url-encoded form", binding.SemanticName)
			}
			if err := r.merge(binding); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *resolver) newBinding(key string, p descriptor.Param, style Style, mimeTypes []string) (ParameterBinding, error) {
	name, ok, err := r.semanticName(key)
	if err != nil {
		return ParameterBinding{}, err
	}
	if !ok {
		return ParameterBinding{}, inconsistent("technical parameter %q has no semantic name", key)
	}
	rec, err := lookupRecord("parameter", r.parameters, name)
	if err != nil {
		return ParameterBinding{}, err
	}
	binding := ParameterBinding{
		Style:         style,
		SemanticName:  name,
		SemanticType:  rec.Type,
		BundleType:    strings.TrimSpace(rec.BundleType),
		TechnicalID:   p.ID,
		TechnicalName: p.Name,
		TechnicalType: p.Type,
		Repeating:     p.Repeating,
		Required:      p.Required,
		Value:         rec.Value,
	}
	if binding.IsFile() {
		binding.MimeTypes = appendUnique(nil, mimeTypes...)
		if len(binding.MimeTypes) == 0 {
			binding.MimeTypes = []string{descriptor.MediaOctetStream}
		}
	} else if style == StyleBody {
		binding.MimeTypes = appendUnique(nil, mimeTypes...)
	}
	return binding, nil
}

// merge records a binding, folding repeated occurrences of one semantic
// name (alternative representations) into a single binding.
func (r *resolver) merge(b ParameterBinding) error {
	existing, ok := r.bound[b.SemanticName]
	if !ok {
		r.bound[b.SemanticName] = &b
		r.order = append(r.order, b.SemanticName)
		return nil
	}
	if existing.Style != b.Style {
		return inconsistent("semantic parameter %q is bound as both %s and %s", b.SemanticName, existing.Style, b.Style)
	}
	if existing.Repeating != b.Repeating {
		return inconsistent("semantic parameter %q is declared both repeating and single", b.SemanticName)
	}
	if b.Style != StyleBody && !strings.EqualFold(existing.TechnicalType, b.TechnicalType) {
		return inconsistent("semantic parameter %q has conflicting technical types %q and %q", b.SemanticName, existing.TechnicalType, b.TechnicalType)
	}
	if b.Style != StyleBody && existing.TechnicalName != b.TechnicalName {
		return inconsistent("semantic parameter %q is carried by %q and %q", b.SemanticName, existing.TechnicalName, b.TechnicalName)
	}
	existing.Required = existing.Required || b.Required
	existing.MimeTypes = appendUnique(existing.MimeTypes, b.MimeTypes...)
	return nil
}

func (r *resolver) bindResponse(resp descriptor.Response) error {
	statuses := append([]int(nil), resp.Statuses...)
	required := resp.Statuses.Contains(200)

	for _, p := range resp.Params {
		if p.Style != descriptor.StyleHeader {
			return inconsistent("response parameter %q has unsupported style %q", p.Key(), p.Style)
		}
		outcome := OutcomeBinding{
			Style:          OutcomeHeader,
			TechnicalID:    p.ID,
			TechnicalName:  p.Name,
			TechnicalTypes: []string{p.Type},
			Repeating:      p.Repeating,
			Statuses:       statuses,
		}
		if err := r.describeOutcome(&outcome, p.Key(), required); err != nil {
			return err
		}
		if err := r.addOutcome(outcome); err != nil {
			return err
		}
	}

	if len(resp.Representations) == 0 {
		return nil
	}
	first := resp.Representations[0]
	key := representationKey(first)
	outcome := OutcomeBinding{
		Style:         OutcomeBody,
		TechnicalID:   first.ID,
		TechnicalName: first.ID,
		Statuses:      statuses,
	}
	if err := r.describeOutcome(&outcome, key, required); err != nil {
		return err
	}
	for _, rep := range resp.Representations {
		if representationKey(rep) != key {
			continue
		}
		outcome.MimeTypes = appendUnique(outcome.MimeTypes, rep.MediaType)
		for _, p := range rep.Params {
			outcome.TechnicalTypes = appendUnique(outcome.TechnicalTypes, p.Type)
		}
	}
	return r.addOutcome(outcome)
}

func representationKey(rep descriptor.Representation) string {
	if rep.ID != "" {
		return rep.ID
	}
	if len(rep.Params) > 0 {
		return rep.Params[0].Key()
	}
	return ""
}

// describeOutcome fills the semantic side of an outcome. Unmapped outcomes
// are kept as optional diagnostics unless the response covers status 200.
func (r *resolver) describeOutcome(o *OutcomeBinding, key string, required bool) error {
	name, ok, err := r.semanticName(key)
	if err != nil {
		return err
	}
	if !ok {
		if required {
			return inconsistent("response node %q for status 200 has no semantic name", key)
		}
		o.Optional = true
		return nil
	}
	rec, err := lookupRecord("outcome", r.outcomes, name)
	if err != nil {
		return err
	}
	o.SemanticName = name
	o.SemanticType = rec.Type
	o.BundleType = strings.TrimSpace(rec.BundleType)
	return nil
}

func (r *resolver) addOutcome(o OutcomeBinding) error {
	if !o.Optional {
		for _, existing := range r.outcomeList {
			if existing.SemanticName == o.SemanticName && existing.Style != o.Style {
				return inconsistent("semantic outcome %q is returned both as %s and %s", o.SemanticName, existing.Style, o.Style)
			}
		}
	}
	r.outcomeList = append(r.outcomeList, o)
	return nil
}

// checkBundle enforces that bundles, and only bundles, repeat. File
// parameters may carry a bundle as one archive instead of repeating.
func checkBundle(p ParameterBinding) error {
	_, hasZip := p.ZipMimeType()
	switch {
	case p.IsBundle() && p.IsFile():
		if !p.Repeating && !hasZip {
			return inconsistent("file bundle parameter %q is neither repeating nor offers a zip representation", p.SemanticName)
		}
	case p.IsBundle():
		if !p.Repeating {
			return inconsistent("bundle parameter %q must be repeating", p.SemanticName)
		}
	case p.Repeating:
		return inconsistent("parameter %q repeats but has no bundle type", p.SemanticName)
	}
	return nil
}

func checkOutcomeBundle(o OutcomeBinding) error {
	if o.Optional {
		return nil
	}
	hasZip := false
	for _, mt := range o.MimeTypes {
		if descriptor.IsZip(mt) {
			hasZip = true
		}
	}
	switch {
	case o.IsBundle() && o.Style == OutcomeBody:
		if !hasZip {
			return inconsistent("bundle outcome %q does not offer a zip representation", o.SemanticName)
		}
	case o.IsBundle():
		if !o.Repeating {
			return inconsistent("bundle outcome %q must be repeating", o.SemanticName)
		}
	case o.Repeating:
		return inconsistent("outcome %q repeats but has no bundle type", o.SemanticName)
	}
	return nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
