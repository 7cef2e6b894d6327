// Package descriptor models the technical description of a remote HTTP
// service: a resource tree with methods, parameters and representations.
// Documents are read from WADL or converted from OpenAPI 3.
package descriptor

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

type ParamStyle string

const (
	StyleTemplate ParamStyle = "template"
	StyleMatrix   ParamStyle = "matrix"
	StyleQuery    ParamStyle = "query"
	StyleHeader   ParamStyle = "header"
	StylePlain    ParamStyle = "plain"
)

const (
	MediaMultipartForm  = "multipart/form-data"
	MediaURLEncodedForm = "application/x-www-form-urlencoded"
	MediaXML            = "application/xml"
	MediaJSON           = "application/json"
	MediaOctetStream    = "application/octet-stream"
	MediaZip            = "application/zip"
	MediaTextPlain      = "text/plain"
)

type Application struct {
	XMLName   xml.Name      `xml:"application"`
	Resources []ResourceSet `xml:"resources"`
}

type ResourceSet struct {
	Base      string     `xml:"base,attr"`
	Resources []Resource `xml:"resource"`
}

type Resource struct {
	ID        string     `xml:"id,attr"`
	Path      string     `xml:"path,attr"`
	Params    []Param    `xml:"param"`
	Methods   []Method   `xml:"method"`
	Resources []Resource `xml:"resource"`
}

type Method struct {
	ID        string     `xml:"id,attr"`
	Name      string     `xml:"name,attr"`
	Request   *Request   `xml:"request"`
	Responses []Response `xml:"response"`
}

type Request struct {
	Params          []Param          `xml:"param"`
	Representations []Representation `xml:"representation"`
}

type Response struct {
	Statuses        StatusList       `xml:"status,attr"`
	Params          []Param          `xml:"param"`
	Representations []Representation `xml:"representation"`
}

type Representation struct {
	ID        string  `xml:"id,attr"`
	MediaType string  `xml:"mediaType,attr"`
	Params    []Param `xml:"param"`
}

type Param struct {
	ID        string     `xml:"id,attr"`
	Name      string     `xml:"name,attr"`
	Style     ParamStyle `xml:"style,attr"`
	Type      string     `xml:"type,attr"`
	Required  bool       `xml:"required,attr"`
	Repeating bool       `xml:"repeating,attr"`
	Options   []Option   `xml:"option"`
}

type Option struct {
	Value     string `xml:"value,attr"`
	MediaType string `xml:"mediaType,attr"`
}

// Key identifies the node for semantic name lookups: the id, or the name
// when the document gave the node no id.
func (p Param) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

// MediaTypes lists the distinct option media types in document order.
func (p Param) MediaTypes() []string {
	out := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		mt := strings.TrimSpace(opt.MediaType)
		if mt == "" || containsFold(out, mt) {
			continue
		}
		out = append(out, mt)
	}
	return out
}

// StatusList is the space separated status attribute of a WADL response.
type StatusList []int

func (s *StatusList) UnmarshalXMLAttr(attr xml.Attr) error {
	fields := strings.Fields(attr.Value)
	out := make(StatusList, 0, len(fields))
	for _, field := range fields {
		code, err := strconv.Atoi(field)
		if err != nil {
			return fmt.Errorf("invalid response status %q: %w", field, err)
		}
		out = append(out, code)
	}
	*s = out
	return nil
}

func (s StatusList) Contains(code int) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// ResourcePath is the chain of resources from a document root down to an
// addressed resource.
type ResourcePath struct {
	Base  string
	Chain []Resource
}

// Target returns the addressed resource.
func (p ResourcePath) Target() Resource {
	if len(p.Chain) == 0 {
		return Resource{}
	}
	return p.Chain[len(p.Chain)-1]
}

// Address concatenates the base and every path segment along the chain.
func (p ResourcePath) Address() string {
	address := strings.TrimRight(p.Base, "/")
	for _, res := range p.Chain {
		segment := strings.Trim(res.Path, "/")
		if segment == "" {
			continue
		}
		if address == "" {
			address = "/" + segment
			continue
		}
		address += "/" + segment
	}
	return address
}

// FindResource walks every resource tree in document order and returns the
// path to the first resource whose id matches.
func (a Application) FindResource(id string) (ResourcePath, bool) {
	for _, set := range a.Resources {
		for _, res := range set.Resources {
			if chain, ok := findResource(res, id, nil); ok {
				return ResourcePath{Base: set.Base, Chain: chain}, true
			}
		}
	}
	return ResourcePath{}, false
}

func findResource(res Resource, id string, chain []Resource) ([]Resource, bool) {
	chain = append(append([]Resource(nil), chain...), res)
	if res.ID == id {
		return chain, true
	}
	for _, child := range res.Resources {
		if found, ok := findResource(child, id, chain); ok {
			return found, true
		}
	}
	return nil, false
}

// Method returns the direct child method with the given id.
func (r Resource) Method(id string) (Method, bool) {
	for _, m := range r.Methods {
		if m.ID == id {
			return m, true
		}
	}
	return Method{}, false
}

// IsBooleanType reports whether a technical type is a boolean.
func IsBooleanType(t string) bool {
	return localName(t) == "boolean"
}

// IsBinaryType reports whether a technical type carries raw file content.
func IsBinaryType(t string) bool {
	switch localName(t) {
	case "file", "binary", "base64Binary", "hexBinary":
		return true
	default:
		return false
	}
}

// BaseMediaType strips parameters and lower-cases a media type.
func BaseMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsZip reports whether a media type denotes a zip archive.
func IsZip(mt string) bool {
	switch BaseMediaType(mt) {
	case MediaZip, "application/x-zip-compressed", "application/x-zip":
		return true
	default:
		return false
	}
}

func localName(t string) string {
	t = strings.TrimSpace(t)
	if i := strings.LastIndexAny(t, ":#/"); i >= 0 {
		return t[i+1:]
	}
	return t
}

func containsFold(values []string, v string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, v) {
			return true
		}
	}
	return false
}
