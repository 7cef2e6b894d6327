package descriptor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// FromOpenAPI converts an OpenAPI 3 document into the resource tree model.
//
// Every path becomes one resource whose id is the path template and every
// operation one method whose id is the operationId (or "method:path").
// Parameter ids are "<operationId>.<name>", all request body
// representations share the id "<operationId>.body" and all response
// representations the id "<operationId>.response". Content maps carry no
// order, so representations are ordered by media type.
func FromOpenAPI(ctx context.Context, data []byte) (Application, error) {
	if len(data) == 0 {
		return Application{}, errors.New("openapi: document is empty")
	}
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return Application{}, fmt.Errorf("openapi: load document: %w", err)
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return Application{}, errors.New("openapi: document does not contain any paths")
	}

	set := ResourceSet{}
	if len(doc.Servers) > 0 && doc.Servers[0] != nil {
		set.Base = doc.Servers[0].URL
	}

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for path := range paths {
		keys = append(keys, path)
	}
	sort.Strings(keys)

	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}
		res := Resource{ID: path, Path: path}
		operations := item.Operations()
		methods := make([]string, 0, len(operations))
		for method := range operations {
			methods = append(methods, method)
		}
		sort.Strings(methods)
		for _, method := range methods {
			op := operations[method]
			if op == nil {
				continue
			}
			res.Methods = append(res.Methods, convertOperation(strings.ToUpper(method), path, item.Parameters, op))
		}
		set.Resources = append(set.Resources, res)
	}
	return Application{Resources: []ResourceSet{set}}, nil
}

func convertOperation(method, path string, shared openapi3.Parameters, op *openapi3.Operation) Method {
	opID := op.OperationID
	if opID == "" {
		opID = strings.ToLower(method) + ":" + path
	}
	out := Method{ID: opID, Name: method, Request: &Request{}}

	for _, ref := range append(append(openapi3.Parameters{}, shared...), op.Parameters...) {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		var style ParamStyle
		switch p.In {
		case openapi3.ParameterInPath:
			style = StyleTemplate
		case openapi3.ParameterInQuery:
			style = StyleQuery
		case openapi3.ParameterInHeader:
			style = StyleHeader
		default:
			continue
		}
		out.Request.Params = append(out.Request.Params, Param{
			ID:        opID + "." + p.Name,
			Name:      p.Name,
			Style:     style,
			Type:      schemaType(p.Schema),
			Required:  p.Required || style == StyleTemplate,
			Repeating: isArraySchema(p.Schema),
		})
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		content := op.RequestBody.Value.Content
		for _, mediaType := range sortedMediaTypes(content) {
			out.Request.Representations = append(out.Request.Representations,
				requestRepresentation(opID, mediaType, content[mediaType]))
		}
	}

	if op.Responses != nil {
		responses := op.Responses.Map()
		codes := make([]string, 0, len(responses))
		for code := range responses {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			status, err := strconv.Atoi(code)
			if err != nil {
				// "default" and ranges such as "2XX" have no concrete status.
				continue
			}
			ref := responses[code]
			if ref == nil || ref.Value == nil {
				continue
			}
			out.Responses = append(out.Responses, convertResponse(opID, status, ref.Value))
		}
	}
	return out
}

func requestRepresentation(opID, mediaType string, media *openapi3.MediaType) Representation {
	rep := Representation{ID: opID + ".body", MediaType: mediaType}
	base := BaseMediaType(mediaType)
	if base != MediaMultipartForm && base != MediaURLEncodedForm {
		return rep
	}
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return rep
	}
	schema := media.Schema.Value
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := schema.Properties[name]
		param := Param{
			ID:        opID + "." + name,
			Name:      name,
			Style:     StylePlain,
			Type:      schemaType(prop),
			Required:  contains(schema.Required, name),
			Repeating: isArraySchema(prop),
		}
		if enc, ok := media.Encoding[name]; ok && enc != nil {
			for _, ct := range strings.Split(enc.ContentType, ",") {
				if ct = strings.TrimSpace(ct); ct != "" {
					param.Options = append(param.Options, Option{MediaType: ct})
				}
			}
		}
		rep.Params = append(rep.Params, param)
	}
	return rep
}

func convertResponse(opID string, status int, resp *openapi3.Response) Response {
	out := Response{Statuses: StatusList{status}}

	headers := make([]string, 0, len(resp.Headers))
	for name := range resp.Headers {
		headers = append(headers, name)
	}
	sort.Strings(headers)
	for _, name := range headers {
		ref := resp.Headers[name]
		var schema *openapi3.SchemaRef
		if ref != nil && ref.Value != nil {
			schema = ref.Value.Schema
		}
		out.Params = append(out.Params, Param{
			ID:    opID + "." + name,
			Name:  name,
			Style: StyleHeader,
			Type:  schemaType(schema),
		})
	}

	for _, mediaType := range sortedMediaTypes(resp.Content) {
		rep := Representation{ID: opID + ".response", MediaType: mediaType}
		if media := resp.Content[mediaType]; media != nil && media.Schema != nil {
			if t := schemaType(media.Schema); !IsBinaryType(t) {
				rep.Params = append(rep.Params, Param{ID: opID + ".response.value", Name: "value", Style: StylePlain, Type: t})
			}
		}
		out.Representations = append(out.Representations, rep)
	}
	return out
}

func sortedMediaTypes(content openapi3.Content) []string {
	out := make([]string, 0, len(content))
	for mediaType := range content {
		out = append(out, mediaType)
	}
	sort.Strings(out)
	return out
}

func schemaType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil {
		return "xsd:string"
	}
	s := ref.Value
	switch {
	case isType(s, openapi3.TypeArray):
		return schemaType(s.Items)
	case isType(s, openapi3.TypeBoolean):
		return "xsd:boolean"
	case isType(s, openapi3.TypeInteger):
		return "xsd:int"
	case isType(s, openapi3.TypeNumber):
		return "xsd:double"
	case isType(s, openapi3.TypeString):
		switch s.Format {
		case "binary", "byte":
			return "file"
		case "uri", "url":
			return "xsd:anyURI"
		}
		return "xsd:string"
	default:
		return "xsd:string"
	}
}

func isArraySchema(ref *openapi3.SchemaRef) bool {
	return ref != nil && ref.Value != nil && isType(ref.Value, openapi3.TypeArray)
}

func isType(s *openapi3.Schema, t string) bool {
	if s == nil || s.Type == nil {
		return false
	}
	for _, candidate := range s.Type.Slice() {
		if candidate == t {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
