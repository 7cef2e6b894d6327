package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
)

// DecodeWADL parses a WADL document. Responses without a status attribute
// default to 200 and params without a style default to plain.
func DecodeWADL(data []byte) (Application, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Application{}, errors.New("wadl: document is empty")
	}
	var app Application
	if err := xml.Unmarshal(data, &app); err != nil {
		return Application{}, fmt.Errorf("wadl: decode: %w", err)
	}
	if len(app.Resources) == 0 {
		return Application{}, errors.New("wadl: document declares no resources")
	}
	for i := range app.Resources {
		for j := range app.Resources[i].Resources {
			normalizeResource(&app.Resources[i].Resources[j])
		}
	}
	return app, nil
}

func normalizeResource(res *Resource) {
	normalizeParams(res.Params)
	for i := range res.Methods {
		m := &res.Methods[i]
		if m.Request != nil {
			normalizeParams(m.Request.Params)
			for j := range m.Request.Representations {
				normalizeParams(m.Request.Representations[j].Params)
			}
		}
		for j := range m.Responses {
			resp := &m.Responses[j]
			if len(resp.Statuses) == 0 {
				resp.Statuses = StatusList{200}
			}
			normalizeParams(resp.Params)
			for k := range resp.Representations {
				normalizeParams(resp.Representations[k].Params)
			}
		}
	}
	for i := range res.Resources {
		normalizeResource(&res.Resources[i])
	}
}

func normalizeParams(params []Param) {
	for i := range params {
		if params[i].Style == "" {
			params[i].Style = StylePlain
		}
	}
}
