package invoker

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/execution/plan"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestInvokeEntityBody(t *testing.T) {
	var gotQuery, gotType, gotDisposition, gotClient, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		gotDisposition = r.Header.Get("Content-Disposition")
		gotClient = r.Header.Get("X-Client")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		if r.URL.Path != "/convert/jpeg" {
			http.Error(w, "bad path "+r.URL.Path, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("converted"))
	}))
	defer srv.Close()

	path := writeTemp(t, "scan 1.tif", "tiff-bytes")
	info := plan.ExecutionInfo{
		AddressTemplate: srv.URL + "/convert/{target}",
		Template:        []plan.TemplateValue{{Name: "target", Value: "jpeg"}},
		Method:          "POST",
		Encoding:        binding.EncodingOctetStream,
		Query:           []plan.QueryValue{{Name: "strip", NoValue: true}, {Name: "quality", Value: "90"}},
		Headers:         []plan.HeaderValue{{Name: "X-Client", Value: "migrator"}},
		Body:            &plan.Value{File: &plan.FileValue{Path: path, Filename: "scan 1.tif", MimeType: "image/tiff"}},
	}

	outcome, err := New(srv.Client(), nil).Invoke(context.Background(), info)
	if err != nil {
		t.Fatalf("Invoke() err=%v", err)
	}
	defer outcome.Close()

	if outcome.StatusCode != http.StatusOK || outcome.ContentType != "image/jpeg" {
		t.Fatalf("unexpected outcome: status=%d type=%q", outcome.StatusCode, outcome.ContentType)
	}
	data, err := io.ReadAll(outcome.Body)
	if err != nil || string(data) != "converted" {
		t.Fatalf("body=%q err=%v", data, err)
	}
	if gotQuery != "strip&quality=90" {
		t.Fatalf("query=%q", gotQuery)
	}
	if gotType != "image/tiff" || gotClient != "migrator" || gotBody != "tiff-bytes" {
		t.Fatalf("type=%q client=%q body=%q", gotType, gotClient, gotBody)
	}
	_, params, err := mime.ParseMediaType(gotDisposition)
	if err != nil || params["filename"] != "scan 1.tif" {
		t.Fatalf("disposition=%q err=%v", gotDisposition, err)
	}
}

func TestInvokeMultipart(t *testing.T) {
	type part struct {
		Name, Filename, ContentType, Content string
	}
	var got []part
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(p)
			ct := ""
			if p.FileName() != "" {
				ct = p.Header.Get("Content-Type")
			}
			got = append(got, part{p.FormName(), p.FileName(), ct, string(data)})
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := writeTemp(t, "a.jpg", "A")
	b := writeTemp(t, "b.jpg", "B")
	info := plan.ExecutionInfo{
		AddressTemplate: srv.URL + "/items",
		Method:          "post",
		Encoding:        binding.EncodingMultipartForm,
		Form: []plan.FormValue{
			{Name: "label", Value: plan.Value{Literal: "batch"}},
			{Name: "files", Value: plan.Value{File: &plan.FileValue{Path: a, Filename: "a.jpg", MimeType: "image/jpeg"}}},
			{Name: "files", Value: plan.Value{File: &plan.FileValue{Path: b, Filename: "b.jpg"}}},
		},
	}
	outcome, err := New(srv.Client(), nil).Invoke(context.Background(), info)
	if err != nil {
		t.Fatalf("Invoke() err=%v", err)
	}
	defer outcome.Close()

	if outcome.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d", outcome.StatusCode)
	}
	want := []part{
		{"label", "", "", "batch"},
		{"files", "a.jpg", "image/jpeg", "A"},
		{"files", "b.jpg", "application/octet-stream", "B"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeURLEncodedForm(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = r.PostForm.Get("collection")
	}))
	defer srv.Close()

	info := plan.ExecutionInfo{
		AddressTemplate: srv.URL,
		Method:          "PUT",
		Encoding:        binding.EncodingURLEncodedForm,
		Form:            []plan.FormValue{{Name: "collection", Value: plan.Value{Literal: "a&b"}}},
	}
	outcome, err := New(srv.Client(), nil).Invoke(context.Background(), info)
	if err != nil {
		t.Fatalf("Invoke() err=%v", err)
	}
	defer outcome.Close()
	if got != "a&b" {
		t.Fatalf("collection=%q", got)
	}

	info.Form = append(info.Form, plan.FormValue{Name: "f", Value: plan.Value{File: &plan.FileValue{Path: "x"}}})
	if _, err := New(srv.Client(), nil).Invoke(context.Background(), info); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("Invoke() err=%v, want ErrInvalidRequest", err)
	}
}

func TestInvokeRequestErrors(t *testing.T) {
	inv := New(nil, nil)
	cases := map[string]plan.ExecutionInfo{
		"relative address":    {AddressTemplate: "/convert", Method: "GET"},
		"bad scheme":          {AddressTemplate: "ftp://host/x", Method: "GET"},
		"unresolved template": {AddressTemplate: "http://host/{target}", Method: "GET"},
		"missing method":      {AddressTemplate: "http://host/x"},
		"missing file": {
			AddressTemplate: "http://host/x",
			Method:          "POST",
			Encoding:        binding.EncodingOctetStream,
			Body:            &plan.Value{File: &plan.FileValue{Path: filepath.Join(t.TempDir(), "missing")}},
		},
	}
	for name, info := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := inv.Invoke(context.Background(), info); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Invoke() err=%v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestInvokeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(nil, nil).Invoke(context.Background(), plan.ExecutionInfo{AddressTemplate: addr, Method: "GET"})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Invoke() err=%v, want ErrInvalidResponse", err)
	}
}

func TestInvokeHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.Client(), nil).Invoke(ctx, plan.ExecutionInfo{AddressTemplate: srv.URL, Method: "GET"})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("Invoke() err=%v, want canceled ErrInvalidResponse", err)
	}
}

type countingBody struct {
	io.Reader
	closes int
}

func (b *countingBody) Close() error {
	b.closes++
	return nil
}

func TestOutcomeCloseOnce(t *testing.T) {
	body := &countingBody{Reader: strings.NewReader("x")}
	o := &ExecutionOutcome{Body: body}
	_ = o.Close()
	_ = o.Close()
	if body.closes != 1 {
		t.Fatalf("closes=%d, want 1", body.closes)
	}
	var nilOutcome *ExecutionOutcome
	if err := nilOutcome.Close(); err != nil {
		t.Fatalf("nil Close() err=%v", err)
	}
}

func fileOutcome(mimes ...string) binding.OutcomeBinding {
	return binding.OutcomeBinding{
		Style:          binding.OutcomeBody,
		SemanticName:   "converted",
		SemanticType:   "sem:File",
		TechnicalTypes: []string{"xsd:base64Binary"},
		Statuses:       []int{200, 201},
		MimeTypes:      mimes,
	}
}

func TestValidate(t *testing.T) {
	location := binding.OutcomeBinding{
		Style:          binding.OutcomeBody,
		SemanticName:   "location",
		SemanticType:   "sem:ClientLocation",
		TechnicalTypes: []string{"xsd:anyURI"},
		Statuses:       []int{201},
		MimeTypes:      []string{"application/json"},
	}
	header := binding.OutcomeBinding{Style: binding.OutcomeHeader, SemanticName: "location", Statuses: []int{302}}
	diagnostic := binding.OutcomeBinding{Style: binding.OutcomeBody, Optional: true, Statuses: []int{500}, MimeTypes: []string{"text/plain"}}

	cases := []struct {
		name        string
		status      int
		contentType string
		bindings    []binding.OutcomeBinding
		accepted    int
	}{
		{"octet-stream always accepted", 200, "application/octet-stream", []binding.OutcomeBinding{fileOutcome("image/png")}, 1},
		{"missing content type", 200, "", []binding.OutcomeBinding{fileOutcome("image/png")}, 1},
		{"declared media type", 201, "image/JPEG; charset=binary", []binding.OutcomeBinding{fileOutcome("image/jpeg")}, 1},
		{"text for textual outcome", 201, "text/plain; charset=utf-8", []binding.OutcomeBinding{location}, 1},
		{"header outcome", 302, "text/html", []binding.OutcomeBinding{header, fileOutcome()}, 1},
		{"diagnostic outcome", 500, "text/plain", []binding.OutcomeBinding{fileOutcome(), diagnostic}, 1},
		{"undeclared media type", 200, "image/png", []binding.OutcomeBinding{fileOutcome("image/jpeg")}, 0},
		{"text for file outcome", 200, "text/plain", []binding.OutcomeBinding{fileOutcome("image/jpeg")}, 0},
		{"undeclared status", 404, "", []binding.OutcomeBinding{fileOutcome("image/jpeg"), header}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for range 2 {
				accepted, err := Validate(tc.status, tc.contentType, tc.bindings)
				if tc.accepted == 0 {
					var unexpected *UnexpectedResponseError
					if !errors.As(err, &unexpected) || unexpected.StatusCode != tc.status || unexpected.ContentType != tc.contentType {
						t.Fatalf("Validate() err=%v, want UnexpectedResponseError", err)
					}
					if !errors.Is(err, ErrUnexpectedResponse) {
						t.Fatalf("error does not wrap ErrUnexpectedResponse: %v", err)
					}
					continue
				}
				if err != nil || len(accepted) != tc.accepted {
					t.Fatalf("Validate()=%d,%v want %d accepted", len(accepted), err, tc.accepted)
				}
			}
		})
	}
}

func TestExpect(t *testing.T) {
	bindings := []binding.OutcomeBinding{
		{Style: binding.OutcomeHeader, Optional: true, TechnicalName: "X-Trace", Statuses: []int{200}},
		fileOutcome("image/jpeg"),
	}
	o := &ExecutionOutcome{StatusCode: 200, ContentType: "image/jpeg"}
	got, err := o.Expect(bindings, "file", binding.OutcomeBinding.IsFile)
	if err != nil || got.SemanticName != "converted" {
		t.Fatalf("Expect()=%+v,%v", got, err)
	}
	if _, err := o.Expect(bindings, "client location", binding.OutcomeBinding.IsClientLocation); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("Expect() err=%v, want ErrUnexpectedResponse", err)
	}
}
