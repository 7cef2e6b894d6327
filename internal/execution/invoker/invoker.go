// Package invoker sends ExecutionInfos to remote services and validates the
// responses against the declared outcomes.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/execution/plan"
)

var (
	ErrInvalidRequest     = errors.New("invalid http request")
	ErrInvalidResponse    = errors.New("invalid http response")
	ErrUnexpectedResponse = errors.New("unexpected http response")
)

// UnexpectedResponseError describes a response the service never declared.
type UnexpectedResponseError struct {
	StatusCode  int
	ContentType string
	Reason      string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("%s: status=%d content_type=%q: %s", ErrUnexpectedResponse, e.StatusCode, e.ContentType, e.Reason)
}

func (e *UnexpectedResponseError) Unwrap() error {
	return ErrUnexpectedResponse
}

// ExecutionOutcome is a received response. The caller owns Body and must
// Close the outcome on every path.
type ExecutionOutcome struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	Header        http.Header
	Body          io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// Close releases the body. Further calls are no-ops.
func (o *ExecutionOutcome) Close() error {
	if o == nil || o.Body == nil {
		return nil
	}
	o.closeOnce.Do(func() {
		o.closeErr = o.Body.Close()
	})
	return o.closeErr
}

type Invoker struct {
	client *http.Client
	logger *slog.Logger
}

func New(client *http.Client, logger *slog.Logger) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{client: client, logger: logger}
}

// Invoke sends info and returns the response with its body still open.
func (i *Invoker) Invoke(ctx context.Context, info plan.ExecutionInfo) (*ExecutionOutcome, error) {
	req, err := newRequest(ctx, info)
	if err != nil {
		return nil, err
	}

	i.logger.Debug("invoking remote service", "method", req.Method, "url", req.URL.Redacted(), "encoding", info.Encoding)
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, req.Method, req.URL.Redacted(), err)
	}
	return &ExecutionOutcome{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Header:        resp.Header,
		Body:          resp.Body,
	}, nil
}

func newRequest(ctx context.Context, info plan.ExecutionInfo) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(info.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is empty", ErrInvalidRequest)
	}
	u, err := url.Parse(info.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: address %q is not an absolute http url", ErrInvalidRequest, info.Address())
	}
	if strings.ContainsAny(u.Path, "{}") {
		return nil, fmt.Errorf("%w: address %q has unresolved template parameters", ErrInvalidRequest, info.Address())
	}
	u.RawQuery = appendQuery(u.RawQuery, info.Query)

	body, err := newBody(info)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body.reader)
	if err != nil {
		body.close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if body.contentType != "" {
		req.Header.Set("Content-Type", body.contentType)
	}
	if body.disposition != "" {
		req.Header.Set("Content-Disposition", body.disposition)
	}
	if body.length >= 0 && body.reader != nil {
		req.ContentLength = body.length
	}
	for _, h := range info.Headers {
		req.Header.Add(h.Name, h.Value)
	}
	return req, nil
}

func appendQuery(raw string, values []plan.QueryValue) string {
	parts := make([]string, 0, len(values)+1)
	if raw != "" {
		parts = append(parts, raw)
	}
	for _, q := range values {
		if q.NoValue {
			parts = append(parts, url.QueryEscape(q.Name))
			continue
		}
		parts = append(parts, url.QueryEscape(q.Name)+"="+url.QueryEscape(q.Value))
	}
	return strings.Join(parts, "&")
}

type requestBody struct {
	reader      io.Reader
	close       func()
	contentType string
	disposition string
	length      int64
}

func newBody(info plan.ExecutionInfo) (requestBody, error) {
	none := requestBody{close: func() {}, length: -1}
	switch info.Encoding {
	case binding.EncodingNone, "":
		return none, nil
	case binding.EncodingOctetStream:
		if info.Body == nil {
			return none, nil
		}
		return entityBody(*info.Body)
	case binding.EncodingURLEncodedForm:
		form := url.Values{}
		for _, fv := range info.Form {
			if fv.Value.IsFile() {
				return requestBody{}, fmt.Errorf("%w: file part %q in url-encoded form", ErrInvalidRequest, fv.Name)
			}
			form.Add(fv.Name, fv.Value.Literal)
		}
		encoded := form.Encode()
		return requestBody{
			reader:      strings.NewReader(encoded),
			close:       func() {},
			contentType: descriptor.MediaURLEncodedForm,
			length:      int64(len(encoded)),
		}, nil
	case binding.EncodingMultipartForm:
		return multipartBody(info.Form)
	default:
		return requestBody{}, fmt.Errorf("%w: unknown encoding %q", ErrInvalidRequest, info.Encoding)
	}
}

func entityBody(v plan.Value) (requestBody, error) {
	if !v.IsFile() {
		contentType := v.ContentType
		if contentType == "" {
			contentType = descriptor.MediaTextPlain
		}
		return requestBody{
			reader:      strings.NewReader(v.Literal),
			close:       func() {},
			contentType: contentType,
			length:      int64(len(v.Literal)),
		}, nil
	}
	f, err := os.Open(v.File.Path)
	if err != nil {
		return requestBody{}, fmt.Errorf("%w: open %s: %v", ErrInvalidRequest, v.File.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return requestBody{}, fmt.Errorf("%w: stat %s: %v", ErrInvalidRequest, v.File.Path, err)
	}
	contentType := v.File.MimeType
	if contentType == "" {
		contentType = descriptor.MediaOctetStream
	}
	return requestBody{
		reader:      f,
		close:       func() { _ = f.Close() },
		contentType: contentType,
		disposition: mime.FormatMediaType("attachment", map[string]string{"filename": v.File.Filename}),
		length:      info.Size(),
	}, nil
}

// multipartBody streams the parts through a pipe so files are never held
// in memory.
func multipartBody(parts []plan.FormValue) (requestBody, error) {
	for _, fv := range parts {
		if fv.Value.IsFile() {
			if _, err := os.Stat(fv.Value.File.Path); err != nil {
				return requestBody{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, parts))
	}()
	return requestBody{
		reader:      pr,
		close:       func() { _ = pr.Close() },
		contentType: mw.FormDataContentType(),
		length:      -1,
	}, nil
}

func writeParts(mw *multipart.Writer, parts []plan.FormValue) error {
	for _, fv := range parts {
		if !fv.Value.IsFile() {
			if err := mw.WriteField(fv.Name, fv.Value.Literal); err != nil {
				return err
			}
			continue
		}
		if err := writeFilePart(mw, fv.Name, *fv.Value.File); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, name string, file plan.FileValue) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType := file.MimeType
	if contentType == "" {
		contentType = descriptor.MediaOctetStream
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": name, "filename": file.Filename}))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Validate returns the outcome bindings the response satisfies. It depends
// only on the status, the content type and the bindings.
func Validate(statusCode int, contentType string, bindings []binding.OutcomeBinding) ([]binding.OutcomeBinding, error) {
	var accepted []binding.OutcomeBinding
	for _, b := range bindings {
		if !b.AcceptsStatus(statusCode) {
			continue
		}
		if b.Style == binding.OutcomeBody && !acceptsContentType(b, contentType) {
			return nil, &UnexpectedResponseError{
				StatusCode:  statusCode,
				ContentType: contentType,
				Reason:      "content type not declared for outcome " + outcomeName(b),
			}
		}
		accepted = append(accepted, b)
	}
	if len(accepted) == 0 {
		return nil, &UnexpectedResponseError{
			StatusCode:  statusCode,
			ContentType: contentType,
			Reason:      "status " + strconv.Itoa(statusCode) + " matches no declared outcome",
		}
	}
	return accepted, nil
}

func acceptsContentType(b binding.OutcomeBinding, contentType string) bool {
	base := descriptor.BaseMediaType(contentType)
	if base == "" || base == descriptor.MediaOctetStream {
		return true
	}
	if strings.HasPrefix(base, descriptor.MediaTextPlain) && b.HasTextualType() {
		return true
	}
	for _, mt := range b.MimeTypes {
		if descriptor.BaseMediaType(mt) == base {
			return true
		}
	}
	return false
}

func outcomeName(b binding.OutcomeBinding) string {
	if b.SemanticName != "" {
		return strconv.Quote(b.SemanticName)
	}
	if b.TechnicalName != "" {
		return strconv.Quote(b.TechnicalName)
	}
	return "(unnamed)"
}

// Validate checks o against bindings.
func (o *ExecutionOutcome) Validate(bindings []binding.OutcomeBinding) ([]binding.OutcomeBinding, error) {
	return Validate(o.StatusCode, o.ContentType, bindings)
}

// Expect validates o and returns the first accepted binding satisfying
// match. Missing the expected kind is an unexpected response.
func (o *ExecutionOutcome) Expect(bindings []binding.OutcomeBinding, what string, match func(binding.OutcomeBinding) bool) (binding.OutcomeBinding, error) {
	accepted, err := o.Validate(bindings)
	if err != nil {
		return binding.OutcomeBinding{}, err
	}
	for _, b := range accepted {
		if match(b) {
			return b, nil
		}
	}
	return binding.OutcomeBinding{}, &UnexpectedResponseError{
		StatusCode:  o.StatusCode,
		ContentType: o.ContentType,
		Reason:      "response carries no " + what + " outcome",
	}
}
