package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/execution/archive"
	"github.com/animus-labs/animus-migrate/internal/execution/invoker"
	"github.com/animus-labs/animus-migrate/internal/execution/plan"
	"github.com/animus-labs/animus-migrate/internal/ledger"
)

const (
	maxLoggedBody    = 4 << 10
	maxLocationBytes = 64 << 10
	outputDir        = "out"
)

// remote performs one call to one service within a run and records it.
type remote struct {
	o       *Orchestrator
	st      *state
	service domain.ServiceRef
	kind    ledger.Kind
	index   int
}

// files invokes a transformation and stores the returned file, unpacking
// it when the service answers with an archive. A file that was not
// unpacked comes back with an empty Name.
func (r remote) files(ctx context.Context, info binding.ServiceInfo, exec plan.ExecutionInfo, outputFormat string) (outs []archive.Entry, err error) {
	started := time.Now().UTC()
	status := 0
	defer func() { r.record(ctx, started, status, err) }()

	outcome, err := r.o.invoker.Invoke(ctx, exec)
	if err != nil {
		return nil, err
	}
	defer outcome.Close()
	status = outcome.StatusCode

	expected, err := outcome.Expect(info.Outcomes(), "file", binding.OutcomeBinding.IsFile)
	if err != nil {
		r.logResponse(outcome, err)
		return nil, err
	}
	if expected.Style != binding.OutcomeBody {
		return nil, &invoker.UnexpectedResponseError{
			StatusCode:  outcome.StatusCode,
			ContentType: outcome.ContentType,
			Reason:      "file outcome " + expected.SemanticName + " is not carried in the body",
		}
	}

	dir := filepath.Join(r.st.run.WorkDir, outputDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	local := filepath.Join(dir, uuid.NewString())
	if err := writeBody(local, outcome.Body); err != nil {
		return nil, err
	}
	if !r.isArchive(expected, outcome.ContentType, outputFormat) {
		return []archive.Entry{{Path: local}}, nil
	}

	entries, err := archive.Extract(local, filepath.Join(dir, uuid.NewString()))
	if err != nil {
		return nil, err
	}
	_ = os.Remove(local)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: archive from %s is empty", ErrOutputCount, r.service)
	}
	return entries, nil
}

// isArchive reports whether a file response has to be unpacked. Archives
// are kept whole when the output format itself is zip.
func (r remote) isArchive(expected binding.OutcomeBinding, contentType, outputFormat string) bool {
	if r.o.formats != nil {
		for _, mt := range r.o.formats.MimeTypes(outputFormat) {
			if descriptor.IsZip(mt) {
				return false
			}
		}
	}
	return expected.IsBundle() || descriptor.IsZip(contentType)
}

func writeBody(dest string, body io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: read body: %w", invoker.ErrInvalidResponse, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

// clientLocation invokes the delivery service and extracts the location
// from the body or the declared header.
func (r remote) clientLocation(ctx context.Context, info binding.ServiceInfo, exec plan.ExecutionInfo) (location string, err error) {
	started := time.Now().UTC()
	status := 0
	defer func() { r.record(ctx, started, status, err) }()

	outcome, err := r.o.invoker.Invoke(ctx, exec)
	if err != nil {
		return "", err
	}
	defer outcome.Close()
	status = outcome.StatusCode

	expected, err := outcome.Expect(info.Outcomes(), "client location", binding.OutcomeBinding.IsClientLocation)
	if err != nil {
		r.logResponse(outcome, err)
		return "", err
	}
	switch expected.Style {
	case binding.OutcomeHeader:
		location = outcome.Header.Get(expected.TechnicalName)
	default:
		data, err := io.ReadAll(io.LimitReader(outcome.Body, maxLocationBytes))
		if err != nil {
			return "", fmt.Errorf("%w: read body: %w", invoker.ErrInvalidResponse, err)
		}
		location = string(data)
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ErrEmptyLocation
	}
	return location, nil
}

// logResponse logs a rejected response with a snippet of its body. Reading
// the body is best effort.
func (r remote) logResponse(outcome *invoker.ExecutionOutcome, cause error) {
	attrs := []any{
		"service_id", r.service.ID,
		"service_name", r.service.Name,
		"status", outcome.StatusCode,
		"content_type", outcome.ContentType,
		"error", cause,
	}
	if outcome.Body != nil {
		data, err := io.ReadAll(io.LimitReader(outcome.Body, maxLoggedBody))
		if err != nil {
			r.o.logger.Debug("read rejected response body", "service_id", r.service.ID, "error", err)
		}
		if len(data) > 0 {
			attrs = append(attrs, "body", string(data))
		}
	}
	r.o.logger.Warn("remote service returned unexpected response", attrs...)
}

func (r remote) record(ctx context.Context, started time.Time, httpStatus int, callErr error) {
	finished := time.Now().UTC()
	record := ledger.Record{
		ID:         uuid.NewString(),
		RunID:      r.st.run.ID,
		PlanID:     r.st.planID,
		ObjectID:   r.st.run.ObjectID,
		ServiceID:  r.service.ID,
		StepIndex:  r.index,
		Kind:       r.kind,
		Status:     ledger.StatusSucceeded,
		HTTPStatus: httpStatus,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if callErr != nil {
		record.Status = ledger.StatusFailed
		record.ErrorMessage = callErr.Error()
		var unexpected *invoker.UnexpectedResponseError
		if errors.As(callErr, &unexpected) && record.HTTPStatus == 0 {
			record.HTTPStatus = unexpected.StatusCode
		}
	}
	if err := r.o.recorder.Append(context.WithoutCancel(ctx), record); err != nil {
		r.o.logger.Warn("record invocation", "run_id", r.st.run.ID, "service_id", r.service.ID, "error", err)
	}
}
