// Package pipeline drives a digital object's files through a transformation
// path and delivers the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/execution/invoker"
	"github.com/animus-labs/animus-migrate/internal/execution/plan"
	"github.com/animus-labs/animus-migrate/internal/formats"
	"github.com/animus-labs/animus-migrate/internal/ledger"
)

var (
	ErrNoInputFiles       = errors.New("no input files match the step input format")
	ErrOutputCount        = errors.New("unexpected number of output files")
	ErrEmptyLocation      = errors.New("delivery returned no client location")
	ErrUnknownCardinality = errors.New("unknown cardinality")
)

// Invoker sends one request to a remote service.
type Invoker interface {
	Invoke(ctx context.Context, info plan.ExecutionInfo) (*invoker.ExecutionOutcome, error)
}

type TransformationStep struct {
	Service      domain.ServiceRef
	Info         binding.ServiceInfo
	Cardinality  domain.Cardinality
	InputFormat  string
	OutputFormat string
}

type DeliveryStep struct {
	Service domain.ServiceRef
	Info    binding.ServiceInfo
}

// Path is a resolved migration plan.
type Path struct {
	ID              string
	Transformations []TransformationStep
	Delivery        DeliveryStep
}

// Run identifies one execution. WorkDir is owned by the run.
type Run struct {
	ID       string
	ObjectID string
	WorkDir  string
}

type Result struct {
	Location string                 `json:"location"`
	Files    []*domain.DataFileInfo `json:"files"`
}

// TransformationError reports the transformation service that failed.
type TransformationError struct {
	Service domain.ServiceRef
	Step    int
	Err     error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transformation step %d by service %s failed: %v", e.Step, e.Service, e.Err)
}

func (e *TransformationError) Unwrap() error {
	return e.Err
}

// DeliveryError reports the delivery service that failed.
type DeliveryError struct {
	Service domain.ServiceRef
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery by service %s failed: %v", e.Service, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Orchestrator struct {
	invoker  Invoker
	formats  formats.Registry
	recorder ledger.Recorder
	logger   *slog.Logger
}

func New(inv Invoker, registry formats.Registry, recorder ledger.Recorder, logger *slog.Logger) *Orchestrator {
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{invoker: inv, formats: registry, recorder: recorder, logger: logger}
}

// state is the mutable file set of one run.
type state struct {
	run     Run
	planID  string
	files   []*domain.DataFileInfo
	builder *plan.Builder
}

// Execute runs every transformation of path in order, then the delivery.
// The first failure aborts the run. files are modified in place.
func (o *Orchestrator) Execute(ctx context.Context, run Run, files []*domain.DataFileInfo, path Path) (Result, error) {
	st := &state{
		run:     run,
		planID:  path.ID,
		files:   append([]*domain.DataFileInfo(nil), files...),
		builder: plan.NewBuilder(o.formats, run.WorkDir),
	}
	domain.SortFiles(st.files)

	logger := o.logger.With("run_id", run.ID, "plan_id", path.ID, "object_id", run.ObjectID)
	for i, step := range path.Transformations {
		if err := o.transform(ctx, st, i, step); err != nil {
			logger.Error("transformation failed", "step", i, "service_id", step.Service.ID, "error", err)
			return Result{}, err
		}
		logger.Info("transformation finished", "step", i, "service_id", step.Service.ID, "files", len(st.files))
	}

	location, err := o.deliver(ctx, st, len(path.Transformations), path.Delivery)
	if err != nil {
		logger.Error("delivery failed", "service_id", path.Delivery.Service.ID, "error", err)
		return Result{}, err
	}
	logger.Info("delivery finished", "service_id", path.Delivery.Service.ID, "location", location)
	return Result{Location: location, Files: st.files}, nil
}

// transform applies one step through its cardinality handler and wraps any
// failure with the service identity.
func (o *Orchestrator) transform(ctx context.Context, st *state, index int, step TransformationStep) error {
	wrap := func(err error) error {
		return &TransformationError{Service: step.Service, Step: index, Err: err}
	}
	h, ok := handlers[step.Cardinality]
	if !ok {
		return wrap(fmt.Errorf("%w: %q", ErrUnknownCardinality, step.Cardinality))
	}

	var group []*domain.DataFileInfo
	for _, f := range st.files {
		if strings.TrimSpace(f.Format) == strings.TrimSpace(step.InputFormat) {
			group = append(group, f)
		}
	}
	if len(group) == 0 {
		return wrap(fmt.Errorf("%w: %s", ErrNoInputFiles, step.InputFormat))
	}

	call := &stepCall{o: o, st: st, step: step, index: index}
	if err := h.apply(ctx, call, group); err != nil {
		return wrap(err)
	}
	domain.SortFiles(st.files)
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, st *state, index int, step DeliveryStep) (string, error) {
	wrap := func(err error) error {
		return &DeliveryError{Service: step.Service, Err: err}
	}
	exec, err := st.builder.VariousFiles(step.Info, st.files)
	if err != nil {
		return "", wrap(err)
	}
	r := remote{o: o, st: st, service: step.Service, kind: ledger.KindDelivery, index: index}
	location, err := r.clientLocation(ctx, step.Info, exec)
	if err != nil {
		return "", wrap(err)
	}
	return location, nil
}
