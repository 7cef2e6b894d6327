package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/ledger"
	"github.com/animus-labs/animus-migrate/internal/pipeline"
	"github.com/animus-labs/animus-migrate/internal/planfile"
	"github.com/animus-labs/animus-migrate/internal/platform/httpserver"
	"github.com/animus-labs/animus-migrate/internal/storage/objectstore"
	"github.com/animus-labs/animus-migrate/internal/workspace"
)

type planSource interface {
	PlanIDs() []string
	Path(ctx context.Context, planID string) (pipeline.Path, error)
}

type executor interface {
	Execute(ctx context.Context, run pipeline.Run, files []*domain.DataFileInfo, path pipeline.Path) (pipeline.Result, error)
}

type invocationLister interface {
	ListByRun(ctx context.Context, runID string) ([]ledger.Record, error)
}

type migratorAPI struct {
	logger       *slog.Logger
	plans        planSource
	exec         executor
	store        objectstore.Store
	bucket       string
	workRoot     string
	keepWorkDirs bool
	// A nil invocations lister turns the listing endpoint off.
	invocations invocationLister
}

func (api *migratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /plans", api.handleListPlans)
	mux.HandleFunc("GET /plans/{plan_id}", api.handleGetPlan)
	mux.HandleFunc("POST /migrations", api.handleMigrate)
	mux.HandleFunc("GET /migrations/{run_id}/invocations", api.handleListInvocations)
}

func (api *migratorAPI) handleListPlans(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"plans": api.plans.PlanIDs()})
}

type serviceView struct {
	Service      domain.ServiceRef          `json:"service"`
	Cardinality  domain.Cardinality         `json:"cardinality,omitempty"`
	InputFormat  string                     `json:"input_format,omitempty"`
	OutputFormat string                     `json:"output_format,omitempty"`
	Address      string                     `json:"address"`
	Method       string                     `json:"method"`
	Encoding     binding.RequestEncoding    `json:"encoding"`
	Parameters   []binding.ParameterBinding `json:"parameters"`
	Outcomes     []binding.OutcomeBinding   `json:"outcomes"`
}

func viewService(ref domain.ServiceRef, info binding.ServiceInfo) serviceView {
	params := make([]binding.ParameterBinding, 0)
	params = append(params, info.TemplateParameters()...)
	params = append(params, info.QueryParameters()...)
	params = append(params, info.HeaderParameters()...)
	params = append(params, info.FormParameters()...)
	if body, ok := info.BodyParameter(); ok {
		params = append(params, body)
	}
	return serviceView{
		Service:    ref,
		Address:    info.Address(),
		Method:     info.Method(),
		Encoding:   info.Encoding(),
		Parameters: params,
		Outcomes:   info.Outcomes(),
	}
}

func (api *migratorAPI) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID := strings.TrimSpace(r.PathValue("plan_id"))
	path, err := api.plans.Path(r.Context(), planID)
	if err != nil {
		api.writePlanError(w, r, planID, err)
		return
	}

	steps := make([]serviceView, 0, len(path.Transformations))
	for _, step := range path.Transformations {
		v := viewService(step.Service, step.Info)
		v.Cardinality = step.Cardinality
		v.InputFormat = step.InputFormat
		v.OutputFormat = step.OutputFormat
		steps = append(steps, v)
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"plan_id":         path.ID,
		"transformations": steps,
		"delivery":        viewService(path.Delivery.Service, path.Delivery.Info),
	})
}

type migrateRequest struct {
	PlanID   string                 `json:"plan_id"`
	ObjectID string                 `json:"object_id"`
	Files    []workspace.StagedFile `json:"files"`
}

type migrateResponse struct {
	RunID    string                 `json:"run_id"`
	PlanID   string                 `json:"plan_id"`
	ObjectID string                 `json:"object_id"`
	Location string                 `json:"location"`
	Files    []*domain.DataFileInfo `json:"files"`
}

func (api *migratorAPI) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	objectID := strings.TrimSpace(req.ObjectID)
	if planID == "" {
		api.writeError(w, r, http.StatusBadRequest, "plan_id_required", nil)
		return
	}
	if objectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "object_id_required", nil)
		return
	}
	if len(req.Files) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "files_required", nil)
		return
	}

	path, err := api.plans.Path(r.Context(), planID)
	if err != nil {
		api.writePlanError(w, r, planID, err)
		return
	}

	ws, err := workspace.New(api.workRoot)
	if err != nil {
		api.logger.Error("create workspace failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	runID := ws.ID()
	logger := api.logger.With("run_id", runID, "plan_id", planID, "object_id", objectID)
	defer func() {
		if api.keepWorkDirs {
			logger.Info("work directory kept", "dir", ws.Dir())
			return
		}
		if err := ws.Remove(); err != nil {
			logger.Warn("remove work directory failed", "dir", ws.Dir(), "error", err)
		}
	}()

	files, err := ws.Stage(r.Context(), api.store, api.bucket, req.Files)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrInvalidPath):
			api.writeError(w, r, http.StatusBadRequest, "invalid_file_path", nil)
		case errors.Is(err, objectstore.ErrNotFound):
			api.writeError(w, r, http.StatusNotFound, "object_file_not_found", nil)
		default:
			logger.Error("stage files failed", "error", err)
			api.writeError(w, r, http.StatusBadGateway, "object_store_unavailable", nil)
		}
		return
	}

	logger.Info("migration started", "files", len(files), "transformations", len(path.Transformations))
	result, err := api.exec.Execute(r.Context(), pipeline.Run{ID: runID, ObjectID: objectID, WorkDir: ws.Dir()}, files, path)
	if err != nil {
		api.writeRunError(w, r, logger, runID, err)
		return
	}
	logger.Info("migration finished", "location", result.Location, "files", len(result.Files))

	httpserver.WriteJSON(w, http.StatusOK, migrateResponse{
		RunID:    runID,
		PlanID:   planID,
		ObjectID: objectID,
		Location: result.Location,
		Files:    result.Files,
	})
}

func (api *migratorAPI) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if api.invocations == nil {
		api.writeError(w, r, http.StatusNotFound, "ledger_disabled", nil)
		return
	}
	runID := strings.TrimSpace(r.PathValue("run_id"))
	records, err := api.invocations.ListByRun(r.Context(), runID)
	if err != nil {
		api.logger.Error("list invocations failed", "run_id", runID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"run_id": runID, "invocations": records})
}

func (api *migratorAPI) writePlanError(w http.ResponseWriter, r *http.Request, planID string, err error) {
	switch {
	case errors.Is(err, planfile.ErrPlanNotFound):
		api.writeError(w, r, http.StatusNotFound, "plan_not_found", nil)
	case errors.Is(err, descriptor.ErrFetch):
		api.logger.Error("plan descriptor unavailable", "plan_id", planID, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "descriptor_unavailable", nil)
	default:
		api.logger.Error("plan resolution failed", "plan_id", planID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "plan_unresolvable", map[string]any{"reason": err.Error()})
	}
}

func (api *migratorAPI) writeRunError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, runID string, err error) {
	var transformErr *pipeline.TransformationError
	var deliveryErr *pipeline.DeliveryError
	switch {
	case errors.As(err, &transformErr):
		logger.Error("transformation failed", "service", transformErr.Service.String(), "step", transformErr.Step, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "transformation_failed", map[string]any{
			"run_id":  runID,
			"service": transformErr.Service,
			"step":    transformErr.Step,
			"reason":  transformErr.Err.Error(),
		})
	case errors.As(err, &deliveryErr):
		logger.Error("delivery failed", "service", deliveryErr.Service.String(), "error", err)
		api.writeError(w, r, http.StatusBadGateway, "delivery_failed", map[string]any{
			"run_id":  runID,
			"service": deliveryErr.Service,
			"reason":  deliveryErr.Err.Error(),
		})
	default:
		logger.Error("migration failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error", map[string]any{"run_id": runID})
	}
}

func (api *migratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, extra map[string]any) {
	httpserver.WriteError(w, r, status, code, extra)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}
