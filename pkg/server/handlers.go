package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/solaius/trigger-registry/pkg/audit"
	"github.com/solaius/trigger-registry/pkg/drift"
	"github.com/solaius/trigger-registry/pkg/harness"
	"github.com/solaius/trigger-registry/pkg/killswitch"
	"github.com/solaius/trigger-registry/pkg/migration"
	"github.com/solaius/trigger-registry/pkg/permission"
	"github.com/solaius/trigger-registry/pkg/registry"
)

// ListTriggersHandler handles GET /api/v1/triggers.
func ListTriggersHandler(store *registry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := store.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list triggers: %v", err), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"triggers": entries})
	}
}

// DriftSummaryHandler handles GET /api/v1/drift/summary.
func DriftSummaryHandler(reporter *drift.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := reporter.Summarize(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to summarize drift: %v", err), "")
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// DriftReportHandler handles GET /api/v1/triggers/{name}/drift.
func DriftReportHandler(detector *drift.Detector, reporter *drift.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		result, err := detector.Detect(r.Context(), name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to detect drift: %v", err), "")
			return
		}
		report, err := reporter.Report(r.Context(), name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render report: %v", err), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result, "report": report})
	}
}

// lifecycleRequest is the JSON body of a lifecycle action.
type lifecycleRequest struct {
	Reason       string `json:"reason,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

// LifecycleHandler handles POST /api/v1/triggers/{name}/<action> for
// enable, disable, drop, and reexecute.
func LifecycleHandler(svc *registry.Service, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		var body lifecycleRequest
		if r.Body != nil {
			// An empty body is fine; enable/disable need no reason.
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		req := registry.Request{
			Actor:        actorFrom(r),
			Reason:       body.Reason,
			Confirmation: body.Confirmation,
		}

		var err error
		switch action {
		case "enable":
			err = svc.Enable(r.Context(), name, req)
		case "disable":
			err = svc.Disable(r.Context(), name, req)
		case "drop":
			err = svc.Drop(r.Context(), name, req)
		case "reexecute":
			err = svc.ReExecute(r.Context(), name, req)
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown lifecycle action %q", action), "")
			return
		}
		if err != nil {
			writeLifecycleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "trigger": name, "action": action})
	}
}

// dryRunRequest is the JSON body of a dry-run or validation request.
type dryRunRequest struct {
	Definition   registry.Definition `json:"definition"`
	FunctionBody string              `json:"function_body,omitempty"`
	SampleInsert string              `json:"sample_insert,omitempty"`
}

// DryRunHandler handles POST /api/v1/dryrun.
func DryRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dryRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
			return
		}
		rendered, impact, err := harness.DryRun(body.Definition, body.FunctionBody)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sql": rendered, "impact": impact})
	}
}

// ValidateHandler handles POST /api/v1/validate.
func ValidateHandler(validator *harness.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dryRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
			return
		}

		checks := map[string]harness.CheckResult{
			"definition": harness.ValidateDefinition(body.Definition),
			"condition":  validator.ValidateCondition(r.Context(), body.Definition.Condition, body.Definition.Events),
		}
		if body.FunctionBody != "" {
			checks["function_body"] = validator.ValidateFunctionBody(r.Context(), body.FunctionBody)
		}
		writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
	}
}

// MigrationStatusHandler handles GET /api/v1/migrations/status.
func MigrationStatusHandler(runner *migration.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := runner.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read migration status: %v", err), "")
			return
		}
		current, err := runner.CurrentVersion(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read current version: %v", err), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"current_version": current, "migrations": status})
	}
}

// AuditEventsHandler handles GET /api/v1/triggers/{name}/audit.
func AuditEventsHandler(store *audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil && v > 0 {
				limit = v
			}
		}
		records, err := store.ListByTrigger(r.Context(), name, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": records})
	}
}

// writeLifecycleError maps the error taxonomy onto HTTP statuses and
// attaches each error's recovery suggestion when it has one.
func writeLifecycleError(w http.ResponseWriter, err error) {
	var suggestion string
	if s, ok := err.(interface{ Suggestion() string }); ok {
		suggestion = s.Suggestion()
	}

	var (
		perr *permission.Error
		kerr *killswitch.Error
		verr *registry.ValidationError
		nerr *registry.NotFoundError
	)
	switch {
	case errors.As(err, &perr):
		writeError(w, http.StatusForbidden, err.Error(), suggestion)
	case errors.As(err, &kerr):
		writeError(w, http.StatusLocked, err.Error(), suggestion)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error(), suggestion)
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, err.Error(), suggestion)
	case errors.Is(err, registry.ErrMissingFunctionBody):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), suggestion)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), suggestion)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, suggestion string) {
	body := map[string]any{"error": message}
	if suggestion != "" {
		body["suggestion"] = suggestion
	}
	writeJSON(w, status, body)
}
