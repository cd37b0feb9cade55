package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/solaius/trigger-registry/pkg/audit"
	"github.com/solaius/trigger-registry/pkg/drift"
	"github.com/solaius/trigger-registry/pkg/harness"
	"github.com/solaius/trigger-registry/pkg/migration"
	"github.com/solaius/trigger-registry/pkg/permission"
	"github.com/solaius/trigger-registry/pkg/registry"
)

// Deps collects everything the admin API serves. AuditStore and Runner
// may be nil, which drops their endpoints.
type Deps struct {
	Store      *registry.Store
	Service    *registry.Service
	Detector   *drift.Detector
	Reporter   *drift.Reporter
	Validator  *harness.Validator
	Runner     *migration.Runner
	AuditStore *audit.Store

	// RoleExtractor defaults to reading the X-User-Role header.
	RoleExtractor RoleExtractor
}

// Router creates the chi router for the admin API. Read endpoints need
// viewer; enable/disable need operator; drop/re-execute need admin.
func Router(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	viewer := RequireRole(permission.RoleViewer, deps.RoleExtractor)
	operator := RequireRole(permission.RoleOperator, deps.RoleExtractor)
	admin := RequireRole(permission.RoleAdmin, deps.RoleExtractor)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(viewer)
			r.Get("/triggers", ListTriggersHandler(deps.Store))
			r.Get("/triggers/{name}/drift", DriftReportHandler(deps.Detector, deps.Reporter))
			r.Get("/drift/summary", DriftSummaryHandler(deps.Reporter))
			if deps.AuditStore != nil {
				r.Get("/triggers/{name}/audit", AuditEventsHandler(deps.AuditStore))
			}
			if deps.Runner != nil {
				r.Get("/migrations/status", MigrationStatusHandler(deps.Runner))
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(operator)
			r.Post("/triggers/{name}/enable", LifecycleHandler(deps.Service, "enable"))
			r.Post("/triggers/{name}/disable", LifecycleHandler(deps.Service, "disable"))
			r.Post("/dryrun", DryRunHandler())
			r.Post("/validate", ValidateHandler(deps.Validator))
		})

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Post("/triggers/{name}/drop", LifecycleHandler(deps.Service, "drop"))
			r.Post("/triggers/{name}/reexecute", LifecycleHandler(deps.Service, "reexecute"))
		})
	})

	return r
}
