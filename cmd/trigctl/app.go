package main

import (
	"fmt"
	"log/slog"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/solaius/trigger-registry/pkg/audit"
	"github.com/solaius/trigger-registry/pkg/drift"
	"github.com/solaius/trigger-registry/pkg/harness"
	"github.com/solaius/trigger-registry/pkg/introspect"
	"github.com/solaius/trigger-registry/pkg/killswitch"
	"github.com/solaius/trigger-registry/pkg/migration"
	"github.com/solaius/trigger-registry/pkg/registry"
)

// app bundles the database connection with the services every command
// builds on.
type app struct {
	db         *gorm.DB
	logger     *slog.Logger
	store      *registry.Store
	service    *registry.Service
	auditStore *audit.Store
	detector   *drift.Detector
	reporter   *drift.Reporter
	validator  *harness.Validator
	executor   *harness.SafeExecutor
	ks         *killswitch.Switch
}

// newApp connects to the database and wires the services. Commands call
// this in their RunE, after flag parsing.
func newApp() (*app, error) {
	dsn := databaseDSN
	if dsn == "" {
		dsn = os.Getenv("TRIGGER_REGISTRY_DATABASE_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required (use --dsn or TRIGGER_REGISTRY_DATABASE_DSN)")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ks := killswitch.New(killswitch.ConfigFromEnv(), logger)

	store := registry.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	auditStore := audit.NewStore(db)
	if err := auditStore.AutoMigrate(); err != nil {
		return nil, err
	}

	service := registry.NewService(db, registry.ServiceConfig{
		Store:       store,
		KillSwitch:  ks,
		Sink:        auditStore,
		Environment: resolvedEnvironment(),
		Logger:      logger,
	})
	detector := drift.NewDetector(store, introspect.New(db), logger)

	return &app{
		db:         db,
		logger:     logger,
		store:      store,
		service:    service,
		auditStore: auditStore,
		detector:   detector,
		reporter:   drift.NewReporter(detector),
		validator:  harness.NewValidator(db),
		executor:   harness.NewSafeExecutor(db),
		ks:         ks,
	}, nil
}

// newRunner builds a migration runner over the app's connection from the
// units in dir.
func (a *app) newRunner(dir string, allowIrreversible bool) (*migration.Runner, error) {
	var units []migration.Unit
	if dir != "" {
		var err error
		if units, err = migration.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	runner, err := migration.NewRunner(a.db, units, migration.RunnerConfig{
		KillSwitch:        a.ks,
		Environment:       resolvedEnvironment(),
		Logger:            a.logger,
		AllowIrreversible: allowIrreversible,
	})
	if err != nil {
		return nil, err
	}
	if err := runner.AutoMigrate(); err != nil {
		return nil, err
	}
	return runner, nil
}
