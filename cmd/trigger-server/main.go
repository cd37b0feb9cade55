// Package main provides the trigger registry server entry point. It
// serves the admin HTTP API: registry listings, drift reports, lifecycle
// operations, dry runs, validation, and migration status.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
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
	"github.com/solaius/trigger-registry/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("migrations_dir", "")
	v.SetDefault("drift_scan_interval", "")
	v.SetDefault("audit_retention_days", 0)

	v.SetEnvPrefix("TRIGGER_REGISTRY")
	v.AutomaticEnv()

	// An optional config file overrides the defaults; env vars win.
	if path := os.Getenv("TRIGGER_REGISTRY_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.GetString("log_level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dsn := cfg.GetString("database_dsn")
	if dsn == "" {
		return fmt.Errorf("database DSN is required (set TRIGGER_REGISTRY_DATABASE_DSN)")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	environment := cfg.GetString("environment")
	ks := killswitch.New(killswitch.ConfigFromEnv(), logger)

	store := registry.NewStore(db)
	auditStore := audit.NewStore(db)

	// Serialize schema setup across replicas.
	err = migration.NewLocker(db).WithLock(context.Background(), func() error {
		if err := store.AutoMigrate(); err != nil {
			return err
		}
		return auditStore.AutoMigrate()
	})
	if err != nil {
		return err
	}

	svc := registry.NewService(db, registry.ServiceConfig{
		Store:       store,
		KillSwitch:  ks,
		Sink:        auditStore,
		Environment: environment,
		Logger:      logger,
	})

	var units []migration.Unit
	if dir := cfg.GetString("migrations_dir"); dir != "" {
		if units, err = migration.LoadDir(dir); err != nil {
			return err
		}
		logger.Info("loaded migrations", "dir", dir, "count", len(units))
	}
	runner, err := migration.NewRunner(db, units, migration.RunnerConfig{
		KillSwitch:  ks,
		Environment: environment,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := runner.AutoMigrate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector := drift.NewDetector(store, introspect.New(db), logger)
	if interval := cfg.GetDuration("drift_scan_interval"); interval > 0 {
		go drift.NewScanner(detector, store, interval, logger).Run(ctx)
	}
	if days := cfg.GetInt("audit_retention_days"); days > 0 {
		go audit.NewRetentionWorker(auditStore, days, logger).Run(ctx)
	}

	router := server.Router(server.Deps{
		Store:      store,
		Service:    svc,
		Detector:   detector,
		Reporter:   drift.NewReporter(detector),
		Validator:  harness.NewValidator(db),
		Runner:     runner,
		AuditStore: auditStore,
	})

	listen := cfg.GetString("listen")
	logger.Info("starting trigger registry server",
		"listen", listen,
		"environment", environment,
		"kill_switch_active", ks.Active(environment),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    listen,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("trigger registry server stopped")
	return nil
}
