package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"orgpulse.org/internal/auth"
	"orgpulse.org/internal/config"
	"orgpulse.org/internal/extract"
	"orgpulse.org/internal/httpapi"
	"orgpulse.org/internal/keystore"
	"orgpulse.org/internal/obs"
	"orgpulse.org/internal/store"
	"orgpulse.org/internal/warehouse"
)

var version = "0.3.1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Token validation, when enabled, needs the public keys up front.
	var validator *auth.Validator
	if cfg.ValidationEnabled {
		ks := keystore.New(logger)
		if err := ks.Load(cfg.PublicKeyBasePath); err != nil {
			logger.Fatal("load public keys", zap.Error(err))
		}
		validator = auth.NewValidator(ks, cfg.Issuer(), cfg.CheckTokenExpiry, logger)
	} else {
		logger.Warn("token validation is disabled")
	}

	pool := store.NewPool(cfg.FetchChunkSize, logger)
	probes := httpapi.Probes{}
	if cfg.PostgresDSN != "" {
		if err := pool.Initialize(ctx, cfg.PostgresDSN, cfg.PoolMinConns, cfg.PoolMaxConns); err != nil {
			logger.Fatal("initialize pool", zap.Error(err))
		}
		defer pool.CloseAll()
		probes.Store = pool.Ping
	}

	var runner warehouse.Runner
	if cfg.WarehouseProject != "" {
		client, err := warehouse.NewClient(ctx, cfg.WarehouseProject, logger)
		if err != nil {
			logger.Fatal("connect warehouse", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		runner = client
		probes.Warehouse = client.Ping
	} else {
		logger.Warn("warehouse is not configured")
	}
	queries := warehouse.NewQueries(runner, warehouse.Tables{
		Enrolments: cfg.WarehouseTable(cfg.WarehouseEnrolmentTable),
		Users:      cfg.WarehouseTable(cfg.WarehouseUserTable),
		Hierarchy:  cfg.WarehouseTable(cfg.WarehouseHierarchyTable),
	}, logger)

	svc := extract.New(extract.Config{
		UserTable:      cfg.UserTable,
		EnrolmentTable: cfg.EnrolmentTable,
		UserColumns:    []string{"user_id", "mdo_id", "full_name", "email"},
		EnrolmentColumns: []string{
			"user_id", "batch_id", "content_id", "content_progress_percentage", "enrolled_on",
		},
		DefaultEnrolmentColumns: []string{
			"user_id", "full_name", "content_id", "content_name", "content_type",
			"certificate_id", "enrolled_on", "certificate_generated",
			"first_completed_on", "last_completed_on", "content_duration",
			"content_progress_percentage",
		},
		MaskingEnabled:   cfg.MaskingEnabled,
		FullReportOrgIDs: cfg.FullReportOrgIDs(),
	}, extract.PoolFetchers(pool), queries, logger)

	api := httpapi.New(svc, validator, probes, version, logger)
	api.SetLimits(cfg.RateBurst, cfg.RatePerSec, cfg.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Report downloads can run long; the write timeout must cover a
		// full extract, not a single JSON response.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting report api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.Bool("validation", cfg.ValidationEnabled),
		zap.Bool("masking", cfg.MaskingEnabled))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
