package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/animus-migrate/internal/descriptor"
	"github.com/animus-labs/animus-migrate/internal/execution/invoker"
	"github.com/animus-labs/animus-migrate/internal/ledger"
	ledgerpg "github.com/animus-labs/animus-migrate/internal/ledger/postgres"
	"github.com/animus-labs/animus-migrate/internal/pipeline"
	"github.com/animus-labs/animus-migrate/internal/planfile"
	"github.com/animus-labs/animus-migrate/internal/platform/auth"
	"github.com/animus-labs/animus-migrate/internal/platform/env"
	"github.com/animus-labs/animus-migrate/internal/platform/httpclient"
	"github.com/animus-labs/animus-migrate/internal/platform/httpserver"
	platformstore "github.com/animus-labs/animus-migrate/internal/platform/objectstore"
	"github.com/animus-labs/animus-migrate/internal/platform/postgres"
	"github.com/animus-labs/animus-migrate/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("MIGRATOR_HTTP_ADDR", ":8090")
	shutdownTimeout, err := env.Duration("MIGRATOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	plansFile := env.String("MIGRATOR_PLANS_FILE", "")
	if strings.TrimSpace(plansFile) == "" {
		logger.Error("missing plans file", "env", "MIGRATOR_PLANS_FILE")
		os.Exit(2)
	}
	workRoot := env.String("MIGRATOR_WORK_DIR", os.TempDir())
	keepWorkDirs, err := env.Bool("MIGRATOR_KEEP_WORK_DIRS", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	ledgerEnabled, err := env.Bool("MIGRATOR_LEDGER_ENABLED", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	memoryLedgerLimit, err := env.Int("MIGRATOR_LEDGER_MEMORY_LIMIT", 10000)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	clientCfg, err := httpclient.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid remote client config", "error", err)
		os.Exit(2)
	}
	client, err := httpclient.New(ctx, clientCfg, logger)
	if err != nil {
		logger.Error("remote client init failed", "error", err)
		os.Exit(1)
	}

	catalog, err := planfile.Load(plansFile, descriptor.NewLoader(client), logger)
	if err != nil {
		logger.Error("invalid plans file", "path", plansFile, "error", err)
		os.Exit(2)
	}

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}
	store, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	checks := []httpserver.ReadinessCheck{
		{
			Name: "object_store",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				return platformstore.CheckBucket(checkCtx, minioClient, storeCfg)
			},
		},
	}

	var recorder ledger.Recorder
	var invocations invocationLister
	if !ledgerEnabled {
		memory := ledger.NewMemory(memoryLedgerLimit)
		recorder = memory
		invocations = memory
		logger.Info("ledger database disabled; keeping invocations in memory", "limit", memoryLedgerLimit)
	} else {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid ledger database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("ledger database unavailable", "host", dbCfg.Host(), "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		ledgerStore := ledgerpg.NewStore(db)
		if err := ledgerStore.EnsureSchema(ctx); err != nil {
			logger.Error("ledger schema failed", "error", err)
			os.Exit(1)
		}
		recorder = ledgerStore
		invocations = ledgerStore
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	}

	orchestrator := pipeline.New(invoker.New(client, logger), catalog.Formats(), recorder, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("migrator"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("migrator", checks...))

	api := &migratorAPI{
		logger:       logger,
		plans:        catalog,
		exec:         orchestrator,
		store:        store,
		bucket:       storeCfg.Bucket,
		workRoot:     workRoot,
		keepWorkDirs: keepWorkDirs,
		invocations:  invocations,
	}
	api.register(mux)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var handler http.Handler = mux
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err := auth.NewBearerAuthenticator(ctx, authCfg, nil)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.MethodRoleAuthorizer(),
			SkipPrefixes:  []string{"/healthz", "/readyz"},
		}.Wrap(mux)
	default:
		logger.Warn("api authentication disabled", "env", "MIGRATOR_AUTH_MODE")
	}

	cfg := httpserver.Config{
		Service:         "migrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "migrator", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
