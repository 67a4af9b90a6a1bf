package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fewa2000/fabric-data-portal/internal/artifacts"
	"github.com/fewa2000/fabric-data-portal/internal/config"
	"github.com/fewa2000/fabric-data-portal/internal/fabric"
	"github.com/fewa2000/fabric-data-portal/internal/platform/auth"
	"github.com/fewa2000/fabric-data-portal/internal/platform/env"
	"github.com/fewa2000/fabric-data-portal/internal/platform/httpserver"
	"github.com/fewa2000/fabric-data-portal/internal/platform/objectstore"
	"github.com/fewa2000/fabric-data-portal/internal/platform/postgres"
	repopg "github.com/fewa2000/fabric-data-portal/internal/repo/postgres"
	"github.com/fewa2000/fabric-data-portal/internal/service/orchestrator"
	"github.com/fewa2000/fabric-data-portal/internal/service/restore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PORTAL_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PORTAL_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid portal config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runs := repopg.NewRunStore(db)
	lock := repopg.NewLockStore(db)
	if err := lock.EnsureRow(ctx); err != nil {
		logger.Error("lock row init failed", "error", err)
		os.Exit(1)
	}
	events := repopg.NewEventStore(db)
	restores := repopg.NewRestoreStore(db)

	tokens, err := fabric.NewTokenProvider(cfg.Fabric)
	if err != nil {
		logger.Error("invalid fabric credentials", "error", err)
		os.Exit(2)
	}
	pipelines, err := fabric.NewClient(ctx, cfg.Fabric, tokens)
	if err != nil {
		logger.Error("fabric client init failed", "error", err)
		os.Exit(2)
	}

	source, imports, err := buildArtifactSource(ctx, cfg, tokens)
	if err != nil {
		logger.Error("artifact source init failed", "error", err)
		os.Exit(2)
	}

	runner, err := orchestrator.New(runs, lock, events, pipelines, source, orchestrator.Options{
		WorkspaceID:    cfg.Fabric.WorkspaceID,
		PipelineItemID: cfg.Fabric.PipelineItemID,
		AppVersion:     cfg.AppVersion,
	}, logger)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}
	restorer, err := restore.New(runs, restores, events, runner, logger)
	if err != nil {
		logger.Error("restore service init failed", "error", err)
		os.Exit(2)
	}
	kpis := artifacts.NewReconciler(runs, source)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("portal"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"portal",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
		),
	)

	api := newPortalAPI(logger, runner, restorer, kpis, runs, events, imports)
	api.register(mux)

	handler, err := wrapAuth(ctx, logger, mux)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	serverCfg := httpserver.Config{
		Service:         "portal",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, "portal", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildArtifactSource wires the KPI/import reads either against OneLake
// proper or against a MinIO bucket mirroring the lakehouse layout.
func buildArtifactSource(ctx context.Context, cfg config.Config, tokens *fabric.TokenProvider) (artifacts.Source, artifacts.ImportLister, error) {
	if cfg.Mode() == config.ArtifactModeMinio {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		client, err := objectstore.NewClient(storeCfg)
		if err != nil {
			return nil, nil, err
		}
		src, err := artifacts.NewMinioSource(client, storeCfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	}

	httpClient, err := tokens.HTTPClient(ctx, fabric.ScopeStorage)
	if err != nil {
		return nil, nil, err
	}
	src, err := artifacts.NewOneLakeSource(cfg.Fabric, httpClient)
	if err != nil {
		return nil, nil, err
	}
	return src, src, nil
}

func wrapAuth(ctx context.Context, logger *slog.Logger, mux *http.ServeMux) (http.Handler, error) {
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if authCfg.Mode == auth.ModeDisabled {
		return mux, nil
	}

	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			return nil, err
		}
	case auth.ModeDev:
		authenticator = auth.NewDevAuthenticator(authCfg)
	}

	return auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux), nil
}
