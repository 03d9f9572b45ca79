package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawdops/outreach-desk/internal/api"
	"github.com/clawdops/outreach-desk/internal/audit"
	"github.com/clawdops/outreach-desk/internal/config"
	"github.com/clawdops/outreach-desk/internal/drafts"
	"github.com/clawdops/outreach-desk/internal/jobs"
	"github.com/clawdops/outreach-desk/internal/log"
	"github.com/clawdops/outreach-desk/internal/metrics"
	"github.com/clawdops/outreach-desk/internal/poster"
	"github.com/clawdops/outreach-desk/internal/store"
	"github.com/clawdops/outreach-desk/internal/ws"
	"github.com/clawdops/outreach-desk/pkg/kv"

	_ "github.com/clawdops/outreach-desk/pkg/kv/memory"
	_ "github.com/clawdops/outreach-desk/pkg/kv/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting outreach desk",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"outreach_base", cfg.Workspace.OutreachBase,
		"platforms", cfg.Workspace.Platforms,
	)

	platforms, err := drafts.ParsePlatforms(cfg.Workspace.Platforms)
	if err != nil {
		logger.Fatalw("Invalid platform list", "error", err)
	}

	metricsObj, metricsHandler, err := metrics.Setup("outreach-desk")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Listing cache and event bus. Falls back to memory when redis is down.
	cache, err := store.NewCache(cfg.Cache.RedisURL, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()
	logger.Infow("Cache ready", "mode", cache.Mode())

	// Post markers survive restarts only on redis.
	markers, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.Backend(cfg.Cache.KVBackend),
		RedisURL:        cfg.Cache.RedisURL,
		FailoverEnabled: true,
		Logger:          logger.Warnw,
	})
	if err != nil {
		logger.Fatalw("Failed to setup marker store", "error", err)
	}
	defer markers.Close()

	auditRepo, err := audit.Open(ctx, cfg.Audit.Backend, cfg.Audit.DSN, logger)
	if err != nil {
		logger.Fatalw("Failed to open audit log", "backend", cfg.Audit.Backend, "error", err)
	}
	defer auditRepo.Close()

	manifest, err := poster.LoadManifest(cfg.Workspace.PlatformsFile)
	if err != nil {
		logger.Fatalw("Failed to load platform manifest", "path", cfg.Workspace.PlatformsFile, "error", err)
	}
	platformPoster := poster.New(manifest, cfg.Workspace.OutreachBase, logger,
		poster.WithTimeout(cfg.Posting.Timeout),
		poster.WithRateLimit(cfg.Posting.RPM),
	)
	logger.Infow("Platform manifest loaded", "posting_platforms", manifest.Names())

	draftStore := drafts.NewStore(cfg.Workspace.OutreachBase)
	extractor := drafts.NewExtractor(cfg.Workspace.Root, cfg.Location())
	service := drafts.NewService(draftStore, extractor, platforms, cache, cfg.Cache.ListCacheTTL, metricsObj, logger)
	manager := drafts.NewManager(draftStore, logger,
		drafts.WithPoster(platformPoster),
		drafts.WithMarkers(markers, 2*cfg.Posting.Timeout),
		drafts.WithAudit(auditRepo),
		drafts.WithPublisher(cache),
		drafts.WithInvalidator(service),
		drafts.WithMetrics(metricsObj),
		drafts.WithExtractor(extractor),
	)

	wsHub := ws.NewHub(cache, cfg.Security.CORSAllowedOrigins, logger, metricsObj)
	sseHandler := ws.NewSSEHandler(cache, cfg.Security.CORSAllowedOrigins, logger, metricsObj)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go wsHub.Run(bgCtx)

	if cfg.Workspace.WatchEnabled {
		watcher := jobs.NewWorkspaceWatcher(cfg.Workspace.OutreachBase, platforms, service, cache, logger, jobs.WorkspaceWatcherConfig{})
		go func() {
			if err := watcher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Workspace watcher stopped", "error", err)
			}
		}()
	}

	handler := api.NewHandler(service, manager, platformPoster, auditRepo, wsHub, sseHandler,
		map[string]api.Pinger{
			"cache":   cache,
			"markers": markers,
			"audit":   auditRepo,
		},
		cfg, logger)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, api.RouteConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		MirrorOrigins:  cfg.IsDev(),
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		RequestTimeout: 15 * time.Second,
		PostTimeout:    cfg.Posting.Timeout + 15*time.Second,
	})
	router.Handle("/metrics", metricsHandler)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// No WriteTimeout: /v1/stream and /v1/ws are long-lived. Buffered routes
	// are bounded by the timeout middleware instead.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		// stop streams first so Shutdown is not held open by them
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
