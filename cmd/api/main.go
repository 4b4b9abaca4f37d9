package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"papercut/internal/engine"
	"papercut/internal/http/handlers"
	httpapi "papercut/internal/http/httpapi"
	"papercut/internal/infra"
	"papercut/internal/infra/geoip"
	"papercut/internal/ingress"
	"papercut/internal/jobs"
	"papercut/internal/metrics"
	"papercut/internal/publish"
	"papercut/internal/storage"
	"papercut/internal/workflow"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	tpl, err := workflow.LoadTemplate(cfg.WorkflowPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.WorkflowPath).Msg("failed to load workflow template")
	}
	for _, node := range []string{cfg.InputNode, cfg.SeedNode, cfg.OutputNode} {
		if !tpl.HasNode(node) {
			logger.Warn().Str("node", node).Str("path", cfg.WorkflowPath).Msg("workflow template lacks configured node")
		}
	}
	logger.Info().Int("nodes", tpl.NodeCount()).Str("path", cfg.WorkflowPath).Msg("workflow template loaded")

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	prom := metrics.NewProm("papercut")
	client := engine.NewClient(engine.Options{BaseURL: cfg.EngineURL, Logger: &logger})

	var (
		backend storage.Backend
		static  http.Handler
	)
	switch cfg.StorageDriver {
	case infra.StorageDriverFilesystem:
		files, err := storage.NewFileStore(cfg.StoragePath, cfg.PublicBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare storage directory")
		}
		backend, static = files, files.Handler()
	default:
		backend = storage.NewRemoteStore(storage.RemoteOptions{
			BaseURL:   cfg.UploadAPIURL,
			Category:  cfg.StorageCategory,
			Namespace: cfg.StorageNamespace,
			URLField:  cfg.StorageURLField,
			Logger:    &logger,
		})
	}

	app := handlers.NewApp(handlers.Options{
		Template: tpl,
		Ingress:  ingress.NewAdapter(client, &logger),
		Runner: jobs.NewRunner(client, jobs.Options{
			PollInterval: cfg.PollInterval,
			MaxWait:      cfg.MaxWait,
			OutputNode:   cfg.OutputNode,
			Bindings:     workflow.Bindings{InputNode: cfg.InputNode, SeedNode: cfg.SeedNode},
			Logger:       &logger,
			Metrics:      prom,
		}),
		Publisher:      publish.NewPublisher(client, backend, publish.Options{Logger: &logger, Metrics: prom}),
		Engine:         client,
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         &logger,
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         &logger,
		Metrics:        prom,
		MetricsHandler: prom.Handler(),
		Static:         static,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.RateLimitPerMin,
		TrustProxy:     cfg.TrustProxyHeaders,
		DefaultLocale:  cfg.DefaultLocale,
		CountryLookup:  resolver.Lookup(),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("engine", client.BaseURL()).
			Str("storage", cfg.StorageDriver).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
