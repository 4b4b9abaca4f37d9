package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"papercut/internal/domain"
	"papercut/internal/engine"
	"papercut/internal/infra"
	"papercut/internal/ingress"
	"papercut/internal/jobs"
	"papercut/internal/publish"
	"papercut/internal/workflow"
)

// Engine is what the proxy and health endpoints need from the engine client.
type Engine interface {
	View(ctx context.Context, ref domain.OutputArtifactRef) (*engine.Artifact, error)
	SystemStats(ctx context.Context) (*engine.SystemStats, error)
}

// Options wires the App. Every pointer dependency is required.
type Options struct {
	Template       *workflow.Template
	Ingress        *ingress.Adapter
	Runner         *jobs.Runner
	Publisher      *publish.Publisher
	Engine         Engine
	PublicBaseURL  string
	MaxUploadBytes int64
	// PublishBudget is the write deadline granted once polling ends.
	PublishBudget time.Duration
	Logger        *infra.Logger
}

type App struct {
	template       *workflow.Template
	ingress        *ingress.Adapter
	runner         *jobs.Runner
	publisher      *publish.Publisher
	engine         Engine
	publicBaseURL  string
	maxUploadBytes int64
	publishBudget  time.Duration
	logger         *infra.Logger
	health         singleflight.Group
}

func NewApp(opts Options) *App {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	publishBudget := opts.PublishBudget
	if publishBudget <= 0 {
		publishBudget = infra.PublishBudget
	}
	return &App{
		template:       opts.Template,
		ingress:        opts.Ingress,
		runner:         opts.Runner,
		publisher:      opts.Publisher,
		engine:         opts.Engine,
		publicBaseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		maxUploadBytes: maxUpload,
		publishBudget:  publishBudget,
		logger:         infra.OrNop(opts.Logger),
	}
}

// log returns the request-scoped logger attached by the access log
// middleware, falling back to the App logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes {"error": message} in the request's locale.
func (a *App) error(w http.ResponseWriter, r *http.Request, code int, err error) {
	a.json(w, code, map[string]string{"error": describe(r.Context(), err)})
}

// Root reports that the relay is up.
func (a *App) Root(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"message": "Paper-Cutting AI API Server",
		"status":  "running",
	})
}
