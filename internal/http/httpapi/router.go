package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"papercut/internal/http/handlers"
	"papercut/internal/infra"
	"papercut/internal/metrics"
	"papercut/internal/middleware"
)

// Options carries the cross-cutting pieces mounted around the handlers.
type Options struct {
	Logger         *infra.Logger
	Metrics        metrics.Recorder
	MetricsHandler stdhttp.Handler
	Static         stdhttp.Handler
	AllowedOrigins []string
	RateLimit      int
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy    bool
	DefaultLocale string
	CountryLookup middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(
		middleware.RequestID,
		middleware.Logger(*infra.OrNop(opts.Logger), opts.Metrics),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/", app.Root)
	r.Get("/api/health", app.Health)
	r.Get("/api/image/{filename}", app.Image)

	r.Route("/api/paper-cutting", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
		r.Post("/generate", app.Generate)
		r.Post("/generate-base64", app.GenerateBase64)
	})

	if opts.MetricsHandler != nil {
		r.Method(stdhttp.MethodGet, "/metrics", opts.MetricsHandler)
	}
	if opts.Static != nil {
		r.Method(stdhttp.MethodGet, "/static/*", opts.Static)
	}

	return r
}
