package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"storybook/internal/http/handlers"
	mw "storybook/internal/middleware"
)

// Options configures the router.
type Options struct {
	Logger          zerolog.Logger
	RateLimitPerMin int
	CORSOrigins     []string
	// StaticDir, when set, is served under /static for the file storage driver.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RealIP,
		mw.RequestID(opts.Logger),
		mw.Logger(opts.Logger),
		middleware.Recoverer,
		mw.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/books/{jobID}", func(r chi.Router) {
		r.Use(mw.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/stages/{stage}", app.RunStage)
		r.Post("/generate", app.Generate)
		r.Get("/progress", app.Progress)
		r.Post("/scenes/{sceneNumber}/regenerate", app.Regenerate)
		r.Get("/archive", app.Archive)
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
