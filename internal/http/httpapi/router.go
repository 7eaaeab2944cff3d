package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/momangi/Pompiconni-app/internal/http/handlers"
	"github.com/momangi/Pompiconni-app/internal/middleware"
)

// RouterOptions carries everything the route table needs beyond the app
// container itself.
type RouterOptions struct {
	AllowedOrigins []string
	DefaultLocale  string
	CountryLookup  middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		middleware.Logger(app.Logger),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Generation pipeline
	r.Route("/api", func(r chi.Router) {
		r.Post("/generate", app.Generate)
		r.Route("/generations/{id}", func(r chi.Router) {
			r.Get("/", app.GetRun)
			r.Get("/artifacts/{kind}", app.DownloadArtifact)
		})
	})

	return r
}
