package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter mounts the calculator and the application wizard. The limiter
// only guards the endpoints that reach the backend.
func NewRouter(
	calculator *CalculatorHandler,
	wizard *WizardHandler,
	limiter *RateLimiter,
	opts RouterOptions,
	logger *logrus.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-CSRFToken", "X-Refresh-Token"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/calculator", func(r chi.Router) {
		r.With(RateLimitMiddleware(limiter, logger)).Post("/calculate", calculator.Calculate)
		r.Get("/config", calculator.GetConfig)
		r.Post("/recommend-plan", calculator.RecommendPlan)
	})

	r.Route("/api/wizard", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter, logger))
			r.Post("/submit", wizard.Submit)
			r.Post("/documents", wizard.UploadDocuments)
			r.Post("/recalculate", wizard.Recalculate)
		})
		r.Post("/start", wizard.Start)
		r.Get("/", wizard.GetState)
		r.Delete("/", wizard.Abandon)
		r.Get("/summary", wizard.GetSummary)
		r.Patch("/fields", wizard.SetFields)
		r.Post("/advance", wizard.Advance)
		r.Post("/retreat", wizard.Retreat)
		r.Post("/jump", wizard.Jump)
		r.Delete("/documents/{index}", wizard.RemoveDocument)
	})

	return r
}
