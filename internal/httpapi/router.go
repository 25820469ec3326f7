package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dopple/internal/httpapi/handlers"
	"dopple/internal/httpkit"
	"dopple/internal/pkg/middleware"
)

type Deps struct {
	handlers.Deps
	CORSOrigins []string
	// RequestTimeout bounds every route except /process, whose duration is
	// set by the pass budget.
	RequestTimeout time.Duration
}

var defaultOrigins = []string{
	"http://localhost:8081",
	"http://localhost:5173",
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	h := handlers.New(d.Deps)
	log := h.Log()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", handlers.TriggerHeader},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	// ---- PASS ----
	process := middleware.WrapHandler(log, h.Process)
	r.Get("/process", process)
	r.Post("/process", process)

	r.Group(func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}

		// ---- HEALTH ----
		r.Get("/health", h.Health)

		// ---- PERSONAS ----
		r.Get("/personas/{personaId}", middleware.WrapHandler(log, h.GetPersona))
		r.Post("/personas/{personaId}/kick", middleware.WrapHandler(log, h.KickPersona))
	})

	return r
}
