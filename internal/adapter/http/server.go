package http

import (
	"net/http"

	"github.com/bnema/celluloid/internal/adapter/http/middleware"
	"github.com/go-chi/chi/v5"
)

type ServerConfig struct {
	Version string
	// CSRFSecret signs the dashboard form tokens.
	CSRFSecret []byte
}

type Server struct {
	router http.Handler
}

func NewServer(jobs JobService, events EventSource, auth *Authenticator, authEnabled bool, cfg ServerConfig) *Server {
	handlers := NewHandlers(jobs, cfg.Version)
	sse := NewSSEHandler(events, jobs)
	dashboard := NewDashboardHandler(jobs, authEnabled, cfg.Version)
	csrf := middleware.NewCSRF(cfg.CSRFSecret)

	r := chi.NewRouter()
	r.Use(middleware.AccessLog)
	r.Use(middleware.Recovery)
	r.Use(middleware.SecurityHeaders)
	r.NotFound(NotFound)

	r.Get("/health", handlers.Health())

	// JSON API.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireKey)

		r.Post("/job/analyse", handlers.Submit())
		r.Get("/status/{jobID}", handlers.Status())
		r.Get("/job/{jobID}/results", handlers.Results())
		r.Get("/job/{jobID}/events", sse.JobEvents())
		r.Delete("/job/{jobID}", handlers.Delete())
		r.Get("/jobs", handlers.List())
		r.Get("/queue", handlers.Queue())
		r.Get("/results/{externalID}", handlers.ListResults())
	})

	// Browser dashboard.
	r.Group(func(r chi.Router) {
		r.Use(csrf.Protect)

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		})
		r.Get("/login", auth.Login())
		r.Post("/login", auth.Login())
		r.Post("/logout", auth.Logout())

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession)

			r.Get("/dashboard", dashboard.Page())
			r.Post("/dashboard/jobs/{jobID}/cancel", dashboard.Cancel())
			r.Get("/events", sse.AllEvents())
		})
	})

	return &Server{router: r}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
