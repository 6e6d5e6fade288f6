package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes are the endpoints mounted next to /graphql. Nil entries are skipped.
type Routes struct {
	// Health reports whether backing services are reachable.
	Health  func(ctx context.Context) error
	Metrics http.Handler
	// SDL is served as text from /graphql/schema.
	SDL string
}

// NewRouter mounts the GraphQL handler and the operational endpoints.
func NewRouter(gql *Handler, routes Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	health := healthHandler(routes.Health)
	r.Get("/health", health)
	r.Get("/actuator/health", health)
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}
	if routes.SDL != "" {
		r.Get("/graphql/schema", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = w.Write([]byte(routes.SDL))
		})
	}
	r.Handle("/graphql", gql)
	return r
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "error": err.Error()}, false)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"}, false)
	}
}
