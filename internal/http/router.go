package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	authhttp "github.com/pradum97/jsondeck-sub000/internal/http/auth"
	"github.com/pradum97/jsondeck-sub000/internal/http/middleware"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
)

// NewRouter wires the auth surface under /api. Auth failures never
// crash the process; the recoverer turns panics into 500s.
func NewRouter(
	logger *slog.Logger,
	tokens *jwt.Manager,
	authServer *authhttp.Server,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authServer.Register)
			r.Post("/login", authServer.Login)
			r.Post("/refresh", authServer.Refresh)
			r.Post("/logout", authServer.Logout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(logger, tokens))
				r.Get("/me", authServer.Me)
			})
		})
	})

	return r
}
