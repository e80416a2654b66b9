package core

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the global middleware chain and the route groups.
//
// Middleware order: Recoverer outermost, then context timeout, request ID,
// security headers, and logging. Identity resolution applies only to the
// authenticated /v1 group; the webhook group authenticates by signature.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.IdentityMiddleware)
			for _, registrar := range s.V1Registrars {
				registrar(r)
			}
		})
		for _, registrar := range s.V1PublicRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}
