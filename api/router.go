package api

import (
	"net/http"

	"claimServer/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	ClaimRateRPS   float64
	ClaimRateBurst int

	// Honour X-Forwarded-For / X-Real-IP. Only safe behind a proxy that
	// overwrites them.
	TrustProxy bool

	// Claim event feed, mounted at /ws when set
	Feed http.Handler
}

// NewRouter wires every endpoint of the claim server
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	limiter := NewRateLimiter(opts.ClaimRateRPS, opts.ClaimRateBurst)

	r.Group(func(r chi.Router) {
		r.Use(bodyLimitMiddleware(config.MaxRequestBodyBytes))
		r.With(limiter.Middleware).Post("/claim", h.HandleClaim)
		r.Post("/claim-status", h.HandleClaimStatus)
	})

	r.Get("/api/health", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if opts.Feed != nil {
		r.Handle("/ws", opts.Feed)
	}

	return r
}
