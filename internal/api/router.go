package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentlink/agentlink/internal/auth"
	"github.com/agentlink/agentlink/internal/crypto"
	"github.com/agentlink/agentlink/internal/ledger"
	"github.com/agentlink/agentlink/internal/metrics"
	"github.com/agentlink/agentlink/internal/mirror"
	"github.com/agentlink/agentlink/internal/ratelimit"
)

// RouterDeps holds all dependencies for the API router. Mirror stores,
// auth, and metrics may be nil: the ledger endpoints stand on their
// own, and routes whose dependencies are missing are not mounted.
type RouterDeps struct {
	Engine         *ledger.Engine
	Jobs           *mirror.JobStore
	Profiles       *mirror.ProfileStore
	Applications   *mirror.ApplicationStore
	Reviews        *mirror.ReviewStore
	Auth           *auth.Service
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	Cipher         *crypto.Cipher
	AdminKeyHash   string
	AllowedOrigins []string
	DBPing         func(ctx context.Context) error
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Handlers.
	ldg := newLedgerHandler(deps.Engine, deps.Jobs, deps.Profiles,
		deps.Applications, deps.Reviews, deps.Cipher, deps.Metrics)
	jobs := newJobsHandler(deps.Jobs, deps.Profiles, deps.Applications, deps.Reviews)
	agents := newAgentsHandler(deps.Profiles, deps.Reviews, deps.Cipher)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		db := "memory"
		if deps.DBPing != nil {
			db = "connected"
			if err := deps.DBPing(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "disconnected",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": db,
		})
	})

	// Well-known manifest.
	r.Get("/.well-known/agentlink.json", WellKnownHandler)

	// Prometheus scrape endpoint.
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Signed ledger instructions. The ed25519 signature is the
	// authentication; rate limiting keys by client IP.
	if deps.Engine != nil {
		r.Route("/api/v1/ledger", func(lr chi.Router) {
			if deps.Limiter != nil {
				lr.Use(rateLimitMiddleware(deps))
			}

			lr.Post("/register-agent", ldg.RegisterAgent)
			lr.Post("/configure-split", ldg.ConfigureSplit)
			lr.Post("/create-job", ldg.CreateJob)
			lr.Post("/hire-agent", ldg.HireAgent)
			lr.Post("/complete-job", ldg.CompleteJob)
			lr.Post("/approve-job", ldg.ApproveJob)
			lr.Post("/claim-timeout", ldg.ClaimTimeout)
			lr.Post("/cancel-job", ldg.CancelJob)
			lr.Post("/dispute-job", ldg.DisputeJob)
			lr.Post("/withdraw", ldg.Withdraw)

			// Ledger reads.
			lr.Get("/agents/{address}", ldg.GetLedgerAgent)
			lr.Get("/escrows/{jobID}", ldg.GetLedgerEscrow)
			lr.Get("/balances/{address}", ldg.GetBalance)
		})
	}

	// Marketplace routes. Public reads plus an agent-authed group on
	// the same tree (API key + rate limiting).
	if deps.Jobs != nil {
		r.Route("/api/v1/jobs", func(jr chi.Router) {
			jr.Get("/", jobs.ListJobs)
			jr.Get("/{jobID}", jobs.GetJob)
			jr.Get("/{jobID}/reviews", jobs.ListJobReviews)

			if deps.Auth != nil {
				jr.Group(func(pr chi.Router) {
					pr.Use(auth.AgentAuthMiddleware(deps.Auth))
					if deps.Limiter != nil {
						pr.Use(rateLimitMiddleware(deps))
					}

					pr.Post("/{jobID}/applications", jobs.CreateApplication)
					pr.Get("/{jobID}/applications", jobs.ListApplications)
					pr.Post("/{jobID}/reviews", jobs.CreateReview)
				})
			}
		})

		r.Route("/api/v1/agents", func(ar chi.Router) {
			ar.Get("/", agents.ListAgents)
			ar.Get("/{address}", agents.GetAgent)
			ar.Get("/{address}/reviews", agents.GetAgentReviews)

			if deps.Auth != nil {
				ar.Group(func(pr chi.Router) {
					pr.Use(auth.AgentAuthMiddleware(deps.Auth))
					if deps.Limiter != nil {
						pr.Use(rateLimitMiddleware(deps))
					}

					pr.Get("/me", agents.GetSelf)
					pr.Put("/me", agents.UpdateSelf)
				})
			}
		})
	}

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKeyHash))

		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}
		if deps.Profiles != nil {
			ar.Post("/agents/{address}/rotate-key", agents.RotateKey)
		}
	})

	return r
}

func rateLimitMiddleware(deps RouterDeps) func(http.Handler) http.Handler {
	if deps.Metrics != nil {
		return ratelimit.Middleware(deps.Limiter, deps.Metrics.IncRateLimitRejection)
	}
	return ratelimit.Middleware(deps.Limiter)
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
