package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/agentpay/internal/escrow"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/alecgard/agentpay/internal/metrics"
	"github.com/alecgard/agentpay/internal/payment"
	"github.com/alecgard/agentpay/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps holds all dependencies for the API router. Limiter and Metrics
// are optional.
type RouterDeps struct {
	Journal      *ledger.Journal
	Payments     *payment.Orchestrator
	Escrows      *escrow.Coordinator
	Limiter      *ratelimit.Limiter
	PerPayerRate int
	Metrics      *metrics.Metrics
	MaxBodyBytes int64
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.MaxBodyBytes > 0 {
		r.Use(chimw.RequestSize(deps.MaxBodyBytes))
	}

	payer := newPayerLimiter(deps.Limiter, deps.PerPayerRate, deps.Metrics)
	agents := newAgentsHandler(deps.Journal)
	payments := newPaymentsHandler(deps.Payments, payer)
	escrows := newEscrowsHandler(deps.Escrows, payer)
	transactions := newTransactionsHandler(deps.Journal)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	r.Route("/v1", func(vr chi.Router) {
		// Reads.
		vr.Get("/agents", agents.ListAgents)
		vr.Get("/agents/{id}", agents.GetAgent)
		vr.Get("/agents/{id}/wallet", agents.GetWallet)
		vr.Get("/agents/{id}/ledger", agents.GetLedger)
		vr.Get("/payments/{id}", payments.GetPayment)
		vr.Get("/escrows", escrows.ListEscrows)
		vr.Get("/escrows/{id}", escrows.GetEscrow)
		vr.Get("/transactions/{referenceID}", transactions.GetByReference)

		// Mutations are limited per client address.
		vr.Group(func(mr chi.Router) {
			if deps.Limiter != nil {
				mr.Use(ratelimit.Middleware(deps.Limiter, ratelimit.ClientAddr, rejectionCounter(deps.Metrics, "client")))
			}

			mr.Post("/agents", agents.RegisterAgent)
			mr.Delete("/agents/{id}", agents.RemoveAgent)
			mr.Patch("/agents/{id}/policy", agents.UpdatePolicy)
			mr.Post("/agents/{id}/fund", agents.Fund)
			mr.Post("/agents/{id}/withdraw", agents.Withdraw)

			mr.Post("/payments", payments.CreatePayment)
			mr.Post("/payments/{id}/approve", payments.ApprovePayment)
			mr.Post("/payments/{id}/cancel", payments.CancelPayment)

			mr.Post("/escrows", escrows.CreateEscrow)
			mr.Post("/escrows/{id}/release", escrows.ReleaseEscrow)
			mr.Post("/escrows/{id}/cancel", escrows.CancelEscrow)
		})
	})

	return r
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

// metricsMiddleware records request counts and latency labelled with the
// matched route pattern, so path parameters do not explode cardinality.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					pattern = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTPRequest(r.Method, pattern, status, time.Since(start))
		})
	}
}

func rejectionCounter(m *metrics.Metrics, scope string) func() {
	return func() {
		if m != nil {
			m.IncRateLimitRejection(scope)
		}
	}
}
