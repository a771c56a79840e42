// Package httpapi exposes the engine's operational surface: health and
// readiness checks and a prometheus scrape endpoint (spec.md §7's
// "operational metrics" requirement). It deliberately does not expose
// the dashboard/query endpoints the teacher's api package serves —
// spec.md's Non-goals exclude the UI surface — only the ambient
// observability concerns every deployment needs regardless.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"flowengine/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// BookPort is the read-only order book dependency /healthz reports on.
type BookPort interface {
	Health() model.BookHealth
}

// AnomalyPort is the C8 dependency /healthz reports market health from.
type AnomalyPort interface {
	GetMarketHealth(now time.Time) model.MarketHealth
}

// QueuePort is the C13 dependency /healthz reports backlog depth from.
type QueuePort interface {
	QueueDepth() int
}

// Server is the chi-routed HTTP surface, grounded on the
// forgequant-context8-mcp server's router/middleware/graceful-shutdown
// shape rather than the teacher's hand-rolled http.ServeMux, since that
// example is the one dependency source in the pack that already
// exercises go-chi/chi idiomatically.
type Server struct {
	router  chi.Router
	log     *zap.Logger
	book    BookPort
	anomaly AnomalyPort
	queue   QueuePort
}

// New builds the HTTP server. metricsHandler is produced by the caller
// (cmd/engine, which owns the *prometheus.Registry from
// internal/telemetry) via promhttp.HandlerFor, kept opaque here so this
// package only depends on net/http for the metrics route.
func New(book BookPort, anomaly AnomalyPort, queue QueuePort, metricsHandler http.Handler, log *zap.Logger) *Server {
	s := &Server{router: chi.NewRouter(), log: log, book: book, anomaly: anomaly, queue: queue}

	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger(log))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", metricsHandler)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status     string             `json:"status"`
	Book       model.BookHealth   `json:"book"`
	Market     model.MarketHealth `json:"market"`
	QueueDepth int                `json:"queueDepth"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	bookHealth := s.book.Health()
	marketHealth := s.anomaly.GetMarketHealth(now)

	status := "ok"
	code := http.StatusOK
	if bookHealth.Status != model.HealthOK || !marketHealth.IsHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{
		Status:     status,
		Book:       bookHealth,
		Market:     marketHealth,
		QueueDepth: s.queue.QueueDepth(),
	})
}

// handleReadyz is a lightweight liveness check used by orchestrators
// that only need to know the process is accepting connections, not
// the full market-health verdict /healthz reports.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
