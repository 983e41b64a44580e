package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	authsvc "github.com/chetanchaudhari789/MOBO-sub004/auth"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
)

type contextKey string

const requesterKey contextKey = "requester"

// Authenticate resolves the bearer token into a Requester and stores
// it on the request context. The User row is re-read on every call so
// suspensions take effect immediately.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester, err := s.auth.Resolve(r.Header.Get("Authorization"))
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), requesterKey, requester)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requester(r *http.Request) (*authsvc.Requester, error) {
	requester, ok := r.Context().Value(requesterKey).(*authsvc.Requester)
	if !ok || requester == nil {
		return nil, fault.Unauthenticated("missing identity")
	}
	return requester, nil
}

// RequireRole rejects callers lacking every listed role. Privileged
// callers always pass.
func (s *Server) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester, err := s.requester(r)
			if err != nil {
				s.respondError(w, r, err)
				return
			}
			for _, role := range roles {
				if requester.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if requester.IsPrivileged() {
				next.ServeHTTP(w, r)
				return
			}
			s.denied(r, requester)
			s.respondError(w, r, fault.Forbidden("insufficient role"))
		})
	}
}

// RequirePrivileged admits admin and ops only.
func (s *Server) RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester, err := s.requester(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !requester.IsPrivileged() {
			s.denied(r, requester)
			s.respondError(w, r, fault.Forbidden("privileged access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) denied(r *http.Request, requester *authsvc.Requester) {
	s.sink.Emit(observability.Event{
		Level:     observability.LevelWarn,
		Domain:    observability.DomainSecurity,
		Category:  observability.CategoryAuthorization,
		Name:      "ACCESS_DENIED",
		UserID:    requester.UserID.String(),
		Method:    r.Method,
		Route:     r.URL.Path,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// accessLog emits one access-stream event per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.sink.Emit(observability.Event{
			Domain:    observability.DomainHTTP,
			Category:  observability.CategoryAuthentication,
			Name:      "HTTP_REQUEST",
			IP:        r.RemoteAddr,
			Method:    r.Method,
			Route:     r.URL.Path,
			RequestID: chimw.GetReqID(r.Context()),
			Metadata: map[string]any{
				"status":     recorder.status,
				"durationMs": time.Since(start).Milliseconds(),
			},
		})
	})
}

// Observability wires request counting, latency histograms, and spans.
type Observability struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	registry  *prometheus.Registry
}

// NewObservability builds the metrics registry and tracer.
func NewObservability(namespace string, logger *slog.Logger) *Observability {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	registry.MustRegister(requests, durations)
	return &Observability{
		logger:    logger,
		tracer:    otel.Tracer(namespace),
		requests:  requests,
		durations: durations,
		registry:  registry,
	}
}

// Middleware records metrics and a span for every request.
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := o.tracer.Start(r.Context(), r.URL.Path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		))
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		span.End()
		o.requests.WithLabelValues(r.URL.Path, r.Method, http.StatusText(recorder.status)).Inc()
		o.durations.WithLabelValues(r.URL.Path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// MetricsHandler serves the registry scrape endpoint.
func (o *Observability) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RateLimit caps request frequency for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter *rate.Limiter
}

// RateLimiter holds per-client token buckets keyed by route group.
type RateLimiter struct {
	logger   *slog.Logger
	limits   map[string]RateLimit
	mu       sync.RWMutex
	visitors map[string]*rateEntry
}

// NewRateLimiter builds the limiter with the configured limits.
func NewRateLimiter(limits map[string]RateLimit, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		logger:   logger,
		limits:   limits,
		visitors: make(map[string]*rateEntry),
	}
}

// Middleware enforces the limit registered under key.
func (rl *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := rl.limits[key]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			limiter := rl.obtainLimiter(key+":"+clientID(r), limit)
			if !limiter.Allow() {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) obtainLimiter(id string, limit RateLimit) *rate.Limiter {
	rl.mu.RLock()
	entry, ok := rl.visitors[id]
	rl.mu.RUnlock()
	if ok {
		return entry.limiter
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if entry, ok := rl.visitors[id]; ok {
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(limit.RequestsPerMinute/60), limit.Burst)
	rl.visitors[id] = &rateEntry{limiter: limiter}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
