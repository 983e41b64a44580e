// Package server is the HTTP surface: routing, role gates, the error
// envelope, and the SSE bridge onto the realtime hub.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/ai"
	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	authsvc "github.com/chetanchaudhari789/MOBO-sub004/auth"
	"github.com/chetanchaudhari789/MOBO-sub004/campaign"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/invite"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
	"github.com/chetanchaudhari789/MOBO-sub004/order"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
	"github.com/chetanchaudhari789/MOBO-sub004/settlement"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB         *gorm.DB
	Auth       *authsvc.Service
	Registrar  *authsvc.Registrar
	Engine     *order.Engine
	Settlement *settlement.Orchestrator
	Campaigns  *campaign.Service
	Invites    *invite.Resolver
	Ledger     *wallet.Ledger
	Verifier   ai.Verifier
	Hub        *realtime.Hub
	Auditor    *audit.Writer
	Sink       *observability.Sink
	Logger     *slog.Logger

	AIConfidenceMin float64
	AITimeout       time.Duration
	MaxProofBytes   int64
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db         *gorm.DB
	auth       *authsvc.Service
	registrar  *authsvc.Registrar
	engine     *order.Engine
	settlement *settlement.Orchestrator
	campaigns  *campaign.Service
	invites    *invite.Resolver
	ledger     *wallet.Ledger
	verifier   ai.Verifier
	hub        *realtime.Hub
	auditor    *audit.Writer
	sink       *observability.Sink
	logger     *slog.Logger

	aiConfidenceMin float64
	aiTimeout       time.Duration
	maxProofBytes   int64

	obs     *Observability
	limiter *RateLimiter
	router  http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}
	if cfg.MaxProofBytes <= 0 {
		cfg.MaxProofBytes = 8 << 20
	}
	srv := &Server{
		db:              cfg.DB,
		auth:            cfg.Auth,
		registrar:       cfg.Registrar,
		engine:          cfg.Engine,
		settlement:      cfg.Settlement,
		campaigns:       cfg.Campaigns,
		invites:         cfg.Invites,
		ledger:          cfg.Ledger,
		verifier:        cfg.Verifier,
		hub:             cfg.Hub,
		auditor:         cfg.Auditor,
		sink:            cfg.Sink,
		logger:          cfg.Logger,
		aiConfidenceMin: cfg.AIConfidenceMin,
		aiTimeout:       cfg.AITimeout,
		maxProofBytes:   cfg.MaxProofBytes,
	}
	srv.obs = NewObservability("mobo", srv.logger)
	srv.limiter = NewRateLimiter(map[string]RateLimit{
		"auth":   {RequestsPerMinute: 30, Burst: 10},
		"orders": {RequestsPerMinute: 120, Burst: 30},
	}, srv.logger)
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.obs.Middleware)
	r.Use(s.accessLog)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			ar.Use(s.limiter.Middleware("auth"))
			ar.Post("/login", s.Login)
			ar.Post("/register", s.Register)
			ar.Post("/refresh", s.RefreshToken)
			ar.Group(func(protected chi.Router) {
				protected.Use(s.Authenticate)
				protected.Get("/me", s.Me)
				protected.Put("/profile", s.UpdateProfile)
				protected.With(s.RequireRole(models.RoleAdmin)).Post("/register-ops", s.RegisterOps)
				protected.With(s.RequireRole(models.RoleAdmin)).Post("/register-brand", s.RegisterBrand)
			})
		})

		api.Route("/orders", func(or chi.Router) {
			or.Use(s.Authenticate)
			or.Use(s.limiter.Middleware("orders"))
			or.Get("/user/{userId}", s.ListUserOrders)
			or.Post("/", s.CreateOrder)
			or.Post("/claim", s.ClaimOrder)
			or.Post("/{id}/proof/{type}", s.UploadProof)
			or.Get("/{id}/proof/{type}", s.GetProof)
			or.Get("/{id}/proof/{type}/public", s.GetProof)
			or.With(s.RequirePrivileged).Post("/{id}/freeze", s.FreezeOrder)
			or.With(s.RequirePrivileged).Post("/{id}/reactivate", s.ReactivateOrder)
		})

		api.Route("/wallet", func(wr chi.Router) {
			wr.Use(s.Authenticate)
			wr.Get("/", s.WalletBalance)
			wr.Get("/transactions", s.WalletTransactions)
		})

		api.Route("/invites", func(ir chi.Router) {
			ir.Use(s.Authenticate)
			ir.Post("/", s.CreateInvite)
			ir.Post("/{code}/revoke", s.RevokeInvite)
		})

		api.Route("/ops", func(opr chi.Router) {
			opr.Use(s.Authenticate)
			opr.Use(s.RequirePrivileged)
			opr.Post("/verify", s.OpsVerify)
			opr.Post("/orders/settle", s.OpsSettle)
			opr.Post("/orders/unsettle", s.OpsUnsettle)
			opr.Post("/orders/{id}/reject", s.OpsReject)
			opr.Post("/orders/{id}/fail", s.OpsFailOrder)
			opr.Post("/orders/{id}/request-proof", s.OpsRequestProof)
			opr.Post("/campaigns", s.OpsCreateCampaign)
			opr.Post("/campaigns/assign", s.OpsAssignCampaign)
			opr.Post("/deals/publish", s.OpsPublishDeal)
			opr.Post("/brands/connect", s.OpsConnectBrand)
			opr.Post("/payouts", s.OpsCreatePayout)
			opr.Post("/payouts/{id}/complete", s.OpsCompletePayout)
			opr.Post("/payouts/{id}/fail", s.OpsFailPayout)
			opr.With(s.RequireRole(models.RoleAdmin)).Get("/config", s.GetSystemConfig)
			opr.With(s.RequireRole(models.RoleAdmin)).Put("/config", s.PutSystemConfig)
			opr.With(s.RequireRole(models.RoleAdmin)).Post("/wallets/adjust", s.OpsAdjustWallet)
			opr.With(s.RequireRole(models.RoleAdmin)).Post("/users/{id}/suspend", s.SuspendUser)
			opr.With(s.RequireRole(models.RoleAdmin)).Post("/users/{id}/reinstate", s.ReinstateUser)
			opr.With(s.RequireRole(models.RoleAdmin)).Delete("/users/{id}", s.DeleteUser)
		})

		api.Route("/realtime", func(rr chi.Router) {
			rr.Use(s.Authenticate)
			rr.Get("/stream", s.Stream)
			rr.Post("/push", s.RegisterPush)
		})
	})

	return r
}

// Healthz reports liveness and store reachability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.respondError(w, r, fault.New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "database unreachable"))
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Error("encode response", "error", err)
		}
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// respondError maps business faults to the public envelope; anything
// else becomes an opaque 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := chimw.GetReqID(r.Context())
	if f, ok := fault.As(err); ok {
		s.respond(w, f.HTTPStatus, errorEnvelope{Error: errorBody{
			Code:      f.Code,
			Message:   f.Message,
			RequestID: requestID,
		}})
		if f.HTTPStatus >= 500 {
			s.logger.Error("request failed", "code", f.Code, "requestId", requestID)
		}
		return
	}
	s.logger.Error("internal error", "error", err, "requestId", requestID)
	s.sink.Emit(observability.Event{
		Level:     observability.LevelError,
		Domain:    observability.DomainHTTP,
		Category:  observability.CategoryError,
		Name:      "UNHANDLED_ERROR",
		RequestID: requestID,
		Metadata:  map[string]any{"error": err.Error()},
	})
	s.respond(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:      "INTERNAL",
		Message:   "internal server error",
		RequestID: requestID,
	}})
}

func (s *Server) decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fault.New("INVALID_PAYLOAD", http.StatusBadRequest, "malformed JSON body")
	}
	return nil
}
