package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fayedaihall/tesseracts-world/gateway/middleware"
	"github.com/fayedaihall/tesseracts-world/native/escrow"
	"github.com/fayedaihall/tesseracts-world/observability"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Registry is the escrow engine surface consumed by the gateway.
type Registry interface {
	Create(ctx context.Context, id, buyer, seller string, amount *big.Int, currency, orderID string) (*escrow.Escrow, error)
	Fund(ctx context.Context, id string, payment escrow.Payment) (*escrow.Escrow, error)
	Release(ctx context.Context, id, requestedBy string) (*escrow.Escrow, error)
	Dispute(ctx context.Context, id, requestedBy string) (*escrow.Escrow, error)
	Resolve(ctx context.Context, id string, releaseToSeller bool) (*escrow.Escrow, error)
	Get(ctx context.Context, id string) (*escrow.Escrow, error)
	ListByBuyer(ctx context.Context, buyer string) ([]*escrow.Escrow, error)
	ListBySeller(ctx context.Context, seller string) ([]*escrow.Escrow, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Registry  Registry
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimit
	Logger    *slog.Logger
	Health    func(ctx context.Context) error
}

// Server is the HTTP front-end for escrow interactions.
type Server struct {
	registry Registry
	auth     *middleware.Authenticator
	logger   *slog.Logger
	health   func(ctx context.Context) error
	router   http.Handler
}

// New constructs a configured server with authentication, rate limiting and
// telemetry wired in.
func New(cfg Config) *Server {
	if cfg.Registry == nil {
		panic("gateway: registry required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		registry: cfg.Registry,
		auth:     middleware.NewAuthenticator(cfg.Auth, logger),
		logger:   logger,
		health:   cfg.Health,
	}
	srv.router = srv.buildRouter(middleware.NewRateLimiter(cfg.RateLimit))
	return srv
}

// Handler exposes the configured router wrapped with OpenTelemetry HTTP
// instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "escrow-gateway")
}

func (s *Server) buildRouter(limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/escrows", func(r chi.Router) {
		r.Use(s.auth.Middleware())
		r.Use(limiter.Middleware())
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/fund", s.handleFund)
		r.Post("/{id}/release", s.handleRelease)
		r.Post("/{id}/dispute", s.handleDispute)
		r.With(s.auth.Middleware(middleware.ScopeAdmin)).Post("/{id}/resolve", s.handleResolve)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	EscrowID string `json:"escrow_id"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	OrderID  string `json:"order_id"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.Metrics().Latency.WithLabelValues("create"))
	defer timer.ObserveDuration()

	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	esc, err := s.registry.Create(r.Context(), req.EscrowID, req.Buyer, req.Seller, amount, req.Currency, req.OrderID)
	if err != nil {
		s.writeEngineError(w, "create", err)
		return
	}
	observability.Metrics().Transitions.WithLabelValues("create").Inc()
	s.writeJSON(w, http.StatusCreated, toEscrowDTO(esc))
}

type fundRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Source   string `json:"source"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.Metrics().Latency.WithLabelValues("fund"))
	defer timer.ObserveDuration()

	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	esc, err := s.registry.Fund(r.Context(), chi.URLParam(r, "id"), escrow.Payment{
		Source:   req.Source,
		Amount:   amount,
		Currency: req.Currency,
	})
	if err != nil {
		s.writeEngineError(w, "fund", err)
		return
	}
	observability.Metrics().Transitions.WithLabelValues("fund").Inc()
	s.writeJSON(w, http.StatusOK, toEscrowDTO(esc))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.Metrics().Latency.WithLabelValues("release"))
	defer timer.ObserveDuration()

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, errors.New("principal missing"))
		return
	}
	esc, err := s.registry.Release(r.Context(), chi.URLParam(r, "id"), principal.Subject)
	if err != nil {
		s.writeEngineError(w, "release", err)
		return
	}
	observability.Metrics().Transitions.WithLabelValues("release").Inc()
	recordSettlement(esc, "seller")
	s.writeJSON(w, http.StatusOK, toEscrowDTO(esc))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.Metrics().Latency.WithLabelValues("dispute"))
	defer timer.ObserveDuration()

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, errors.New("principal missing"))
		return
	}
	esc, err := s.registry.Dispute(r.Context(), chi.URLParam(r, "id"), principal.Subject)
	if err != nil {
		s.writeEngineError(w, "dispute", err)
		return
	}
	observability.Metrics().Transitions.WithLabelValues("dispute").Inc()
	s.writeJSON(w, http.StatusOK, toEscrowDTO(esc))
}

type resolveRequest struct {
	ReleaseToSeller bool `json:"release_to_seller"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.Metrics().Latency.WithLabelValues("resolve"))
	defer timer.ObserveDuration()

	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	esc, err := s.registry.Resolve(r.Context(), chi.URLParam(r, "id"), req.ReleaseToSeller)
	if err != nil {
		s.writeEngineError(w, "resolve", err)
		return
	}
	observability.Metrics().Transitions.WithLabelValues("resolve").Inc()
	if req.ReleaseToSeller {
		recordSettlement(esc, "seller")
	} else {
		recordSettlement(esc, "buyer")
	}
	s.writeJSON(w, http.StatusOK, toEscrowDTO(esc))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	esc, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, "get", err)
		return
	}
	s.writeJSON(w, http.StatusOK, toEscrowDTO(esc))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	buyer := strings.TrimSpace(r.URL.Query().Get("buyer"))
	seller := strings.TrimSpace(r.URL.Query().Get("seller"))

	var (
		records []*escrow.Escrow
		err     error
	)
	switch {
	case buyer != "" && seller == "":
		records, err = s.registry.ListByBuyer(r.Context(), buyer)
	case seller != "" && buyer == "":
		records, err = s.registry.ListBySeller(r.Context(), seller)
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("exactly one of buyer or seller query parameters is required"))
		return
	}
	if err != nil {
		s.writeEngineError(w, "list", err)
		return
	}
	out := make([]escrowDTO, 0, len(records))
	for _, esc := range records {
		out = append(out, toEscrowDTO(esc))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": out})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, operation string, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, escrow.ErrAlreadyExists):
		status, kind = http.StatusConflict, "already_exists"
	case errors.Is(err, escrow.ErrInvalidAmount):
		status, kind = http.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, escrow.ErrAmountMismatch):
		status, kind = http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, escrow.ErrInvalidState):
		status, kind = http.StatusConflict, "invalid_state"
	case errors.Is(err, escrow.ErrUnauthorized):
		status, kind = http.StatusForbidden, "unauthorized"
	case errors.Is(err, escrow.ErrStorage):
		status, kind = http.StatusInternalServerError, "storage"
		s.logger.Error("storage failure", "operation", operation, "error", err)
	}
	observability.Metrics().Failures.WithLabelValues(operation, kind).Inc()
	s.writeError(w, status, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type escrowDTO struct {
	EscrowID   string  `json:"escrow_id"`
	Buyer      string  `json:"buyer"`
	Seller     string  `json:"seller"`
	Amount     string  `json:"amount"`
	Currency   string  `json:"currency"`
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	FundedAt   *string `json:"funded_at,omitempty"`
	ReleasedAt *string `json:"released_at,omitempty"`
}

func toEscrowDTO(esc *escrow.Escrow) escrowDTO {
	dto := escrowDTO{
		EscrowID:  esc.ID,
		Buyer:     esc.Buyer,
		Seller:    esc.Seller,
		Amount:    esc.Amount.String(),
		Currency:  esc.Currency,
		OrderID:   esc.OrderID,
		Status:    esc.Status.String(),
		CreatedAt: esc.CreatedAt.UTC().Format(time.RFC3339),
	}
	if esc.FundedAt != nil {
		fundedAt := esc.FundedAt.UTC().Format(time.RFC3339)
		dto.FundedAt = &fundedAt
	}
	if esc.ReleasedAt != nil {
		releasedAt := esc.ReleasedAt.UTC().Format(time.RFC3339)
		dto.ReleasedAt = &releasedAt
	}
	return dto
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer string")
	}
	return amount, nil
}

func recordSettlement(esc *escrow.Escrow, destination string) {
	if esc == nil || esc.Amount == nil {
		return
	}
	value, _ := new(big.Float).SetInt(esc.Amount).Float64()
	observability.Metrics().Settled.WithLabelValues(esc.Currency, destination).Add(value)
}
