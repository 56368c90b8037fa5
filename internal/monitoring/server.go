package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	rerrors "github.com/dyxium/dia-core/internal/errors"
	"github.com/dyxium/dia-core/internal/journal"
	"github.com/dyxium/dia-core/internal/logger"
	"github.com/dyxium/dia-core/internal/pretrade"
	"github.com/dyxium/dia-core/internal/safety"
)

const defaultJournalLimit = 50

// JournalReader is the read side of the decision journal
type JournalReader interface {
	RecentTransitions(ctx context.Context, limit int) ([]journal.Transition, error)
	RecentRejections(ctx context.Context, limit int) ([]journal.Rejection, error)
}

// ServerDeps are the collaborators exposed over HTTP. Journal and Reload
// are optional.
type ServerDeps struct {
	Service *pretrade.Service
	Guard   GuardReader
	Health  *HealthChecker
	Metrics *Metrics
	Journal JournalReader
	Reload  func() error
	Logger  *logger.Logger
}

// Server is the status and pre-trade HTTP API
type Server struct {
	deps       ServerDeps
	router     *mux.Router
	httpServer *http.Server
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// GuardResponse is the /guard body
type GuardResponse struct {
	State                safety.GuardState `json:"state"`
	MaxActiveInstruments int               `json:"max_active_instruments"`
	SamplingFailures     uint64            `json:"sampling_failures"`
}

type latencyRequest struct {
	LatencyMs float64 `json:"latency_ms"`
}

type activeRequest struct {
	Symbols []string `json:"symbols"`
}

type activeResponse struct {
	Active               []string `json:"active"`
	MaxActiveInstruments int      `json:"max_active_instruments"`
}

type ordersResponse struct {
	OrdersLastMinute int `json:"orders_last_min"`
}

// NewServer builds the router and the http.Server listening on addr
func NewServer(addr string, deps ServerDeps) *Server {
	s := &Server{deps: deps}
	s.router = s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.recovery)
	router.Use(s.logging)

	router.Handle("/healthz", s.deps.Health).Methods(http.MethodGet)
	router.HandleFunc("/guard", s.getGuard).Methods(http.MethodGet)
	router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/limits", s.getLimits).Methods(http.MethodGet)
	api.HandleFunc("/size", s.postSize).Methods(http.MethodPost)
	api.HandleFunc("/validate", s.postValidate).Methods(http.MethodPost)
	api.HandleFunc("/propose", s.postPropose).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.postOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.getOrders).Methods(http.MethodGet)
	api.HandleFunc("/latency", s.postLatency).Methods(http.MethodPost)
	api.HandleFunc("/active", s.postActive).Methods(http.MethodPost)

	if s.deps.Reload != nil {
		api.HandleFunc("/reload", s.postReload).Methods(http.MethodPost)
	}
	if s.deps.Journal != nil {
		api.HandleFunc("/journal/transitions", s.getTransitions).Methods(http.MethodGet)
		api.HandleFunc("/journal/rejections", s.getRejections).Methods(http.MethodGet)
	}
	return router
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.deps.Logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) getGuard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GuardResponse{
		State:                s.deps.Guard.State(),
		MaxActiveInstruments: s.deps.Guard.MaxActiveInstruments(),
		SamplingFailures:     s.deps.Guard.SamplingFailures(),
	})
}

func (s *Server) getLimits(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	store := s.deps.Service.Limits()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"limits": store.LimitsFor(symbol),
		"sizing": store.SizingFor(symbol),
	})
}

func (s *Server) postSize(w http.ResponseWriter, r *http.Request) {
	var req pretrade.SizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Service.Size(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) postValidate(w http.ResponseWriter, r *http.Request) {
	var req pretrade.ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	decision, err := s.deps.Service.Validate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": decision.Accepted(),
		"reasons":  decision.Reasons(),
		"breaches": decision.Breaches,
	})
}

func (s *Server) postPropose(w http.ResponseWriter, r *http.Request) {
	var req pretrade.ProposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Service.Propose(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) postOrder(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ordersResponse{OrdersLastMinute: s.deps.Service.RecordOrder()})
}

func (s *Server) getOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ordersResponse{OrdersLastMinute: s.deps.Service.OrdersLastMinute()})
}

func (s *Server) postLatency(w http.ResponseWriter, r *http.Request) {
	var req latencyRequest
	if !s.decode(w, r, &req) {
		return
	}
	d := time.Duration(req.LatencyMs * float64(time.Millisecond))
	if err := s.deps.Service.ObserveLatency(d); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !s.decode(w, r, &req) {
		return
	}
	kept, maxActive := s.deps.Service.ActiveSet(req.Symbols)
	writeJSON(w, http.StatusOK, activeResponse{Active: kept, MaxActiveInstruments: maxActive})
}

func (s *Server) postReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reload(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTransitions(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Journal.RecentTransitions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRejections(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limitParam(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Journal.RecentRejections(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultJournalLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Code: "INVALID_LIMIT"})
		return 0, false
	}
	return n, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_JSON", Details: err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	category := rerrors.CategoryOf(err)
	s.deps.Metrics.RecordError(string(category))

	status := http.StatusInternalServerError
	switch category {
	case rerrors.ErrorCategoryConfiguration:
		status = http.StatusBadRequest
	case rerrors.ErrorCategoryConstraint:
		status = http.StatusUnprocessableEntity
	case rerrors.ErrorCategoryExternal:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: string(category)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.Debug("%s %s - %d - %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.deps.Logger.Error("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, err, debug.Stack())
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
