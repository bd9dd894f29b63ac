// Package api exposes box calculations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/logger"
	"github.com/rewired-gh/boxoracle/internal/models"
	"github.com/rewired-gh/boxoracle/internal/storage"
)

// Calculator is the service surface the handlers need.
type Calculator interface {
	Calculate(ctx context.Context, packID, userID string) (*models.Calculation, error)
	History(ctx context.Context, packID string, limit int) ([]models.Calculation, error)
	Packs(ctx context.Context) ([]*models.Pack, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	calc Calculator
	db   Pinger
}

// NewHandler creates a new handler. db may be nil.
func NewHandler(calc Calculator, db Pinger) *Handler {
	return &Handler{calc: calc, db: db}
}

// RouterOptions configures middleware around the routes.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Router builds the chi router with all routes and middleware.
func (h *Handler) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Route("/api/v1/packs", func(r chi.Router) {
		r.Get("/", h.ListPacks)
		r.Get("/{packID}/calculate", h.Calculate)
		r.Post("/{packID}/calculate", h.Calculate)
		r.Get("/{packID}/calculations", h.History)
	})
	return r
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":  "healthy",
		"service": "boxoracle",
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

// ListPacks returns every stored pack
func (h *Handler) ListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := h.calc.Packs(r.Context())
	if err != nil {
		respondCalcError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"packs": packs})
}

// Calculate evaluates a pack for the optional user_id query parameter. With
// detail=true the full calculation record is returned instead of the summary.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "packID")
	userID := r.URL.Query().Get("user_id")

	calc, err := h.calc.Calculate(r.Context(), packID, userID)
	if err != nil {
		respondCalcError(w, err)
		return
	}

	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		respondJSON(w, http.StatusOK, calc)
		return
	}
	respondJSON(w, http.StatusOK, calc.Result)
}

// History returns recent calculations of a pack
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	packID := chi.URLParam(r, "packID")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_input", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	calcs, err := h.calc.History(r.Context(), packID, limit)
	if err != nil {
		respondCalcError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"calculations": calcs})
}

// statusFor maps calculation errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest, engine.KindName(err)
	case errors.Is(err, engine.ErrInvalidRarityConfig), errors.Is(err, engine.ErrInsufficientData):
		return http.StatusUnprocessableEntity, engine.KindName(err)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondCalcError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
		msg = "internal error"
	}
	respondError(w, status, kind, msg)
}

// respondJSON writes a JSON response. The body is encoded before the header is
// sent so an unencodable value becomes a 500 instead of an empty success.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Error("Failed to encode response: %v", err)
		body = []byte(`{"error":"internal error","kind":"internal"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"kind":  kind,
	})
}

// requestLogger logs each request through the service logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
