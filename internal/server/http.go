package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/epiflight/internal/metrics"
)

// Response wraps every JSON body.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Handler serves the status API.
type Handler struct {
	source   StatusSource
	gatherer prometheus.Gatherer

	Mux *chi.Mux
}

// NewHandler builds the router. A nil gatherer leaves /metrics unmounted.
func NewHandler(src StatusSource, gatherer prometheus.Gatherer) *Handler {
	h := &Handler{
		source:   src,
		gatherer: gatherer,
		Mux:      chi.NewRouter(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	h.Mux.Get("/healthz", h.Healthz)
	h.Mux.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/countries/{code}", h.GetCountry)
	})
	if h.gatherer != nil {
		h.Mux.Handle("/metrics", metrics.Handler(h.gatherer))
	}
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Mux.ServeHTTP(w, r)
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, Response{Success: true, Message: "ok"})
}

// GetStatus returns the whole simulation view.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, Response{Success: true, Message: "status", Data: h.source.Status()})
}

// GetCountry returns one country by code.
func (h *Handler) GetCountry(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	cs, ok := h.source.CountryStatus(code)
	if !ok {
		cs, ok = h.source.CountryStatus(strings.ToUpper(code))
	}
	if !ok {
		h.writeJSON(w, r, http.StatusNotFound, Response{Message: fmt.Sprintf("unknown country %q", code)})
		return
	}
	h.writeJSON(w, r, http.StatusOK, Response{Success: true, Message: "country", Data: cs})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "method", r.Method, "path", r.URL.Path, "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	StatusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("Request handled", "status", rw.StatusCode, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Handler panic", "path", r.URL.Path, "error", err, "stack", string(debug.Stack()))
				h.writeJSON(w, r, http.StatusInternalServerError, Response{Message: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
