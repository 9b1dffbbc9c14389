// Package api serves the control surface: connection status, metrics and push
// device registration.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pingme/internal/model"
	"pingme/internal/storage"
	"pingme/internal/stream"
)

// StatusSource reports the live connection status.
type StatusSource interface {
	Status() stream.Status
}

type handler struct {
	status   StatusSource
	registry storage.PushRegistry
	logger   *zap.Logger
}

// NewRouter builds the HTTP routes. A nil registry disables the push subscription
// endpoints.
func NewRouter(status StatusSource, registry storage.PushRegistry, gatherer prometheus.Gatherer, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{status: status, registry: registry, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", h.getStatus)
	r.Get("/healthz", h.getHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if registry != nil {
		r.Route("/users/{userID}/push-subscriptions", func(r chi.Router) {
			r.Get("/", h.listSubscriptions)
			r.Post("/", h.addSubscription)
			r.Delete("/", h.removeSubscription)
		})
	}
	return r
}

func (h *handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *handler) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := h.status.Status()
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": status.State.String()})
}

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	subs, err := h.registry.Subscriptions(r.Context(), userID)
	if err != nil {
		h.logger.Error("list push subscriptions failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list subscriptions failed")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *handler) addSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var sub model.PushSubscription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription body")
		return
	}
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if err := h.registry.AddSubscription(r.Context(), userID, sub); err != nil {
		h.logger.Error("add push subscription failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "add subscription failed")
		return
	}
	h.logger.Info("push subscription added", zap.String("user_id", userID))
	writeJSON(w, http.StatusCreated, sub)
}

func (h *handler) removeSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint query parameter is required")
		return
	}

	if err := h.registry.RemoveSubscription(r.Context(), userID, endpoint); err != nil {
		h.logger.Error("remove push subscription failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "remove subscription failed")
		return
	}
	h.logger.Info("push subscription removed", zap.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
