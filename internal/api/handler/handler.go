// Package handler provides HTTP handlers for all API endpoints.
// Handlers are thin: they parse path parameters, call the notifier and map
// its typed errors to status codes.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/habit-notify/internal/api/respond"
	"github.com/albapepper/habit-notify/internal/notifications"
)

// Notifier runs one trigger. Implemented by *notifications.Notifier.
type Notifier interface {
	Trigger(ctx context.Context, groupID, userID string) (*notifications.Result, error)
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	notifier Notifier
	store    Pinger
	backend  string
}

// New creates a Handler with shared dependencies.
func New(n Notifier, store Pinger, backend string) *Handler {
	return &Handler{notifier: n, store: store, backend: backend}
}

// NotifyResponse is the success body of GET /notify/{groupId}/{userId}.
type NotifyResponse struct {
	Success   bool                           `json:"success"`
	Message   string                         `json:"message"`
	TriggerID string                         `json:"trigger_id"`
	Response  *notifications.DispatchOutcome `json:"response"`
	Warning   string                         `json:"warning,omitempty"`
}

// Root serves a liveness string at /.
// @Summary Liveness
// @Tags meta
// @Produce plain
// @Success 200 {string} string
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteText(w, http.StatusOK, "Habit notification service is running")
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckStore verifies store connectivity.
// @Summary Store health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/store [get]
func (h *Handler) HealthCheckStore(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"store":     h.backend,
			"error":     "Store connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"store":     h.backend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Notify tells every other member of a group that a user completed a habit.
// @Summary Notify group members
// @Description Sends one push to every other member of the group, at most once per cooldown window per user and group.
// @Tags notify
// @Produce json
// @Param groupId path string true "Group ID"
// @Param userId path string true "Triggering user ID"
// @Success 200 {object} NotifyResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 429 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /notify/{groupId}/{userId} [get]
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := chi.URLParam(r, "userId")

	res, err := h.notifier.Trigger(r.Context(), groupID, userID)
	if err != nil {
		writeTriggerError(w, err)
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, NotifyResponse{
		Success:   true,
		Message:   "Notifications sent",
		TriggerID: res.TriggerID,
		Response:  res.Outcome,
		Warning:   res.Warning,
	})
}

func writeTriggerError(w http.ResponseWriter, err error) {
	var pe *notifications.Error
	if !errors.As(err, &pe) {
		pe = notifications.ErrUnexpected
	}

	switch pe.Kind {
	case notifications.KindNotFound:
		respond.WriteError(w, http.StatusNotFound, pe.Code, pe.Message)
	case notifications.KindPreconditionFailed:
		respond.WriteError(w, http.StatusBadRequest, pe.Code, pe.Message)
	case notifications.KindRateLimited:
		respond.WriteRetryAfter(w, pe.RetryAfter)
		respond.WriteError(w, http.StatusTooManyRequests, pe.Code, pe.Message)
	default:
		respond.WriteError(w, http.StatusInternalServerError, pe.Code, pe.Message)
	}
}
