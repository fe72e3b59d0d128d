// Package listener provides a Postgres LISTEN/NOTIFY consumer for habit
// completion events. It holds a dedicated pgx connection (not from the pool)
// listening on a configurable channel (default `habit_completed`).
//
// Each event runs the same trigger pipeline as GET /notify/{groupId}/{userId},
// so cooldown and self-exclusion rules apply identically.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/habit-notify/internal/notifications"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// HabitEvent is the JSON payload from pg_notify('habit_completed', ...).
type HabitEvent struct {
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"ts"`
}

// Triggerer runs one notification trigger.
type Triggerer interface {
	Trigger(ctx context.Context, groupID, userID string) (*notifications.Result, error)
}

// Start opens a dedicated connection and listens on channel. It reconnects
// automatically on connection loss. Blocks until ctx is cancelled. Intended
// to be called with `go`.
func Start(ctx context.Context, dbURL, channel string, n Triggerer, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, channel, n, logger)
		if ctx.Err() != nil {
			logger.Info("Habit listener stopped (context cancelled)")
			return
		}

		logger.Error("Habit listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL, channel string, n Triggerer, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Habit listener connected", "channel", channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Handle(ctx, notification, n, logger)
	}
}

// Handle parses one notification and runs the trigger asynchronously so the
// listener never blocks on a push round-trip.
func Handle(ctx context.Context, notification *pgconn.Notification, n Triggerer, logger *slog.Logger) {
	event, err := ParseEvent(notification.Payload)
	if err != nil {
		logger.Warn("Failed to parse habit event",
			"payload", notification.Payload, "error", err)
		return
	}

	logger.Debug("Habit event received",
		"group_id", event.GroupID, "user_id", event.UserID)

	go func() {
		// Outcome logging happens inside the notifier.
		_, _ = n.Trigger(ctx, event.GroupID, event.UserID)
	}()
}

// ParseEvent decodes and validates a payload.
func ParseEvent(payload string) (HabitEvent, error) {
	var event HabitEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return HabitEvent{}, err
	}
	if event.GroupID == "" || event.UserID == "" {
		return HabitEvent{}, errors.New("group_id and user_id are required")
	}
	return event, nil
}
