// Package backend opens the store and push transport selected by config.
// Shared by cmd/api and cmd/notifyctl.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/albapepper/habit-notify/internal/config"
	"github.com/albapepper/habit-notify/internal/db"
	"github.com/albapepper/habit-notify/internal/notifications"
	"github.com/albapepper/habit-notify/internal/store"
)

// Backends bundles the opened collaborators. Close releases them.
type Backends struct {
	Store  store.Admin
	Sender notifications.Sender
	// Transport is the selected push transport (config.TransportFCM or
	// config.TransportLog).
	Transport string

	closers []func()
}

// Open connects the configured store and builds the push sender. Pushes are
// only logged when PUSH_TRANSPORT=log; the FCM transport never falls back to
// logging.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{Transport: cfg.PushTransport}

	var app *firebase.App
	if cfg.PushTransport == config.TransportFCM || cfg.StoreBackend == config.BackendFirestore {
		var err error
		app, err = newFirebaseApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.Store = store.NewPostgres(pool)
		b.closers = append(b.closers, pool.Close)
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)

	case config.BackendFirestore:
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		b.Store = store.NewFirestore(client, cfg.GroupsCollection, cfg.UsersCollection)
		b.closers = append(b.closers, func() { client.Close() })
		logger.Info("Firestore connected",
			"groups", cfg.GroupsCollection, "users", cfg.UsersCollection)

	case config.BackendMemory:
		b.Store = store.NewMemory()
		logger.Warn("Using in-memory store; data is lost on exit")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	var sender notifications.Sender
	switch cfg.PushTransport {
	case config.TransportFCM:
		client, err := app.Messaging(ctx)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("messaging client: %w", err)
		}
		sender = notifications.NewFCMSender(client, logger)
		logger.Info("FCM sender enabled", "credentials_file", cfg.FirebaseCredentialsFile != "")
	case config.TransportLog:
		sender = notifications.NewLogSender(logger)
		logger.Warn("PUSH_TRANSPORT=log: pushes are logged, not delivered")
	default:
		b.Close()
		return nil, fmt.Errorf("unknown push transport %q", cfg.PushTransport)
	}
	b.Sender = notifications.NewBreakerSender(sender, notifications.BreakerConfig{
		Name:             "fcm",
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
	}, logger)

	return b, nil
}

// NewNotifier builds the trigger pipeline over the opened backends.
func (b *Backends) NewNotifier(cfg *config.Config, logger *slog.Logger) *notifications.Notifier {
	return notifications.NewNotifier(b.Store, b.Sender, notifications.Options{
		Cooldown:           cfg.Cooldown,
		ResolveConcurrency: cfg.ResolveConcurrency,
	}, logger)
}

// Close releases every opened client, in reverse order.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}
	return app, nil
}
