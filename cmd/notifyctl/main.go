// Command notifyctl is the Habit Notify operator CLI.
//
// Usage:
//
//	notifyctl migrate
//	notifyctl group put --id G1 --name "Early Risers" --member A --member B --timeline run
//	notifyctl member put --id A --name Alice --token fcm-token
//	notifyctl trigger G1 A
//	notifyctl ledger G1
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/habit-notify/internal/backend"
	"github.com/albapepper/habit-notify/internal/config"
	"github.com/albapepper/habit-notify/internal/db"
	"github.com/albapepper/habit-notify/internal/model"
	"github.com/albapepper/habit-notify/internal/notifications"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Habit Notify operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(triggerCmd())
	root.AddCommand(ledgerCmd())
	root.AddCommand(groupCmd())
	root.AddCommand(memberCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			start := time.Now()
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied", "duration", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// trigger command
// --------------------------------------------------------------------------

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <groupId> <userId>",
		Short: "Run one notification trigger, as GET /notify would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBackends(func(ctx context.Context, cfg *config.Config, b *backend.Backends) error {
				n := b.NewNotifier(cfg, logger)
				result, err := n.Trigger(ctx, args[0], args[1])
				if err != nil {
					var nerr *notifications.Error
					if errors.As(err, &nerr) && nerr.RetryAfter > 0 {
						return fmt.Errorf("%s (%s, retry after %s)", nerr.Message, nerr.Code, nerr.RetryAfter.Round(time.Second))
					}
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

// --------------------------------------------------------------------------
// ledger command
// --------------------------------------------------------------------------

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <groupId>",
		Short: "Show the group's notification records and cooldown state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBackends(func(ctx context.Context, cfg *config.Config, b *backend.Backends) error {
				g, err := b.Store.GetGroup(ctx, args[0])
				if err != nil {
					return fmt.Errorf("get group %s: %w", args[0], err)
				}

				now := time.Now().UTC()
				records := g.Records.Records()
				sort.Slice(records, func(i, j int) bool {
					return records[i].NotifiedAt.After(records[j].NotifiedAt)
				})

				type row struct {
					model.NotificationRecord
					Allowed   bool   `json:"allowed"`
					Remaining string `json:"remaining,omitempty"`
				}
				rows := make([]row, 0, len(records))
				for _, rec := range records {
					d := notifications.Admit(g.Records, rec.MemberID, now, cfg.Cooldown)
					r := row{NotificationRecord: rec, Allowed: d.Allow}
					if !d.Allow {
						r.Remaining = d.Remaining.Round(time.Second).String()
					}
					rows = append(rows, r)
				}
				return printJSON(cmd, map[string]any{
					"group_id": g.ID,
					"cooldown": cfg.Cooldown.String(),
					"records":  rows,
				})
			})
		},
	}
}

// --------------------------------------------------------------------------
// group / member commands
// --------------------------------------------------------------------------

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage group documents",
	}
	cmd.AddCommand(groupPutCmd())
	return cmd
}

func groupPutCmd() *cobra.Command {
	var (
		id       string
		name     string
		members  []string
		timeline []string
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a group (records are preserved)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return runWithBackends(func(ctx context.Context, cfg *config.Config, b *backend.Backends) error {
				entries := make([]any, 0, len(timeline))
				for _, e := range timeline {
					entries = append(entries, e)
				}
				g := model.Group{ID: id, Name: name, Members: members, Timeline: entries}
				if err := b.Store.PutGroup(ctx, g); err != nil {
					return fmt.Errorf("put group %s: %w", id, err)
				}
				logger.Info("Group stored", "group_id", id, "members", len(members), "timeline", len(entries))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Group ID")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&members, "member", nil, "Member ID (repeatable)")
	cmd.Flags().StringSliceVar(&timeline, "timeline", nil, "Timeline entry (repeatable)")
	return cmd
}

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage member documents",
	}
	cmd.AddCommand(memberPutCmd())
	return cmd
}

func memberPutCmd() *cobra.Command {
	var id, name, token string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			return runWithBackends(func(ctx context.Context, cfg *config.Config, b *backend.Backends) error {
				m := model.Member{ID: id, Name: name}
				if cmd.Flags().Changed("token") {
					m.FCMToken = &token
				}
				if err := b.Store.PutMember(ctx, m); err != nil {
					return fmt.Errorf("put member %s: %w", id, err)
				}
				_, hasToken := m.Token()
				logger.Info("Member stored", "member_id", id, "has_token", hasToken)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Member ID")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&token, "token", "", "FCM registration token")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runWithBackends handles config loading, backend connection, and context
// cancellation.
func runWithBackends(fn func(ctx context.Context, cfg *config.Config, b *backend.Backends) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("STORE_BACKEND=memory: changes are discarded when the command exits")
	}

	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, cfg, b)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
