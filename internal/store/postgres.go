package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/habit-notify/internal/db"
	"github.com/albapepper/habit-notify/internal/model"
)

// Postgres is the pgx-backed Store. Statement names refer to the prepared
// statements registered by internal/db.
type Postgres struct {
	db   *db.Pool
	pool *pgxpool.Pool
}

var _ Admin = (*Postgres)(nil)

// NewPostgres wraps an open pool.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{db: pool, pool: pool.Pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetGroup loads the group row and its notification records.
func (s *Postgres) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	var g model.Group
	err := s.pool.QueryRow(ctx, "group_by_id", groupID).Scan(&g.ID, &g.Name, &g.Members, &g.Timeline)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Group{}, ErrNotFound
	}
	if err != nil {
		return model.Group{}, fmt.Errorf("get group %s: %w", groupID, err)
	}

	g.Records, err = loadRecords(ctx, s.pool, groupID)
	if err != nil {
		return model.Group{}, err
	}
	return g, nil
}

// GetMember loads a member row.
func (s *Postgres) GetMember(ctx context.Context, memberID string) (model.Member, error) {
	var m model.Member
	err := s.pool.QueryRow(ctx, "member_by_id", memberID).Scan(&m.ID, &m.Name, &m.FCMToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Member{}, ErrNotFound
	}
	if err != nil {
		return model.Member{}, fmt.Errorf("get member %s: %w", memberID, err)
	}
	return m, nil
}

// UpdateRecords locks the group row (SELECT ... FOR UPDATE), reads the
// records inside the same transaction, and upserts every entry fn changed.
// Entries fn drops are left in place; records are never deleted.
func (s *Postgres) UpdateRecords(ctx context.Context, groupID string, fn UpdateFunc) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, "group_lock", groupID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock group %s: %w", groupID, err)
		}

		current, err := loadRecords(ctx, tx, groupID)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for memberID, ts := range next {
			if prev, ok := current[memberID]; ok && prev.Equal(ts) {
				continue
			}
			batch.Queue("group_record_upsert", groupID, memberID, ts)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert records for group %s: %w", groupID, err)
		}
		return nil
	})
}

// PutGroup upserts the group row and its records. Existing records are never
// removed.
func (s *Postgres) PutGroup(ctx context.Context, g model.Group) error {
	members := g.Members
	if members == nil {
		members = []string{}
	}
	timeline := g.Timeline
	if timeline == nil {
		timeline = []any{}
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "group_upsert", g.ID, g.Name, members, timeline); err != nil {
			return fmt.Errorf("upsert group %s: %w", g.ID, err)
		}
		for memberID, ts := range g.Records {
			if _, err := tx.Exec(ctx, "group_record_upsert", g.ID, memberID, ts); err != nil {
				return fmt.Errorf("upsert record %s/%s: %w", g.ID, memberID, err)
			}
		}
		return nil
	})
}

// PutMember upserts a member row.
func (s *Postgres) PutMember(ctx context.Context, m model.Member) error {
	if _, err := s.pool.Exec(ctx, "member_upsert", m.ID, m.Name, m.FCMToken); err != nil {
		return fmt.Errorf("upsert member %s: %w", m.ID, err)
	}
	return nil
}

// Ping verifies connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func loadRecords(ctx context.Context, q querier, groupID string) (model.RecordSet, error) {
	rows, err := q.Query(ctx, "group_records", groupID)
	if err != nil {
		return nil, fmt.Errorf("get records for group %s: %w", groupID, err)
	}
	defer rows.Close()

	records := make(model.RecordSet)
	for rows.Next() {
		var (
			memberID string
			ts       time.Time
		)
		if err := rows.Scan(&memberID, &ts); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records[memberID] = ts
	}
	return records, rows.Err()
}
