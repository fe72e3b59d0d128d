// Package store provides the group/member document store consumed by the
// notification core. Three backends share one contract: Postgres (pgx),
// Firestore, and an in-memory store for tests and local runs.
//
// UpdateRecords is the only write the core performs. Every backend runs it as
// an atomic read-modify-write on the group's record set so two concurrent
// triggers in the same group cannot overwrite each other's ledger entries.
package store

import (
	"context"
	"errors"

	"github.com/albapepper/habit-notify/internal/model"
)

// ErrNotFound is returned by GetGroup and GetMember when the document does
// not exist.
var ErrNotFound = errors.New("not found")

// UpdateFunc receives the record set as currently persisted and returns the
// set to write back. Returning an error aborts the update.
type UpdateFunc func(current model.RecordSet) (model.RecordSet, error)

// Store is the document store collaborator.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (model.Group, error)
	GetMember(ctx context.Context, memberID string) (model.Member, error)
	UpdateRecords(ctx context.Context, groupID string, fn UpdateFunc) error
}

// Admin adds the write operations used by the CLI to seed documents.
// PutGroup with a nil record set leaves stored records in place.
type Admin interface {
	Store
	PutGroup(ctx context.Context, g model.Group) error
	PutMember(ctx context.Context, m model.Member) error
	Ping(ctx context.Context) error
}
