package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/albapepper/habit-notify/internal/model"
)

const recordsField = "notification_records"

// txMaxAttempts allows for several members of one group triggering at once.
const txMaxAttempts = 10

// groupDoc is the Firestore layout of a group document.
type groupDoc struct {
	Name     string               `firestore:"name"`
	Members  []string             `firestore:"members"`
	Timeline []any                `firestore:"timeline"`
	Records  map[string]time.Time `firestore:"notification_records,omitempty"`
}

// userDoc is the Firestore layout of a member document.
type userDoc struct {
	Name     string  `firestore:"name"`
	FCMToken *string `firestore:"fcm_token"`
}

// Firestore is the Store backed by the groups/users collections.
type Firestore struct {
	client *firestore.Client
	groups string
	users  string
}

var _ Admin = (*Firestore)(nil)

// NewFirestore wraps a client. groups and users are collection names.
func NewFirestore(client *firestore.Client, groups, users string) *Firestore {
	return &Firestore{client: client, groups: groups, users: users}
}

// GetGroup reads a group document.
func (s *Firestore) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	snap, err := s.client.Collection(s.groups).Doc(groupID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Group{}, ErrNotFound
	}
	if err != nil {
		return model.Group{}, fmt.Errorf("get group %s: %w", groupID, err)
	}
	return decodeGroup(snap)
}

// GetMember reads a user document.
func (s *Firestore) GetMember(ctx context.Context, memberID string) (model.Member, error) {
	snap, err := s.client.Collection(s.users).Doc(memberID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Member{}, ErrNotFound
	}
	if err != nil {
		return model.Member{}, fmt.Errorf("get member %s: %w", memberID, err)
	}
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Member{}, fmt.Errorf("decode member %s: %w", memberID, err)
	}
	return model.Member{ID: snap.Ref.ID, Name: doc.Name, FCMToken: doc.FCMToken}, nil
}

// UpdateRecords runs fn inside a Firestore transaction. Firestore may retry
// the transaction on contention, so fn can be called more than once.
func (s *Firestore) UpdateRecords(ctx context.Context, groupID string, fn UpdateFunc) error {
	ref := s.client.Collection(s.groups).Doc(groupID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get group %s: %w", groupID, err)
		}
		g, err := decodeGroup(snap)
		if err != nil {
			return err
		}

		next, err := fn(g.Records)
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: recordsField, Value: map[string]time.Time(next)},
		})
	}, firestore.MaxAttempts(txMaxAttempts))
}

// PutGroup writes the group document. A nil record set merges only the
// descriptive fields so stored records survive.
func (s *Firestore) PutGroup(ctx context.Context, g model.Group) error {
	doc := groupDoc{
		Name:     g.Name,
		Members:  g.Members,
		Timeline: g.Timeline,
		Records:  g.Records,
	}
	var opts []firestore.SetOption
	if g.Records == nil {
		opts = append(opts, firestore.Merge([]string{"name"}, []string{"members"}, []string{"timeline"}))
	}
	if _, err := s.client.Collection(s.groups).Doc(g.ID).Set(ctx, doc, opts...); err != nil {
		return fmt.Errorf("put group %s: %w", g.ID, err)
	}
	return nil
}

// PutMember writes the whole user document.
func (s *Firestore) PutMember(ctx context.Context, m model.Member) error {
	doc := userDoc{Name: m.Name, FCMToken: m.FCMToken}
	if _, err := s.client.Collection(s.users).Doc(m.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("put member %s: %w", m.ID, err)
	}
	return nil
}

// Ping reads at most one group document.
func (s *Firestore) Ping(ctx context.Context) error {
	it := s.client.Collection(s.groups).Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

func decodeGroup(snap *firestore.DocumentSnapshot) (model.Group, error) {
	var doc groupDoc
	if err := snap.DataTo(&doc); err != nil {
		return model.Group{}, fmt.Errorf("decode group %s: %w", snap.Ref.ID, err)
	}
	records := make(model.RecordSet, len(doc.Records))
	for id, ts := range doc.Records {
		records[id] = ts
	}
	return model.Group{
		ID:       snap.Ref.ID,
		Name:     doc.Name,
		Members:  doc.Members,
		Timeline: doc.Timeline,
		Records:  records,
	}, nil
}
