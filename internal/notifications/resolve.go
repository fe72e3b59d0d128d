package notifications

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/habit-notify/internal/model"
	"github.com/albapepper/habit-notify/internal/store"
)

// MemberGetter is the slice of the store the resolver needs.
type MemberGetter interface {
	GetMember(ctx context.Context, memberID string) (model.Member, error)
}

// Resolution is the outcome of resolving a group's member list.
type Resolution struct {
	// Tokens are the recipients' push tokens in member-list order.
	Tokens []string
	// TriggerName is the triggering user's display name, nil when the user
	// is not a member or has no member document.
	TriggerName *string
}

// Resolver turns member ids into push tokens. Lookups overlap up to the
// configured concurrency; the result order never depends on completion order.
type Resolver struct {
	members     MemberGetter
	concurrency int
}

// NewResolver creates a Resolver. concurrency < 1 means the default.
func NewResolver(members MemberGetter, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = defaultResolveConcurrency
	}
	return &Resolver{members: members, concurrency: concurrency}
}

// Resolve fetches every member and collects tokens for everyone except
// triggerUserID. Missing members and members without a token are skipped.
// Any other store error fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, memberIDs []string, triggerUserID string) (Resolution, error) {
	ids := uniqueIDs(memberIDs)
	found := make([]*model.Member, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, err := r.members.GetMember(gctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get member %s: %w", id, err)
			}
			found[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	var (
		res          Resolution
		triggerToken string
	)
	for i, m := range found {
		if m == nil || ids[i] != triggerUserID {
			continue
		}
		name := m.Name
		res.TriggerName = &name
		triggerToken, _ = m.Token()
	}

	seen := make(map[string]struct{}, len(found))
	for i, m := range found {
		if m == nil || ids[i] == triggerUserID {
			continue
		}
		tok, ok := m.Token()
		if !ok {
			continue
		}
		// A device shared with the triggering user must not get its own push.
		if tok == triggerToken {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		res.Tokens = append(res.Tokens, tok)
	}
	return res, nil
}

// uniqueIDs drops repeated ids, keeping the first occurrence.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
