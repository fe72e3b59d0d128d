package notifications

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/albapepper/habit-notify/internal/model"
	"github.com/albapepper/habit-notify/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(s string) *string { return &s }

// fakeSender records every bulk send.
type fakeSender struct {
	mu    sync.Mutex
	calls [][]string
	msgs  []Message
	err   error
	fail  map[string]bool // tokens reported as failed
}

func (f *fakeSender) SendBulk(_ context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(tokens))
	f.msgs = append(f.msgs, msg)
	if f.err != nil {
		return nil, f.err
	}
	out := &DispatchOutcome{}
	for _, tok := range tokens {
		if f.fail[tok] {
			out.FailureCount++
			out.Responses = append(out.Responses, TokenResult{Token: tok, Error: "unregistered"})
			continue
		}
		out.SuccessCount++
		out.Responses = append(out.Responses, TokenResult{Token: tok, Success: true, MessageID: "id-" + tok})
	}
	return out, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// seedGroup stores a group with a one-entry timeline plus a member (with
// token "tok-<id>") for every id in members.
func seedGroup(t *testing.T, st *store.Memory, groupID string, members ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.PutGroup(ctx, model.Group{
		ID:       groupID,
		Name:     "Early Risers",
		Members:  members,
		Timeline: []any{map[string]any{"habit": "run"}},
	}))
	for _, id := range members {
		require.NoError(t, st.PutMember(ctx, model.Member{ID: id, Name: "name-" + id, FCMToken: ptr("tok-" + id)}))
	}
}

func records(t *testing.T, st store.Store, groupID string) model.RecordSet {
	t.Helper()
	g, err := st.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	return g.Records
}
