package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/habit-notify/internal/model"
	"github.com/albapepper/habit-notify/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestNotifier(st store.Store, sender Sender, clk *clock) *Notifier {
	return NewNotifier(st, sender, Options{Cooldown: 6 * time.Hour, ResolveConcurrency: 4, Now: clk.Now}, testLogger())
}

func TestTrigger_FirstTriggerNotifiesOthers(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B", "C")
	sender := &fakeSender{}
	clk := &clock{now: t0}

	res, err := newTestNotifier(st, sender, clk).Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)

	require.Len(t, sender.calls, 1)
	assert.Equal(t, []string{"tok-B", "tok-C"}, sender.calls[0])
	assert.Equal(t, "name-A, is getting stronger!", sender.msgs[0].Title)

	assert.NotEmpty(t, res.TriggerID)
	assert.Equal(t, 2, res.Outcome.SuccessCount)
	assert.Empty(t, res.Warning)
	assert.Equal(t, model.RecordSet{"A": t0}, records(t, st, "G1"))
}

func TestTrigger_RepeatWithinCooldownIsRateLimited(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B", "C")
	sender := &fakeSender{}
	clk := &clock{now: t0}
	n := newTestNotifier(st, sender, clk)

	_, err := n.Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = n.Trigger(context.Background(), "G1", "A")

	require.ErrorIs(t, err, ErrRateLimited)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRateLimited, pe.Kind)
	assert.Equal(t, 6*time.Hour-time.Minute, pe.RetryAfter)
	assert.Equal(t, "Notification already sent in the last 6 hours for this user in this group", pe.Message)

	assert.Equal(t, 1, sender.callCount())
	assert.Equal(t, model.RecordSet{"A": t0}, records(t, st, "G1"))
}

func TestTrigger_AllowedAgainAfterCooldown(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")
	sender := &fakeSender{}
	clk := &clock{now: t0}
	n := newTestNotifier(st, sender, clk)

	_, err := n.Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)

	clk.Advance(6 * time.Hour)
	_, err = n.Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)

	assert.Equal(t, 2, sender.callCount())
	assert.Equal(t, model.RecordSet{"A": t0.Add(6 * time.Hour)}, records(t, st, "G1"))
}

func TestTrigger_OtherUserNotAffectedByCooldown(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")
	sender := &fakeSender{}
	clk := &clock{now: t0}
	n := newTestNotifier(st, sender, clk)

	_, err := n.Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = n.Trigger(context.Background(), "G1", "B")
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-A"}, sender.calls[1])
	assert.Equal(t, model.RecordSet{"A": t0, "B": t0.Add(time.Minute)}, records(t, st, "G1"))
}

func TestTrigger_EarlyExits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedGroup(t, st, "solo", "A")
	require.NoError(t, st.PutGroup(ctx, model.Group{ID: "empty", Name: "x", Timeline: []any{"e"}}))
	require.NoError(t, st.PutGroup(ctx, model.Group{ID: "quiet", Name: "x", Members: []string{"A", "B"}}))

	tests := []struct {
		name    string
		groupID string
		want    *Error
		state   State
	}{
		{"group not found", "missing", ErrGroupNotFound, StateGroupNotFound},
		{"no timeline", "quiet", ErrNoTimeline, StateNoTimeline},
		{"empty members", "empty", ErrNoRecipients, StateNoRecipients},
		{"only the trigger user", "solo", ErrNoRecipients, StateNoRecipients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			res, err := newTestNotifier(st, sender, &clock{now: t0}).Trigger(ctx, tt.groupID, "A")

			assert.Nil(t, res)
			require.ErrorIs(t, err, tt.want)
			var pe *Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.state, pe.State)
			assert.Zero(t, sender.callCount())
		})
	}

	assert.Empty(t, records(t, st, "solo"))
	assert.Empty(t, records(t, st, "empty"))
}

func TestTrigger_DispatchFailureDoesNotCommit(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")
	sender := &fakeSender{err: errors.New("fcm: 503")}

	_, err := newTestNotifier(st, sender, &clock{now: t0}).Trigger(context.Background(), "G1", "A")

	require.ErrorIs(t, err, ErrDispatch)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindDependencyFailure, pe.Kind)
	assert.Equal(t, StateFailed, pe.State)
	assert.Empty(t, records(t, st, "G1"))
}

func TestTrigger_PartialTokenFailureStillCommits(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B", "C")
	sender := &fakeSender{fail: map[string]bool{"tok-B": true}}

	res, err := newTestNotifier(st, sender, &clock{now: t0}).Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outcome.SuccessCount)
	assert.Equal(t, 1, res.Outcome.FailureCount)
	assert.Contains(t, records(t, st, "G1"), "A")
}

// failingUpdates is a store whose ledger writes always fail.
type failingUpdates struct {
	*store.Memory
}

func (failingUpdates) UpdateRecords(context.Context, string, store.UpdateFunc) error {
	return errors.New("deadline exceeded")
}

func TestTrigger_PersistFailureReportsWarning(t *testing.T) {
	mem := store.NewMemory()
	seedGroup(t, mem, "G1", "A", "B")
	sender := &fakeSender{}

	res, err := newTestNotifier(failingUpdates{mem}, sender, &clock{now: t0}).Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 1, sender.callCount())
}

func TestTrigger_StoreReadFailure(t *testing.T) {
	_, err := newTestNotifier(brokenStore{}, &fakeSender{}, &clock{now: t0}).Trigger(context.Background(), "G1", "A")
	require.ErrorIs(t, err, ErrStore)
	assert.NotContains(t, ErrStore.Message, "connection refused")
}

type brokenStore struct{}

func (brokenStore) GetGroup(context.Context, string) (model.Group, error) {
	return model.Group{}, errors.New("connection refused")
}

func (brokenStore) GetMember(context.Context, string) (model.Member, error) {
	return model.Member{}, errors.New("connection refused")
}

func (brokenStore) UpdateRecords(context.Context, string, store.UpdateFunc) error {
	return errors.New("connection refused")
}

func TestTrigger_CommitKeepsNewerConcurrentEntry(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")
	later := t0.Add(time.Hour)

	// Another process commits A at a later time while this trigger dispatches.
	sender := senderFunc(func(ctx context.Context, msg Message, toks []string) (*DispatchOutcome, error) {
		err := st.UpdateRecords(ctx, "G1", func(rs model.RecordSet) (model.RecordSet, error) {
			return Commit(rs, "A", later), nil
		})
		require.NoError(t, err)
		return &DispatchOutcome{SuccessCount: len(toks)}, nil
	})

	_, err := newTestNotifier(st, sender, &clock{now: t0}).Trigger(context.Background(), "G1", "A")
	require.NoError(t, err)
	assert.Equal(t, model.RecordSet{"A": later}, records(t, st, "G1"))
}

type senderFunc func(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error)

func (f senderFunc) SendBulk(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	return f(ctx, msg, tokens)
}

func TestTrigger_ConcurrentMembersAllRecorded(t *testing.T) {
	st := store.NewMemory()
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%02d", i)
	}
	seedGroup(t, st, "G1", ids...)
	n := newTestNotifier(st, &fakeSender{}, &clock{now: t0})

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.Trigger(context.Background(), "G1", id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rs := records(t, st, "G1")
	assert.Len(t, rs, len(ids))
	for _, id := range ids {
		assert.Equal(t, t0, rs[id])
	}
}

func TestTrigger_ConcurrentSameUserSendsOnce(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B", "C")

	release := make(chan struct{})
	var calls sync.WaitGroup
	sender := &fakeSender{}
	blocking := senderFunc(func(ctx context.Context, msg Message, toks []string) (*DispatchOutcome, error) {
		<-release
		return sender.SendBulk(ctx, msg, toks)
	})
	n := newTestNotifier(st, blocking, &clock{now: t0})

	errs := make([]error, 5)
	for i := range errs {
		i := i
		calls.Add(1)
		go func() {
			defer calls.Done()
			_, errs[i] = n.Trigger(context.Background(), "G1", "A")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	calls.Wait()

	ok, limited := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRateLimited):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, limited)
	assert.Equal(t, 1, sender.callCount())
}

// gatedStore holds every GetGroup until gate is closed.
type gatedStore struct {
	*store.Memory
	gate    chan struct{}
	entered chan struct{}
	reads   atomic.Int32
}

func (g *gatedStore) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	g.reads.Add(1)
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.Memory.GetGroup(ctx, groupID)
}

func TestTrigger_ConcurrentDuplicatesGetTheirOwnAnswer(t *testing.T) {
	tests := []struct {
		name    string
		groupID string
		want    error
	}{
		{"missing group", "missing", ErrGroupNotFound},
		{"empty timeline", "quiet", ErrNoTimeline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			require.NoError(t, mem.PutGroup(context.Background(), model.Group{ID: "quiet", Members: []string{"A", "B"}}))
			st := &gatedStore{Memory: mem, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
			sender := &fakeSender{}
			n := newTestNotifier(st, sender, &clock{now: t0})

			errs := make([]error, 2)
			var wg sync.WaitGroup
			for i := range errs {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = n.Trigger(context.Background(), tt.groupID, "A")
				}()
			}
			<-st.entered
			time.Sleep(20 * time.Millisecond)
			close(st.gate)
			wg.Wait()

			for _, err := range errs {
				require.ErrorIs(t, err, tt.want)
				assert.NotErrorIs(t, err, ErrRateLimited)
			}
			assert.EqualValues(t, 2, st.reads.Load())
			assert.Zero(t, sender.callCount())
		})
	}
}

func TestTrigger_DuplicateProceedsWhenFirstDispatchFails(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	sender := senderFunc(func(_ context.Context, _ Message, toks []string) (*DispatchOutcome, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return nil, errors.New("fcm unavailable")
		}
		return &DispatchOutcome{SuccessCount: len(toks)}, nil
	})
	n := newTestNotifier(st, sender, &clock{now: t0})

	var first, second error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, first = n.Trigger(context.Background(), "G1", "A")
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, second = n.Trigger(context.Background(), "G1", "A")
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.ErrorIs(t, first, ErrDispatch)
	require.NoError(t, second)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, model.RecordSet{"A": t0}, records(t, st, "G1"))
}

func TestTrigger_WaitingDuplicateHonoursContext(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	sender := senderFunc(func(_ context.Context, _ Message, toks []string) (*DispatchOutcome, error) {
		close(entered)
		<-release
		return &DispatchOutcome{SuccessCount: len(toks)}, nil
	})
	n := newTestNotifier(st, sender, &clock{now: t0})

	go func() { _, _ = n.Trigger(context.Background(), "G1", "A") }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := n.Trigger(ctx, "G1", "A")
	require.ErrorIs(t, err, ErrUnexpected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrigger_FailureLogNamesStep(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := NewNotifier(st, &fakeSender{err: errors.New("fcm unavailable")}, Options{Cooldown: 6 * time.Hour}, logger)

	_, err := n.Trigger(context.Background(), "G1", "A")
	require.ErrorIs(t, err, ErrDispatch)
	assert.Contains(t, buf.String(), "step=dispatching")
}

func TestTrigger_RecoversPanics(t *testing.T) {
	st := store.NewMemory()
	seedGroup(t, st, "G1", "A", "B")
	boom := senderFunc(func(context.Context, Message, []string) (*DispatchOutcome, error) {
		panic("nil map")
	})

	_, err := newTestNotifier(st, boom, &clock{now: t0}).Trigger(context.Background(), "G1", "A")
	require.ErrorIs(t, err, ErrUnexpected)
	assert.Empty(t, records(t, st, "G1"))
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "6 hours", humanDuration(6*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "90 minutes", humanDuration(90*time.Minute))
	assert.Equal(t, "1.5s", humanDuration(1500*time.Millisecond))
}
