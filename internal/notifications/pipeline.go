package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/habit-notify/internal/model"
	"github.com/albapepper/habit-notify/internal/store"
)

// persistTimeout bounds the ledger write, which runs detached from the
// caller's context once the push has gone out.
const persistTimeout = 10 * time.Second

// stateDoneUnpersisted labels triggers that delivered but could not record
// the ledger update.
const stateDoneUnpersisted State = "done_unpersisted"

// Options configures a Notifier. Zero values select defaults.
type Options struct {
	Cooldown           time.Duration
	ResolveConcurrency int
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Notifier runs the trigger pipeline. It is safe for concurrent use.
type Notifier struct {
	store      store.Store
	resolver   *Resolver
	dispatcher *Dispatcher
	cooldown   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewNotifier wires the pipeline over a store and a push sender.
func NewNotifier(st store.Store, sender Sender, opts Options, logger *slog.Logger) *Notifier {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{
		store:      st,
		resolver:   NewResolver(st, opts.ResolveConcurrency),
		dispatcher: NewDispatcher(sender, logger),
		cooldown:   opts.Cooldown,
		now:        opts.Now,
		logger:     logger,
		inflight:   make(map[string]chan struct{}),
	}
}

// Trigger notifies every other member of groupID that userID completed a
// habit. Failures are always returned as *Error.
func (n *Notifier) Trigger(ctx context.Context, groupID, userID string) (res *Result, err error) {
	triggerID := uuid.NewString()
	logger := n.logger.With("trigger_id", triggerID, "group_id", groupID, "user_id", userID)

	state, step := StateFailed, StateLoading
	defer func() {
		if r := recover(); r != nil {
			state = StateFailed
			res, err = nil, ErrUnexpected.with(fmt.Errorf("panic: %v", r))
		}
		recordTrigger(state)
		n.logOutcome(logger, state, step, res, err)
	}()

	res, state, err = n.run(ctx, triggerID, groupID, userID, &step, logger)
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			err = ErrUnexpected.with(err)
		}
	}
	return res, err
}

// run walks the pipeline, keeping *step at the step in progress.
func (n *Notifier) run(ctx context.Context, triggerID, groupID, userID string, step *State, logger *slog.Logger) (*Result, State, error) {
	// One trigger per (group, user) at a time in this process. A duplicate
	// waits for the one in flight, then loads the records it left behind.
	release, err := n.acquire(ctx, groupID, userID)
	if err != nil {
		return nil, StateFailed, ErrUnexpected.with(err)
	}
	defer release()

	*step = StateLoading
	group, err := n.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, StateGroupNotFound, ErrGroupNotFound
	}
	if err != nil {
		return nil, StateFailed, ErrStore.with(err)
	}
	if !group.HasTimeline() {
		return nil, StateNoTimeline, ErrNoTimeline
	}

	*step = StateCooldownCheck
	now := n.now()
	if d := Admit(group.Records, userID, now, n.cooldown); !d.Allow {
		return nil, StateRateLimited, rateLimited(n.cooldown, d.Remaining)
	}

	*step = StateResolving
	resolution, err := n.resolver.Resolve(ctx, group.Members, userID)
	if err != nil {
		return nil, StateFailed, ErrStore.with(err)
	}
	if len(resolution.Tokens) == 0 {
		return nil, StateNoRecipients, ErrNoRecipients
	}

	*step = StateComposing
	msg := Compose(resolution.TriggerName, group.Name)

	*step = StateDispatching
	outcome, err := n.dispatcher.Dispatch(ctx, msg, resolution.Tokens)
	if err != nil {
		return nil, StateFailed, ErrDispatch.with(err)
	}

	res := &Result{
		TriggerID:  triggerID,
		Message:    msg,
		Outcome:    outcome,
		RecordedAt: now,
	}

	*step = StatePersisting
	if err := n.persist(ctx, groupID, userID, now, logger); err != nil {
		logger.Error("Ledger update failed after dispatch", "error", err)
		res.Warning = "notifications sent but the cooldown record could not be saved"
		return res, stateDoneUnpersisted, nil
	}
	return res, StateDone, nil
}

// persist commits now for userID against the record set as it is stored at
// this moment, not the copy loaded before dispatch. A newer entry written by
// a concurrent trigger elsewhere is kept.
func (n *Notifier) persist(ctx context.Context, groupID, userID string, now time.Time, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	return n.store.UpdateRecords(ctx, groupID, func(current model.RecordSet) (model.RecordSet, error) {
		if prev, ok := current[userID]; ok && prev.After(now) {
			logger.Warn("Newer ledger entry already present", "recorded_at", prev)
			return current, nil
		}
		return Commit(current, userID, now), nil
	})
}

// acquire blocks until no other trigger for (groupID, userID) is in flight,
// or ctx is done.
func (n *Notifier) acquire(ctx context.Context, groupID, userID string) (release func(), err error) {
	key := groupID + "\x00" + userID
	for {
		n.mu.Lock()
		busy, ok := n.inflight[key]
		if !ok {
			done := make(chan struct{})
			n.inflight[key] = done
			n.mu.Unlock()
			return func() {
				n.mu.Lock()
				delete(n.inflight, key)
				n.mu.Unlock()
				close(done)
			}, nil
		}
		n.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for in-flight trigger: %w", ctx.Err())
		}
	}
}

func (n *Notifier) logOutcome(logger *slog.Logger, state, step State, res *Result, err error) {
	if err == nil {
		logger.Info("Notifications sent",
			"state", state,
			"sent", res.Outcome.SuccessCount,
			"failed", res.Outcome.FailureCount)
		return
	}

	var pe *Error
	if errors.As(err, &pe) && pe.Kind != KindDependencyFailure && pe.Kind != KindUnexpected {
		logger.Info("Trigger stopped", "state", state, "code", pe.Code)
		return
	}
	logger.Error("Trigger failed", "state", state, "step", step, "error", err)
}
