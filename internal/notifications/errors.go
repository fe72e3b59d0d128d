package notifications

import (
	"fmt"
	"time"
)

// Kind is the error category reported to callers.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindPreconditionFailed
	KindRateLimited
	KindDependencyFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindRateLimited:
		return "RateLimited"
	case KindDependencyFailure:
		return "DependencyFailure"
	default:
		return "Unexpected"
	}
}

// State is a step of the trigger pipeline. Terminal states other than
// StateDone always come with an *Error.
type State string

const (
	StateLoading       State = "loading"
	StateCooldownCheck State = "cooldown_check"
	StateResolving     State = "resolving"
	StateComposing     State = "composing"
	StateDispatching   State = "dispatching"
	StatePersisting    State = "persisting"
	StateDone          State = "done"

	StateGroupNotFound State = "group_not_found"
	StateNoTimeline    State = "no_timeline"
	StateRateLimited   State = "rate_limited"
	StateNoRecipients  State = "no_recipients"
	StateFailed        State = "failed"
)

// Error is a terminal pipeline failure. Code is stable and machine-readable;
// Message is safe to show to end users.
type Error struct {
	Kind    Kind
	State   State
	Code    string
	Message string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	// Err is the underlying cause, never shown to users.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so errors.Is works against the
// sentinels below regardless of cause or RetryAfter.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// with returns a copy carrying cause.
func (e *Error) with(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

var (
	ErrGroupNotFound = &Error{Kind: KindNotFound, State: StateGroupNotFound, Code: "GROUP_NOT_FOUND", Message: "Group not found"}
	ErrNoTimeline    = &Error{Kind: KindPreconditionFailed, State: StateNoTimeline, Code: "NO_TIMELINE", Message: "No timeline entries found"}
	ErrRateLimited   = &Error{Kind: KindRateLimited, State: StateRateLimited, Code: "RATE_LIMITED", Message: "Notification already sent recently for this user in this group"}
	ErrNoRecipients  = &Error{Kind: KindPreconditionFailed, State: StateNoRecipients, Code: "NO_RECIPIENTS", Message: "No valid FCM tokens found"}
	ErrStore         = &Error{Kind: KindDependencyFailure, State: StateFailed, Code: "STORE_UNAVAILABLE", Message: "Group store unavailable"}
	ErrDispatch      = &Error{Kind: KindDependencyFailure, State: StateFailed, Code: "DISPATCH_FAILED", Message: "Failed to send notifications"}
	ErrUnexpected    = &Error{Kind: KindUnexpected, State: StateFailed, Code: "UNEXPECTED", Message: "Unexpected error"}
)

// rateLimited builds the cooldown error with the configured window in its
// message, e.g. "in the last 6 hours".
func rateLimited(cooldown, remaining time.Duration) *Error {
	cp := *ErrRateLimited
	cp.Message = fmt.Sprintf("Notification already sent in the last %s for this user in this group", humanDuration(cooldown))
	cp.RetryAfter = remaining
	return &cp
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
