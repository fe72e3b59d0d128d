package notifications

import (
	"time"

	"github.com/albapepper/habit-notify/internal/model"
)

// Decision is the cooldown ledger's verdict for one trigger.
type Decision struct {
	Allow bool
	// Remaining is how long the caller must wait; zero when allowed.
	Remaining time.Duration
}

// Admit decides whether userID may trigger a notification at now.
// A missing record always allows; otherwise the last notification must be at
// least cooldown old.
func Admit(records model.RecordSet, userID string, now time.Time, cooldown time.Duration) Decision {
	last, ok := records[userID]
	if !ok {
		return Decision{Allow: true}
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return Decision{Allow: true}
	}
	return Decision{Remaining: cooldown - elapsed}
}

// Commit returns a copy of records with userID's entry set to now. The input
// is not modified and every other entry is carried over as is.
func Commit(records model.RecordSet, userID string, now time.Time) model.RecordSet {
	next := records.Clone()
	next[userID] = now
	return next
}
