// Package notifications fans out "habit completed" pushes to the other
// members of a group, at most once per cooldown window per (group, user).
//
// Pipeline: load group → cooldown check → resolve members → compose →
// dispatch → persist ledger. Each step lives in its own file; Notifier in
// pipeline.go wires them together.
package notifications

import "time"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DefaultCooldown is the window during which a second trigger for the
	// same (group, user) pair is refused.
	DefaultCooldown = 6 * time.Hour

	defaultResolveConcurrency = 8

	// fcmMulticastLimit is the most tokens FCM accepts in one multicast.
	fcmMulticastLimit = 500
)

// Fixed message text.
const (
	titleTemplate = "%s, is getting stronger!"
	fallbackTitle = "Everyone's in the community is building themselves!"
	bodyTemplate  = "He just completed a habit. Enter the %s community to see what's happening!"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is the notification shown on every recipient device.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TokenResult is the transport's verdict for one destination token.
type TokenResult struct {
	Token     string `json:"-"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DispatchOutcome aggregates one bulk send.
type DispatchOutcome struct {
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Responses    []TokenResult `json:"responses"`
}

// merge appends another outcome's results.
func (o *DispatchOutcome) merge(other *DispatchOutcome) {
	if other == nil {
		return
	}
	o.SuccessCount += other.SuccessCount
	o.FailureCount += other.FailureCount
	o.Responses = append(o.Responses, other.Responses...)
}

// Result is what a successful trigger reports back.
type Result struct {
	TriggerID  string           `json:"trigger_id"`
	Message    Message          `json:"message"`
	Outcome    *DispatchOutcome `json:"response"`
	RecordedAt time.Time        `json:"recorded_at"`
	// Warning is set when the push went out but the ledger update failed.
	Warning string `json:"warning,omitempty"`
}
