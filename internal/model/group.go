// Package model holds the group and member documents shared by the store
// backends and the notification core.
package model

import (
	"maps"
	"time"
)

// Group is a habit group as loaded from the store.
type Group struct {
	ID       string
	Name     string
	Members  []string // unique, in join order
	Timeline []any    // opaque entries; only emptiness matters here
	Records  RecordSet
}

// HasTimeline reports whether the group has at least one timeline entry.
func (g Group) HasTimeline() bool {
	return len(g.Timeline) > 0
}

// Member is a user document.
type Member struct {
	ID       string
	Name     string
	FCMToken *string // nil when the member has no registered device
}

// Token returns the member's push token and whether one is registered.
// An empty string counts as unregistered.
func (m Member) Token() (string, bool) {
	if m.FCMToken == nil || *m.FCMToken == "" {
		return "", false
	}
	return *m.FCMToken, true
}

// NotificationRecord is one entry of a RecordSet.
type NotificationRecord struct {
	MemberID   string    `json:"member_id"`
	NotifiedAt time.Time `json:"notified_at"`
}

// RecordSet maps a member id to the last time that member triggered a
// notification in the group. Keying by member id keeps at most one record
// per member.
type RecordSet map[string]time.Time

// Clone returns an independent copy. A nil set clones to an empty one.
func (rs RecordSet) Clone() RecordSet {
	out := make(RecordSet, len(rs))
	maps.Copy(out, rs)
	return out
}

// Records flattens the set into a slice, unordered.
func (rs RecordSet) Records() []NotificationRecord {
	out := make([]NotificationRecord, 0, len(rs))
	for id, ts := range rs {
		out = append(out, NotificationRecord{MemberID: id, NotifiedAt: ts})
	}
	return out
}
