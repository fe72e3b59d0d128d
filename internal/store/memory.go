package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/albapepper/habit-notify/internal/model"
)

// Memory is an in-process Store. UpdateRecords is serialized per group id
// with a dedicated mutex, so the read-modify-write is atomic without holding
// the map lock across the caller's function.
type Memory struct {
	mu      sync.RWMutex
	groups  map[string]model.Group
	members map[string]model.Member

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Admin = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[string]model.Group),
		members: make(map[string]model.Member),
		locks:   make(map[string]*sync.Mutex),
	}
}

// GetGroup returns a copy of the group.
func (m *Memory) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	if err := ctx.Err(); err != nil {
		return model.Group{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return model.Group{}, ErrNotFound
	}
	return cloneGroup(g), nil
}

// GetMember returns a copy of the member.
func (m *Memory) GetMember(ctx context.Context, memberID string) (model.Member, error) {
	if err := ctx.Err(); err != nil {
		return model.Member{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberID]
	if !ok {
		return model.Member{}, ErrNotFound
	}
	return cloneMember(mem), nil
}

// UpdateRecords applies fn to the group's current record set under the
// group's lock and stores the result.
func (m *Memory) UpdateRecords(ctx context.Context, groupID string, fn UpdateFunc) error {
	lock := m.groupLock(groupID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	g, ok := m.groups[groupID]
	var current model.RecordSet
	if ok {
		current = g.Records.Clone()
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok = m.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s removed during update: %w", groupID, ErrNotFound)
	}
	g.Records = next.Clone()
	m.groups[groupID] = g
	return nil
}

// PutGroup inserts or replaces a group. A nil record set keeps the stored
// records.
func (m *Memory) PutGroup(_ context.Context, g model.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.groups[g.ID]; ok && g.Records == nil {
		g.Records = prev.Records
	}
	m.groups[g.ID] = cloneGroup(g)
	return nil
}

// PutMember inserts or replaces a member.
func (m *Memory) PutMember(_ context.Context, mem model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = cloneMember(mem)
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) groupLock(groupID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[groupID] = l
	}
	return l
}

func cloneGroup(g model.Group) model.Group {
	g.Members = slices.Clone(g.Members)
	g.Timeline = slices.Clone(g.Timeline)
	g.Records = g.Records.Clone()
	return g
}

func cloneMember(mem model.Member) model.Member {
	if mem.FCMToken != nil {
		tok := *mem.FCMToken
		mem.FCMToken = &tok
	}
	return mem
}
