package session

import (
	"sync"
)

// Slot names one of the two durable values kept per scope.
type Slot string

const (
	// CurrentWork mirrors the live buffer while editing is allowed.
	CurrentWork Slot = "current_work"

	// FrozenSnapshot holds the buffer captured at the last freeze.
	FrozenSnapshot Slot = "frozen_snapshot"
)

// SlotStore persists slot values per scope across process restarts.
type SlotStore interface {
	// Load returns the stored value; ok is false when nothing was saved.
	Load(scope string, slot Slot) (value string, ok bool, err error)

	// Save overwrites the slot value.
	Save(scope string, slot Slot, value string) error
}

// MemoryStore is a SlotStore that lives only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	writes int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Load(scope string, slot Slot) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[slotKey(scope, slot)]
	return value, ok, nil
}

func (m *MemoryStore) Save(scope string, slot Slot, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[slotKey(scope, slot)] = value
	m.writes++
	return nil
}

// Writes returns how many Save calls have succeeded.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func slotKey(scope string, slot Slot) string {
	return scope + "/" + string(slot)
}

var _ SlotStore = (*MemoryStore)(nil)
