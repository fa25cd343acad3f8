// Package index implements the on-disk index manager: one JSON index file
// per (plan, entity-type), with an in-memory copy that is the read path
// for every list/scan operation. Writes are expected to already be
// bracketed by the calling repository's resource lock; this package adds
// its own mutex only to keep the in-memory map and the on-disk file from
// tearing under concurrent reads.
package index

import (
	"fmt"
	"sync"

	"github.com/cuemby/specvault/internal/storage/atomicio"
)

// Record is one index entry: the metadata the index manager needs to
// serve findById/findAll/query without opening every entity file, plus
// the handful of extra fields links need for source/target scans.
type Record struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	FilePath     string `json:"filePath"`
	Version      int    `json:"version"`
	UpdatedAt    string `json:"updatedAt"`
	SourceID     string `json:"sourceId,omitempty"`
	TargetID     string `json:"targetId,omitempty"`
	RelationType string `json:"relationType,omitempty"`
}

// Manager owns one index file and its in-memory copy.
type Manager struct {
	path string

	mu          sync.RWMutex
	records     map[string]Record
	order       []string // insertion order, for stable GetAll iteration
	initialized bool
}

// New creates a Manager for the index file at path. Initialize must be
// called before use.
func New(path string) *Manager {
	return &Manager{path: path, records: make(map[string]Record)}
}

// Initialize loads the index file if it exists, or starts from an empty
// index if it does not.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	if atomicio.Exists(m.path) {
		var recs []Record
		if err := atomicio.ReadJSON(m.path, &recs); err != nil {
			return fmt.Errorf("loading index %s: %w", m.path, err)
		}
		for _, r := range recs {
			m.records[r.ID] = r
			m.order = append(m.order, r.ID)
		}
	}
	m.initialized = true
	return nil
}

// Add inserts a new record. Callers are responsible for uniqueness
// checks; Add overwrites silently if the id is already present.
func (m *Manager) Add(rec Record) error {
	m.mu.Lock()
	if _, exists := m.records[rec.ID]; !exists {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	return m.persist(snapshot)
}

// Update replaces an existing record's metadata.
func (m *Manager) Update(rec Record) error {
	return m.Add(rec)
}

// Delete removes a record by id. A no-op (not an error) if absent.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	if _, ok := m.records[id]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	return m.persist(snapshot)
}

// Get returns the record for id, if present.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// GetAll returns every record, in insertion order.
func (m *Manager) GetAll() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Has reports whether id is present.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

// Size returns the number of records.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Manager) snapshotLocked() []Record {
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

func (m *Manager) persist(records []Record) error {
	if err := atomicio.WriteJSON(m.path, records); err != nil {
		return fmt.Errorf("persisting index %s: %w", m.path, err)
	}
	return nil
}
