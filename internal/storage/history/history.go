// Package history implements the Version History Service (spec.md
// §4.6): an append-only, bounded-depth snapshot list per entity, plus a
// field-level diff between two versions.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/specvault/internal/storage/atomicio"
)

// VersionEntry is one recorded pre-update snapshot.
type VersionEntry struct {
	Version   int             `json:"version"`
	Timestamp string          `json:"timestamp"`
	Author    string          `json:"author,omitempty"`
	Note      string          `json:"note,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// EntityHistory is the on-disk document for one entity's version list.
type EntityHistory struct {
	EntityID   string         `json:"entityId"`
	EntityType string         `json:"entityType"`
	Versions   []VersionEntry `json:"versions"`
}

// FieldChange is one field-level difference between two snapshots.
type FieldChange struct {
	Field string `json:"field"`
	Op    string `json:"op"` // add, remove, replace
	From  any    `json:"from,omitempty"`
	To    any    `json:"to,omitempty"`
}

// Service owns the `history/` directory of one plan.
type Service struct {
	dir string
}

// New creates a Service rooted at dir (the plan's `history/` directory).
func New(dir string) *Service {
	return &Service{dir: dir}
}

func (s *Service) path(entityType, entityID string) string {
	return filepath.Join(s.dir, entityType, entityID+".json")
}

func (s *Service) load(entityType, entityID string) (*EntityHistory, error) {
	path := s.path(entityType, entityID)
	if !atomicio.Exists(path) {
		return &EntityHistory{EntityID: entityID, EntityType: entityType}, nil
	}
	var h EntityHistory
	if err := atomicio.ReadJSON(path, &h); err != nil {
		return nil, fmt.Errorf("loading history for %s %s: %w", entityType, entityID, err)
	}
	return &h, nil
}

// RecordSnapshot appends a pre-update snapshot to entityID's history,
// evicting the oldest entries while the list exceeds maxDepth. A
// maxDepth of 0 means history tracking is disabled for this call and the
// snapshot is skipped entirely.
func (s *Service) RecordSnapshot(entityType, entityID string, preUpdateState any, version int, timestamp, author, note string, maxDepth int) error {
	if maxDepth <= 0 {
		return nil
	}
	data, err := json.Marshal(preUpdateState)
	if err != nil {
		return fmt.Errorf("marshaling snapshot for %s %s: %w", entityType, entityID, err)
	}

	h, err := s.load(entityType, entityID)
	if err != nil {
		return err
	}
	h.Versions = append(h.Versions, VersionEntry{
		Version: version, Timestamp: timestamp, Author: author, Note: note, Snapshot: data,
	})
	for len(h.Versions) > maxDepth {
		h.Versions = h.Versions[1:]
	}

	path := s.path(entityType, entityID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating history directory for %s: %w", entityType, err)
	}
	if err := atomicio.WriteJSON(path, h); err != nil {
		return fmt.Errorf("persisting history for %s %s: %w", entityType, entityID, err)
	}
	return nil
}

// GetHistory returns the recorded version list for entityID.
func (s *Service) GetHistory(entityType, entityID string) (*EntityHistory, error) {
	return s.load(entityType, entityID)
}

// Diff computes a field-level difference between v1 and v2. If either
// requested version equals currentVersion, currentSnapshot is synthesized
// in as that version's content instead of looking it up in the recorded
// list (the live entity is always the authoritative "current version,"
// it is never itself stored as a history entry).
func (s *Service) Diff(entityType, entityID string, v1, v2, currentVersion int, currentSnapshot any) ([]FieldChange, error) {
	h, err := s.load(entityType, entityID)
	if err != nil {
		return nil, err
	}

	snap1, err := s.resolveVersion(h, v1, currentVersion, currentSnapshot)
	if err != nil {
		return nil, err
	}
	snap2, err := s.resolveVersion(h, v2, currentVersion, currentSnapshot)
	if err != nil {
		return nil, err
	}
	return diffMaps(snap1, snap2), nil
}

func (s *Service) resolveVersion(h *EntityHistory, version, currentVersion int, currentSnapshot any) (map[string]any, error) {
	if version == currentVersion {
		data, err := json.Marshal(currentSnapshot)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	for _, v := range h.Versions {
		if v.Version == version {
			var m map[string]any
			if err := json.Unmarshal(v.Snapshot, &m); err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("version %d not found in history for %s", version, h.EntityID)
}

func diffMaps(a, b map[string]any) []FieldChange {
	fields := make(map[string]bool)
	for k := range a {
		fields[k] = true
	}
	for k := range b {
		fields[k] = true
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []FieldChange
	for _, field := range names {
		av, aok := a[field]
		bv, bok := b[field]
		switch {
		case !aok && bok:
			changes = append(changes, FieldChange{Field: field, Op: "add", To: bv})
		case aok && !bok:
			changes = append(changes, FieldChange{Field: field, Op: "remove", From: av})
		default:
			aj, _ := json.Marshal(av)
			bj, _ := json.Marshal(bv)
			if string(aj) != string(bj) {
				changes = append(changes, FieldChange{Field: field, Op: "replace", From: av, To: bv})
			}
		}
	}
	return changes
}
