// Package atomicio implements crash-safe JSON file persistence: writes go
// through a sibling temp file that is parsed back before being renamed over
// the target, so a reader never observes a torn or half-written file.
package atomicio

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// WriteJSON marshals v as two-space-indented JSON terminated by a newline
// and writes it to path atomically: create a temp sibling, write, verify
// the bytes round-trip parse, then rename over path. The temp file is
// removed on any error.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

// WriteBytes atomically writes raw bytes to path, verifying they parse as
// JSON before committing the rename. Callers that already have serialized
// JSON bytes (e.g. after merging unknown fields) use this directly.
func WriteBytes(path string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("refusing to write invalid JSON to %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf("%s.tmp.%d.%d", filepath.Base(path), time.Now().UnixNano(), rand.Int63()))

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}

	// Verify round-trip before committing: catches truncated writes that
	// os.WriteFile didn't already surface as an error.
	written, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("reading back temp file %s: %w", tmpPath, err)
	}
	var probe any
	if err := json.Unmarshal(written, &probe); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("round-trip verification failed for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// ReadJSON reads path and unmarshals it into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists (and is a regular file or directory;
// callers that care which should stat themselves).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateExclusive creates path with O_CREATE|O_EXCL semantics so that two
// concurrent creators race safely — the loser observes EEXIST, which is
// not treated as an error by this function; it returns (false, nil) to let
// the caller know it lost the race. Used by the lock manager for lock-file
// creation.
func CreateExclusive(path string, data []byte) (created bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return true, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return true, nil
}
