// Package store provides the JSON file conventions shared by every
// pipeline stage: atomic writes, existence-based idempotency checks, and
// the timestamp format stamped into generated artifacts.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimeLayout is the format used for generated_at and last_checked stamps.
const TimeLayout = "2006-01-02 15:04:05"

// GeneratedAt returns the current time in the artifact timestamp format.
func GeneratedAt() string {
	return time.Now().Format(TimeLayout)
}

// Exists reports whether path exists. Stages use output existence as their
// idempotency marker.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadJSON reads and unmarshals a JSON file into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// WriteJSON marshals v and writes it to path via a temp file in the same
// directory followed by a rename, creating parent directories as needed.
// Readers never observe a partially written file.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// WriteBytes writes raw bytes to path atomically.
func WriteBytes(path string, data []byte) error {
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
