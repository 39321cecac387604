package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// hashSlotFile is the fixed slot name inside the state directory.
const hashSlotFile = "schema_hash.json"

// HashSlot persists the derived storage-schema hash outside the
// embedded database. It only serves version-change detection: a
// differing hash on initialization means the whole replica is deleted
// and reopened fresh under the new schema.
type HashSlot struct {
	path string
}

// NewHashSlot creates a slot under the state directory.
func NewHashSlot(stateDir string) *HashSlot {
	return &HashSlot{path: filepath.Join(stateDir, hashSlotFile)}
}

type hashRecord struct {
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Load returns the stored hash, or "" when none was ever saved.
func (s *HashSlot) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read schema hash: %w", err)
	}

	var rec hashRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt slot behaves like a missing one; the replica will
		// be rebuilt from the server.
		return "", nil
	}
	return rec.Hash, nil
}

// Save stores the hash atomically (write-then-rename).
func (s *HashSlot) Save(hash string) error {
	data, err := json.Marshal(hashRecord{Hash: hash, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal schema hash: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write schema hash: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace schema hash: %w", err)
	}
	return nil
}

// Clear removes the slot.
func (s *HashSlot) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
