package models

import (
	"encoding/json"
	"fmt"
)

// Wire types for the remote synchronization API.

// ModelResponse is the body of GET <dataModelPath>.
type ModelResponse struct {
	Model string `json:"model"`
}

// PushPayload is the body of POST <pushPath>: every entity's dirty
// rows keyed by entity name, with the local-only dirty flag stripped.
type PushPayload map[string][]Record

// PushResponse is the server's verdict on a push.
type PushResponse struct {
	Success   bool `json:"success"`
	ErrorCode int  `json:"error-code,omitempty"`

	// RejectedObjects maps record identifier to a rejection code.
	RejectedObjects map[string]int `json:"rejected-objects,omitempty"`
	// RejectedFields maps record identifier to field name to code.
	RejectedFields map[string]map[string]int `json:"rejected-fields,omitempty"`

	Errors map[string]any `json:"errors,omitempty"`
}

// ErrorMessage extracts a human-readable failure description.
func (r *PushResponse) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return "push rejected"
	}
	return fmt.Sprintf("push rejected: %v", r.Errors)
}

// PullRequest is the body of POST <pullPath>: per-entity revision
// cursor, each value being last-known-revision-plus-one (or 0 when a
// full pull is forced).
type PullRequest map[string]int64

// PullResponse carries the server deltas. Data is a nested JSON string
// encoding map[entityName][]Record.
type PullResponse struct {
	Success   bool   `json:"success"`
	Data      string `json:"data"`
	ErrorCode int    `json:"error-code,omitempty"`
}

// DecodeData parses the nested per-entity record batches.
func (r *PullResponse) DecodeData() (map[string][]Record, error) {
	if r.Data == "" {
		return map[string][]Record{}, nil
	}
	var batches map[string][]Record
	if err := json.Unmarshal([]byte(r.Data), &batches); err != nil {
		return nil, fmt.Errorf("decode pull data: %w", err)
	}
	return batches, nil
}
