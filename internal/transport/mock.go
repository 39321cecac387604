package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport provides a scriptable implementation for tests.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by path. Values are marshalled
	// and re-decoded into the caller's result type.
	GetResponses  map[string]any
	PostResponses map[string]any

	// Error injection
	GetError  error
	PostError error

	// Request tracking
	GetRequests  []string
	PostRequests []PostRequest

	ticks chan struct{}
	token string
}

// PostRequest tracks one POST call.
type PostRequest struct {
	Path    string
	Payload any
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		GetResponses:  map[string]any{},
		PostResponses: map[string]any{},
		ticks:         make(chan struct{}, 16),
	}
}

func (m *MockTransport) GetJSON(ctx context.Context, path string, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetRequests = append(m.GetRequests, path)
	if m.GetError != nil {
		return m.GetError
	}

	resp, ok := m.GetResponses[path]
	if !ok {
		return fmt.Errorf("no mock response for GET %s", path)
	}
	return reencode(resp, result)
}

func (m *MockTransport) PostJSON(ctx context.Context, path string, payload, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Round-trip the payload so the recorded request has the same
	// JSON shape the server would have seen.
	var recorded any
	if err := reencode(payload, &recorded); err != nil {
		return err
	}
	m.PostRequests = append(m.PostRequests, PostRequest{Path: path, Payload: recorded})

	if m.PostError != nil {
		return m.PostError
	}

	resp, ok := m.PostResponses[path]
	if !ok {
		return fmt.Errorf("no mock response for POST %s", path)
	}
	return reencode(resp, result)
}

func (m *MockTransport) Watch(ctx context.Context) (<-chan struct{}, error) {
	return m.ticks, nil
}

// EmitTick simulates the server announcing a remote change.
func (m *MockTransport) EmitTick() {
	m.ticks <- struct{}{}
}

// PostPayloads returns the payloads sent to one path, in order.
func (m *MockTransport) PostPayloads(path string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []any
	for _, req := range m.PostRequests {
		if req.Path == path {
			out = append(out, req.Payload)
		}
	}
	return out
}

func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *MockTransport) Close() error { return nil }

func reencode(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal mock value: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode mock value: %w", err)
	}
	return nil
}
