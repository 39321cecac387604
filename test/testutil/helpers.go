package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
)

// NewTestLogger creates a quiet debug-level logger.
func NewTestLogger() *events.Logger {
	return events.NewTestLogger(io.Discard)
}

// TestServer fakes the remote synchronization API: the data-model
// endpoint plus scripted push and pull responses.
type TestServer struct {
	*httptest.Server

	mu sync.Mutex

	// Model is served on the data-model endpoint.
	Model string

	// Scripted responses, consumed in order. When the queue is empty
	// a plain success is returned.
	PushQueue []models.PushResponse
	PullQueue []map[string][]models.Record

	// Request tracking
	PushBodies []models.PushPayload
	PullBodies []models.PullRequest
	AuthHeader []string
}

// NewTestServer starts a fake API server.
func NewTestServer(model string) *TestServer {
	ts := &TestServer{Model: model}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/data-model", ts.handleModel)
	mux.HandleFunc("/api/v1/push", ts.handlePush)
	mux.HandleFunc("/api/v1/pull", ts.handlePull)

	ts.Server = httptest.NewServer(mux)
	return ts
}

// QueuePush scripts the next push response.
func (ts *TestServer) QueuePush(resp models.PushResponse) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.PushQueue = append(ts.PushQueue, resp)
}

// QueuePull scripts the next pull's record batches.
func (ts *TestServer) QueuePull(batches map[string][]models.Record) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.PullQueue = append(ts.PullQueue, batches)
}

func (ts *TestServer) handleModel(w http.ResponseWriter, r *http.Request) {
	ts.recordAuth(r)
	writeJSON(w, models.ModelResponse{Model: ts.Model})
}

func (ts *TestServer) handlePush(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.AuthHeader = append(ts.AuthHeader, r.Header.Get("Authorization"))

	var body models.PushPayload
	_ = json.NewDecoder(r.Body).Decode(&body)
	ts.PushBodies = append(ts.PushBodies, body)

	resp := models.PushResponse{Success: true}
	if len(ts.PushQueue) > 0 {
		resp = ts.PushQueue[0]
		ts.PushQueue = ts.PushQueue[1:]
	}
	writeJSON(w, resp)
}

func (ts *TestServer) handlePull(w http.ResponseWriter, r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.AuthHeader = append(ts.AuthHeader, r.Header.Get("Authorization"))

	var body models.PullRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	ts.PullBodies = append(ts.PullBodies, body)

	batches := map[string][]models.Record{}
	if len(ts.PullQueue) > 0 {
		batches = ts.PullQueue[0]
		ts.PullQueue = ts.PullQueue[1:]
	}
	data, _ := json.Marshal(batches)
	writeJSON(w, models.PullResponse{Success: true, Data: string(data)})
}

func (ts *TestServer) recordAuth(r *http.Request) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.AuthHeader = append(ts.AuthHeader, r.Header.Get("Authorization"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
