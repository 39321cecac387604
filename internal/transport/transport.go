// Package transport talks to the remote synchronization API: JSON
// requests with bearer authentication and retry, plus an optional
// websocket feed the server pings when new data is available.
package transport

import (
	"context"

	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/events"
)

// Transport is the remote API surface the sync engine depends on.
type Transport interface {
	// GetJSON fetches path and decodes the body into result.
	GetJSON(ctx context.Context, path string, result any) error

	// PostJSON sends payload to path and decodes the 200 body into
	// result. Non-200 responses surface as *models.APIError.
	PostJSON(ctx context.Context, path string, payload, result any) error

	// Watch opens the server's change feed; every received message
	// becomes one tick on the channel. The channel closes when ctx is
	// done or the connection drops.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// SetToken installs the bearer token for subsequent requests; an
	// empty token omits the Authorization header entirely.
	SetToken(token string)
	GetToken() string

	Close() error
}

// DefaultTransport implements Transport over HTTP plus websocket.
type DefaultTransport struct {
	httpClient *HTTPClient
	watcher    *WSWatcher
	logger     *events.Logger
}

// New creates a transport instance.
func New(cfg *config.APIConfig, logger *events.Logger) *DefaultTransport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		watcher:    NewWSWatcher(cfg, logger),
		logger:     logger,
	}
}

func (t *DefaultTransport) GetJSON(ctx context.Context, path string, result any) error {
	return t.httpClient.GetJSON(ctx, path, result)
}

func (t *DefaultTransport) PostJSON(ctx context.Context, path string, payload, result any) error {
	return t.httpClient.PostJSON(ctx, path, payload, result)
}

func (t *DefaultTransport) Watch(ctx context.Context) (<-chan struct{}, error) {
	return t.watcher.Watch(ctx, t.httpClient.GetToken())
}

func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

func (t *DefaultTransport) Close() error {
	return t.watcher.Close()
}
