package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/events"
)

// WSWatcher listens on the server's change feed. The server sends a
// message whenever new data is available for this session; each
// message becomes a tick that the facade turns into an out-of-band
// sync cycle. Message contents are ignored, only arrival matters.
type WSWatcher struct {
	url    string
	logger *events.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSWatcher creates a watcher. The feed is optional; Watch fails
// when no changes path is configured.
func NewWSWatcher(cfg *config.APIConfig, logger *events.Logger) *WSWatcher {
	url := ""
	if cfg.ChangesPath != "" {
		url = wsURL(cfg.BaseURL) + cfg.ChangesPath
	}
	return &WSWatcher{
		url:    url,
		logger: logger.WithField("component", "ws_watcher"),
	}
}

// Watch connects and streams change ticks until ctx is done or the
// connection drops. The returned channel is closed on exit.
func (w *WSWatcher) Watch(ctx context.Context, token string) (<-chan struct{}, error) {
	if w.url == "" {
		return nil, fmt.Errorf("no changes feed configured")
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, header)
	if err != nil {
		return nil, fmt.Errorf("connect change feed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.logger.WithField("url", w.url).Info("Change feed connected")

	ticks := make(chan struct{}, 1)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(ticks)
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ctx.Err() == nil {
					w.logger.WithError(err).Warn("Change feed closed")
				}
				return
			}
			// Coalesce: a pending tick already covers this change.
			select {
			case ticks <- struct{}{}:
			default:
			}
		}
	}()

	return ticks, nil
}

// Close drops the current connection, if any.
func (w *WSWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
