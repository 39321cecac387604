package view

import (
	"sync/atomic"

	"github.com/spinneyio/lambdaconnect-go/internal/events"
)

// Notifier bridges the store's committed-change stream to the
// registry. While frozen (for example during a destructive reinit)
// batches are dropped and no reloads fire.
type Notifier struct {
	registry *Registry
	logger   *events.Logger
	frozen   atomic.Bool
}

// NewNotifier creates a notifier over a registry.
func NewNotifier(registry *Registry, logger *events.Logger) *Notifier {
	return &Notifier{
		registry: registry,
		logger:   logger.WithField("component", "change_notifier"),
	}
}

// Freeze suppresses reactive reloads until Unfreeze.
func (n *Notifier) Freeze() { n.frozen.Store(true) }

// Unfreeze re-enables reactive reloads. Changes dropped while frozen
// are not replayed; callers that need a refresh trigger one.
func (n *Notifier) Unfreeze() { n.frozen.Store(false) }

// Frozen reports the current flag.
func (n *Notifier) Frozen() bool { return n.frozen.Load() }

// OnCommit receives one batch of changed table names from the store.
func (n *Notifier) OnCommit(tables []string) {
	if len(tables) == 0 {
		return
	}
	if n.frozen.Load() {
		n.logger.WithField("tables", tables).Debug("Changes frozen, dropping batch")
		return
	}
	n.registry.NotifyTables(tables)
}
