package client

import (
	"context"
	"time"

	"github.com/spinneyio/lambdaconnect-go/internal/store"
	"github.com/spinneyio/lambdaconnect-go/internal/syncer"
)

// EntityStatus summarizes one entity table of the replica.
type EntityStatus struct {
	Name        string `json:"name"`
	Rows        int    `json:"rows"`
	DirtyRows   int    `json:"dirty_rows"`
	MaxRevision int64  `json:"max_revision"`
}

// StatusReport is the facade-level health snapshot consumed by the
// status command.
type StatusReport struct {
	Status    DBStatus       `json:"status"`
	Entities  []EntityStatus `json:"entities,omitempty"`
	LastSync  time.Time      `json:"last_sync,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// Report collects per-entity counts and the last sync outcome.
func (c *Client) Report(ctx context.Context) (*StatusReport, error) {
	status, initErr := c.Status()
	report := &StatusReport{Status: status}
	if initErr != nil {
		report.LastError = initErr.Error()
	}
	if status != StatusOnline {
		return report, nil
	}

	_, sm, st, err := c.online()
	if err != nil {
		return nil, err
	}

	lastSync, lastErr := sm.LastSync()
	report.LastSync = lastSync
	if lastErr != nil {
		report.LastError = lastErr.Error()
	}

	err = st.View(ctx, func(tx store.ReadTx) error {
		for _, entity := range st.Tables() {
			rows, err := tx.List(entity)
			if err != nil {
				return err
			}
			dirty, err := tx.Dirty(entity)
			if err != nil {
				return err
			}
			rev, err := tx.MaxRevision(entity)
			if err != nil {
				return err
			}
			report.Entities = append(report.Entities, EntityStatus{
				Name:        entity,
				Rows:        len(rows),
				DirtyRows:   len(dirty),
				MaxRevision: rev,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// StartAutoSync runs sync cycles on the configured interval and on
// every remote change tick until ctx is cancelled or StopAutoSync is
// called. The loop is the single scheduling owner: overlapping cycles
// cannot happen because each iteration runs to completion first.
func (c *Client) StartAutoSync(ctx context.Context, interval time.Duration) error {
	_, _, _, err := c.online()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopAuto != nil {
		c.mu.Unlock()
		return nil // already running
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.stopAuto = cancel
	c.autoDone = done
	c.mu.Unlock()

	var ticks <-chan struct{}
	if c.cfg.API.ChangesPath != "" {
		if ticks, err = c.transport.Watch(loopCtx); err != nil {
			c.logger.WithError(err).Warn("Change feed unavailable, falling back to interval only")
			ticks = nil
		}
	}

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.logger.WithField("interval", interval).Info("Auto-sync started")
		for {
			select {
			case <-loopCtx.Done():
				c.logger.Info("Auto-sync stopped")
				return
			case <-ticker.C:
			case _, ok := <-ticks:
				if !ok {
					ticks = nil
					continue
				}
			}

			if _, err := c.Sync(loopCtx, syncer.Options{}); err != nil {
				c.logger.WithError(err).Warn("Scheduled sync failed")
			}
		}
	}()

	return nil
}

// StopAutoSync cancels the auto-sync loop and waits for it to exit.
func (c *Client) StopAutoSync() {
	c.mu.Lock()
	cancel := c.stopAuto
	done := c.autoDone
	c.stopAuto = nil
	c.autoDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
