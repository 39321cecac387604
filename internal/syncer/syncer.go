// Package syncer orchestrates push-then-pull cycles against the
// remote API. Push always completes (or soft-fails) before pull
// begins: push clears dirty flags and the pull merge must never see
// rows mid-clear.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/guard"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/transport"
)

// Options tune a single Sync invocation. They never persist across
// invocations.
type Options struct {
	SkipPush      bool
	SkipPull      bool
	ForceFullPull bool
}

// Result summarizes one completed cycle.
type Result struct {
	Pushed   int  // rows accepted by the server
	Pulled   int  // rows merged from the server
	TryLater bool // push soft-failed; pull was skipped
}

// Manager owns the sync state machine: Idle -> Pushing -> Pulling ->
// Idle, with InProgress true for the whole span.
type Manager struct {
	transport transport.Transport
	guard     *guard.Guard
	cfg       *config.SyncConfig
	api       *config.APIConfig
	logger    *events.Logger

	mu         sync.Mutex
	inProgress bool
	lastSync   time.Time
	lastError  error
}

// New creates a sync manager.
func New(t transport.Transport, g *guard.Guard, api *config.APIConfig, cfg *config.SyncConfig, logger *events.Logger) *Manager {
	return &Manager{
		transport: t,
		guard:     g,
		cfg:       cfg,
		api:       api,
		logger:    logger.WithField("component", "sync_manager"),
	}
}

// InProgress reports whether a cycle is currently running.
func (m *Manager) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

// LastSync returns the completion time of the last successful cycle
// and the error of the last failed one, if any.
func (m *Manager) LastSync() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync, m.lastError
}

// Sync runs one push-then-pull cycle. A soft "try later" push outcome
// is not an error: the pull is skipped and the same rows are resent
// next cycle. Concurrent invocations are rejected with
// models.ErrSyncInProgress; the facade is the single scheduling owner.
func (m *Manager) Sync(ctx context.Context, opts Options) (*Result, error) {
	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	m.inProgress = true
	m.mu.Unlock()

	result, err := m.run(ctx, opts)

	m.mu.Lock()
	m.inProgress = false
	m.lastError = err
	if err == nil {
		m.lastSync = time.Now()
	}
	m.mu.Unlock()

	return result, err
}

func (m *Manager) run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if !opts.SkipPush {
		pushed, tryLater, err := m.push(ctx)
		if err != nil {
			return nil, err
		}
		result.Pushed = pushed
		if tryLater {
			// Soft failure: resubmit next cycle, skip this pull.
			result.TryLater = true
			m.logger.Info("Server asked to retry later, skipping pull")
			return result, nil
		}
	}

	if !opts.SkipPull {
		pulled, err := m.pull(ctx, opts.ForceFullPull)
		if err != nil {
			return nil, err
		}
		result.Pulled = pulled
	}

	return result, nil
}

// push submits all locally dirty rows in one batched request. Dirty
// flags are cleared only after the server accepts; any failure leaves
// them set so a retry resends identical rows.
func (m *Manager) push(ctx context.Context) (pushed int, tryLater bool, err error) {
	dirty, err := m.guard.DirtyRows(ctx)
	if err != nil {
		return 0, false, &models.SyncError{Phase: models.PhasePush, Err: err}
	}
	if len(dirty) == 0 {
		m.logger.Debug("Nothing to push")
		return 0, false, nil
	}

	// The dirty flag is local bookkeeping, never sent.
	payload := models.PushPayload{}
	total := 0
	for entity, rows := range dirty {
		stripped := make([]models.Record, 0, len(rows))
		for _, row := range rows {
			clean := row.Clone()
			delete(clean, models.FieldDirty)
			stripped = append(stripped, clean)
		}
		payload[entity] = stripped
		total += len(stripped)
	}

	m.logger.WithFields(map[string]any{
		"entities": len(payload),
		"rows":     total,
	}).Info("Pushing local changes")

	var resp models.PushResponse
	if err := m.transport.PostJSON(ctx, m.api.PushPath, payload, &resp); err != nil {
		return 0, false, &models.SyncError{Phase: models.PhasePush, Payload: payload, Err: err}
	}

	if !resp.Success {
		if resp.ErrorCode == m.cfg.TryLaterCode {
			return 0, true, nil
		}
		return 0, false, &models.SyncError{
			Phase:   models.PhasePush,
			Code:    resp.ErrorCode,
			Message: resp.ErrorMessage(),
			Payload: payload,
		}
	}

	if conflict := m.conflictFrom(&resp, dirty); conflict != nil {
		return 0, false, conflict
	}

	if err := m.guard.MarkPushed(ctx, dirty); err != nil {
		return 0, false, &models.SyncError{Phase: models.PhasePush, Err: fmt.Errorf("clear dirty flags: %w", err)}
	}

	return total, false, nil
}

// conflictFrom maps the server's rejection lists to a ConflictError.
// Rejections whose field names are all on the configured whitelist are
// treated as accepted. The whitelist is coarse on purpose: a field
// name matches across all rejected objects.
func (m *Manager) conflictFrom(resp *models.PushResponse, payload map[string][]models.Record) *models.ConflictError {
	if len(resp.RejectedObjects) == 0 && len(resp.RejectedFields) == 0 {
		return nil
	}

	whitelisted := map[string]bool{}
	for _, field := range m.cfg.RejectedFieldWhitelist {
		whitelisted[field] = true
	}

	covered := len(resp.RejectedObjects) == 0
	if covered {
		for _, fields := range resp.RejectedFields {
			for field := range fields {
				if !whitelisted[field] {
					covered = false
					break
				}
			}
			if !covered {
				break
			}
		}
	}
	if covered {
		m.logger.WithField("records", len(resp.RejectedFields)).
			Debug("All rejected fields whitelisted, treating push as accepted")
		return nil
	}

	return &models.ConflictError{
		RejectedObjects: resp.RejectedObjects,
		RejectedFields:  resp.RejectedFields,
		Payload:         payload,
	}
}

// pull requests server deltas past the local checkpoint and merges
// them in one transaction. Upsert by identifier: last pull wins.
func (m *Manager) pull(ctx context.Context, full bool) (int, error) {
	revisions, err := m.guard.MaxRevisions(ctx)
	if err != nil {
		return 0, &models.SyncError{Phase: models.PhasePull, Err: err}
	}

	request := models.PullRequest{}
	for entity, rev := range revisions {
		if full {
			request[entity] = 0
		} else if rev > 0 {
			request[entity] = rev + 1
		} else {
			request[entity] = 0
		}
	}

	m.logger.WithFields(map[string]any{
		"entities": len(request),
		"full":     full,
	}).Info("Pulling server changes")

	var resp models.PullResponse
	if err := m.transport.PostJSON(ctx, m.api.PullPath, request, &resp); err != nil {
		return 0, &models.SyncError{Phase: models.PhasePull, Payload: request, Err: err}
	}
	if !resp.Success {
		return 0, &models.SyncError{
			Phase:   models.PhasePull,
			Code:    resp.ErrorCode,
			Message: "pull rejected",
			Payload: request,
		}
	}

	batches, err := resp.DecodeData()
	if err != nil {
		return 0, &models.SyncError{Phase: models.PhasePull, Err: err}
	}

	total := 0
	for _, rows := range batches {
		total += len(rows)
	}
	if total == 0 {
		m.logger.Debug("No new server changes")
		return 0, nil
	}

	if err := m.guard.MergePull(ctx, batches); err != nil {
		return 0, &models.SyncError{Phase: models.PhasePull, Err: fmt.Errorf("merge pulled records: %w", err)}
	}

	m.logger.WithField("rows", total).Info("Merged server changes")
	return total, nil
}
