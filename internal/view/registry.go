package view

import (
	"context"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/events"
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/store"
)

// Querier is the read surface the registry needs from the database
// facade.
type Querier interface {
	View(ctx context.Context, fn func(store.ReadTx) error) error
}

// Registry is a named collection of view models. Definitions with the
// same name silently overwrite each other (last one wins).
type Registry struct {
	logger *events.Logger

	mu       sync.Mutex
	vms      map[string]*viewModel
	db       Querier
	external ExternalSource
	unwatch  func()
}

// NewRegistry builds a registry from definitions.
func NewRegistry(logger *events.Logger, defs ...Definition) *Registry {
	r := &Registry{
		logger: logger.WithField("component", "view_registry"),
		vms:    map[string]*viewModel{},
	}
	for _, def := range defs {
		r.vms[def.Name] = newViewModel(def)
	}
	return r
}

// Register adds (or replaces) a definition after construction.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vms[def.Name] = newViewModel(def)
}

// Initialize binds the registry to a database facade and, optionally,
// an external state container. The registry subscribes to the external
// container exactly once. View models mounted before initialization
// get their initial load now.
func (r *Registry) Initialize(db Querier, external ExternalSource) {
	r.mu.Lock()
	r.db = db
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
	r.external = external
	if external != nil {
		r.unwatch = external.Subscribe(r.notifyExternal)
	}
	r.mu.Unlock()

	for _, vm := range r.snapshot() {
		vm.mu.Lock()
		pending := vm.refs > 0 && vm.gen == 0
		params := vm.params
		vm.mu.Unlock()
		if pending {
			r.reload(context.Background(), vm, params)
		}
	}
}

// Mount increments a view model's reference count. On the 0 -> 1
// transition the view model starts receiving change notifications and
// issues exactly one initial load.
func (r *Registry) Mount(ctx context.Context, name string) error {
	vm, err := r.lookup(name)
	if err != nil {
		return err
	}

	vm.mu.Lock()
	vm.refs++
	first := vm.refs == 1
	params := vm.params
	vm.mu.Unlock()

	if first {
		r.logger.WithField("view_model", name).Debug("View model mounted")
		r.reload(ctx, vm, params)
	}
	return nil
}

// Unmount decrements the reference count; on reaching 0 the view
// model stops reacting to storage and external-state changes until
// re-mounted.
func (r *Registry) Unmount(name string) error {
	vm, err := r.lookup(name)
	if err != nil {
		return err
	}

	vm.mu.Lock()
	if vm.refs > 0 {
		vm.refs--
	}
	last := vm.refs == 0
	vm.mu.Unlock()

	if last {
		r.logger.WithField("view_model", name).Debug("View model unmounted")
	}
	return nil
}

// SetParams changes a view model's parameters and reloads it when
// mounted.
func (r *Registry) SetParams(ctx context.Context, name string, params any) error {
	vm, err := r.lookup(name)
	if err != nil {
		return err
	}

	vm.mu.Lock()
	vm.params = params
	mounted := vm.refs > 0
	vm.mu.Unlock()

	if mounted {
		r.reload(ctx, vm, params)
	}
	return nil
}

// State returns a view model's current state.
func (r *Registry) State(name string) (State, error) {
	vm, err := r.lookup(name)
	if err != nil {
		return State{}, err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state, nil
}

// Subscribe registers a state listener for one view model.
func (r *Registry) Subscribe(name string, fn func(State)) (func(), error) {
	vm, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return vm.subscribe(fn), nil
}

// NotifyTables routes a committed-change batch: every mounted view
// model whose read-set intersects the changed tables reloads. The
// mounted list is snapshotted before iterating so mounts/unmounts
// during delivery are safe.
func (r *Registry) NotifyTables(tables []string) {
	for _, vm := range r.snapshot() {
		if vm.mounted() && vm.readsAny(tables) {
			vm.mu.Lock()
			params := vm.params
			vm.mu.Unlock()
			r.reload(context.Background(), vm, params)
		}
	}
}

// notifyExternal re-evaluates every mounted view model's selector
// against the external container and reloads those whose selected
// slice changed.
func (r *Registry) notifyExternal() {
	r.mu.Lock()
	external := r.external
	r.mu.Unlock()
	if external == nil {
		return
	}
	current := external.Get()

	for _, vm := range r.snapshot() {
		if vm.def.ExternalSelector == nil || !vm.mounted() {
			continue
		}

		selected := vm.def.ExternalSelector(current)

		vm.mu.Lock()
		changed := !vm.observedExt || !vm.def.ExternalEquals(vm.lastExternal, selected)
		vm.lastExternal = selected
		vm.observedExt = true
		params := vm.params
		vm.mu.Unlock()

		if changed {
			r.reload(context.Background(), vm, params)
		}
	}
}

// reload runs the pending -> success/error protocol. Failures become
// state, never panics or propagated errors: once inside the reactive
// path, errors are data. A completion whose generation is no longer
// current is discarded so a slow stale reload cannot overwrite a newer
// result.
func (r *Registry) reload(ctx context.Context, vm *viewModel, params any) {
	r.mu.Lock()
	db := r.db
	external := r.external
	r.mu.Unlock()
	if db == nil {
		r.logger.WithField("view_model", vm.def.Name).Warn("Reload before registry initialization")
		return
	}

	vm.mu.Lock()
	vm.gen++
	gen := vm.gen
	prev := vm.state.Result
	vm.mu.Unlock()

	vm.publish(State{Pending: true, Result: prev, Params: params})

	var selected any
	if vm.def.ExternalSelector != nil && external != nil {
		selected = vm.def.ExternalSelector(external.Get())
		vm.mu.Lock()
		vm.lastExternal = selected
		vm.observedExt = true
		vm.mu.Unlock()
	}

	var result any
	err := db.View(ctx, func(tx store.ReadTx) error {
		var bindErr error
		result, bindErr = vm.def.Bind(tx, params, selected)
		return bindErr
	})

	vm.mu.Lock()
	stale := vm.gen != gen
	vm.mu.Unlock()
	if stale {
		r.logger.WithField("view_model", vm.def.Name).Debug("Discarding stale reload")
		return
	}

	if err != nil {
		r.logger.WithError(err).WithField("view_model", vm.def.Name).Error("View model reload failed")
		vm.publish(State{Err: err, Params: params})
		return
	}
	vm.publish(State{Result: result, Params: params})
}

func (r *Registry) lookup(name string) (*viewModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vm, ok := r.vms[name]
	if !ok {
		return nil, models.ErrUnknownViewModel
	}
	return vm, nil
}

func (r *Registry) snapshot() []*viewModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*viewModel, 0, len(r.vms))
	for _, vm := range r.vms {
		out = append(out, vm)
	}
	return out
}

// Close unsubscribes from the external container.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
}
