// Package view keeps named read-queries ("view models") fresh as the
// local replica changes: each mounted view model re-runs its binding
// function whenever a table in its declared read-set commits, or when
// its selected slice of external state changes.
package view

import (
	"reflect"
	"sync"

	"github.com/spinneyio/lambdaconnect-go/internal/store"
)

// State is the published condition of one view model.
type State struct {
	Pending bool
	Result  any
	Err     error
	Params  any
}

// BindingFunc computes a view model's result from the replica. The
// external argument is the slice selected by ExternalSelector, or nil
// when the view model declares none.
type BindingFunc func(tx store.ReadTx, params any, external any) (any, error)

// Definition declares a view model at registry-build time.
type Definition struct {
	Name string
	Bind BindingFunc

	// ReadTables is the static read-set: the tables the binding
	// function is known to read. It is declared, not traced; a write
	// to any of these triggers a reload.
	ReadTables []string

	// InitialParams seed the first load; later reloads default to the
	// previous parameters.
	InitialParams any

	// ExternalSelector, when set, makes the view model react to
	// external (non-storage) state: a change of the selected slice
	// under ExternalEquals triggers a reload. ExternalEquals defaults
	// to plain equality.
	ExternalSelector func(external any) any
	ExternalEquals   func(a, b any) bool
}

// defaultEquals compares selected external-state slices. Selectors may
// return slices or maps, which plain == would panic on, so those fall
// back to a deep comparison.
func defaultEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// viewModel is one registry entry with its reactive machinery.
type viewModel struct {
	def Definition

	mu     sync.Mutex
	refs   int
	gen    uint64 // reload generation; stale completions are discarded
	state  State
	params any

	lastExternal any
	observedExt  bool

	readSet map[string]bool

	nextSub int
	subs    map[int]func(State)
}

func newViewModel(def Definition) *viewModel {
	readSet := make(map[string]bool, len(def.ReadTables))
	for _, t := range def.ReadTables {
		readSet[t] = true
	}
	if def.ExternalEquals == nil {
		def.ExternalEquals = defaultEquals
	}
	return &viewModel{
		def:     def,
		params:  def.InitialParams,
		readSet: readSet,
		subs:    map[int]func(State){},
	}
}

// publish stores the state and notifies subscribers. Callers must not
// hold vm.mu. The subscriber list is snapshotted so a callback may
// subscribe or unsubscribe during delivery.
func (vm *viewModel) publish(s State) {
	vm.mu.Lock()
	vm.state = s
	snapshot := make([]func(State), 0, len(vm.subs))
	for _, fn := range vm.subs {
		snapshot = append(snapshot, fn)
	}
	vm.mu.Unlock()

	for _, fn := range snapshot {
		fn(s)
	}
}

func (vm *viewModel) subscribe(fn func(State)) func() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	id := vm.nextSub
	vm.nextSub++
	vm.subs[id] = fn
	return func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		delete(vm.subs, id)
	}
}

func (vm *viewModel) mounted() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.refs > 0
}

func (vm *viewModel) readsAny(tables []string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for _, t := range tables {
		if vm.readSet[t] {
			return true
		}
	}
	return false
}
