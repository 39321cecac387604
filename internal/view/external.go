package view

import "sync"

// ExternalSource is a non-storage state container view models can
// select from. The registry subscribes exactly once and fans changes
// out per view model.
type ExternalSource interface {
	Get() any
	// Subscribe registers a change callback; the returned function
	// unregisters it.
	Subscribe(fn func()) func()
}

// StateContainer is a minimal ExternalSource for consumers without
// their own state management.
type StateContainer struct {
	mu    sync.Mutex
	value any
	next  int
	subs  map[int]func()
}

// NewStateContainer creates a container holding value.
func NewStateContainer(value any) *StateContainer {
	return &StateContainer{
		value: value,
		subs:  map[int]func(){},
	}
}

// Get returns the current value.
func (c *StateContainer) Get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value and notifies subscribers.
func (c *StateContainer) Set(value any) {
	c.mu.Lock()
	c.value = value
	snapshot := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		snapshot = append(snapshot, fn)
	}
	c.mu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}

// Subscribe registers a change callback.
func (c *StateContainer) Subscribe(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}
