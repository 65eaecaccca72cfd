package session

import (
	"fmt"
	"sync"
)

// State is a unit of connection behavior occupying one slot in a session
// stack. A State is bound to the Conn its Factory was invoked with and is
// never shared between connections or stack positions.
type State interface {
	// OnGainFocus is invoked when the state becomes the top of its stack.
	OnGainFocus()

	// OnLoseFocus is invoked when the state is covered by a push, removed
	// by a pop, or discarded when its connection closes. Failures here are
	// best-effort notifications and never block the transition.
	OnLoseFocus()

	// OnMessage handles one decoded message while the state holds focus.
	// Errors propagate to the connection's read loop.
	OnMessage(payload []byte) error

	// OnFlush is invoked after an outbound payload has been fully written.
	OnFlush()
}

// Factory constructs a State bound to the given connection.
type Factory func(c *Conn) State

// Registry maps state names to factories. Backends look up the configured
// initial state here, and collaborators register their own states at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a factory with name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// NewState constructs the named state bound to c.
func (r *Registry) NewState(name string, c *Conn) (State, error) {
	f, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no state registered under %q", name)
	}
	return f(c), nil
}
