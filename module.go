package relay

import (
	"reflect"
	"sync"
)

// ModuleArgs carries one inbound request through the module chain. A module
// that handles the request sets IsHandled and Response before returning;
// the chain stops at the first module to do so.
type ModuleArgs struct {
	Envelope  *Envelope
	Request   *RequestBody
	IsHandled bool
	Response  *ResponseBody
}

// Module is a pluggable inbound-request handler, dispatched in registration
// order ahead of the session-level RequestReceived event.
type Module interface {
	HandleRequest(session *Session, args *ModuleArgs) error
}

// Disposable is implemented by modules holding resources that need explicit
// release when the owning Session is disposed.
type Disposable interface {
	Dispose() error
}

// ModuleRegistry is an append-only, insertion-ordered map from module type
// to instance, with O(1) lookup by type.
type ModuleRegistry struct {
	mu      sync.Mutex
	order   []reflect.Type
	modules map[reflect.Type]Module
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[reflect.Type]Module)}
}

// Register appends m, keyed by its dynamic type. Registering the same type
// twice replaces the instance in place without changing its position in the
// dispatch order.
func (r *ModuleRegistry) Register(m Module) {
	t := reflect.TypeOf(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[t]; !exists {
		r.order = append(r.order, t)
	}
	r.modules[t] = m
}

// Get looks up the registered instance of type t.
func (r *ModuleRegistry) Get(t reflect.Type) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[t]
	return m, ok
}

// Dispatch runs args through the chain in registration order, stopping at
// the first module that sets args.IsHandled. It returns the first error any
// module returns.
func (r *ModuleRegistry) Dispatch(session *Session, args *ModuleArgs) error {
	r.mu.Lock()
	order := append([]reflect.Type(nil), r.order...)
	modules := make([]Module, 0, len(order))
	for _, t := range order {
		modules = append(modules, r.modules[t])
	}
	r.mu.Unlock()

	for _, m := range modules {
		if err := m.HandleRequest(session, args); err != nil {
			return err
		}
		if args.IsHandled {
			return nil
		}
	}
	return nil
}

// Dispose releases every registered Disposable module, in insertion order,
// collecting (but not short-circuiting on) individual errors.
func (r *ModuleRegistry) Dispose() error {
	r.mu.Lock()
	order := append([]reflect.Type(nil), r.order...)
	modules := make([]Module, 0, len(order))
	for _, t := range order {
		modules = append(modules, r.modules[t])
	}
	r.mu.Unlock()

	var firstErr error
	for _, m := range modules {
		d, ok := m.(Disposable)
		if !ok {
			continue
		}
		if err := d.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
