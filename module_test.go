package relay

import "testing"

type stubModule struct {
	name      string
	handles   bool
	calls     *[]string
	disposed  *bool
	returnErr error
}

func (m *stubModule) HandleRequest(session *Session, args *ModuleArgs) error {
	*m.calls = append(*m.calls, m.name)
	if m.returnErr != nil {
		return m.returnErr
	}
	if m.handles {
		args.IsHandled = true
		args.Response = &ResponseBody{Status: "Ok"}
	}
	return nil
}

func (m *stubModule) Dispose() error {
	*m.disposed = true
	*m.calls = append(*m.calls, "dispose:"+m.name)
	return nil
}

// stubModuleB and stubModuleC give the registry distinct dynamic types to
// key on: registering a second module of an already-registered type replaces
// the first instead of extending the chain.
type stubModuleB struct{ stubModule }
type stubModuleC struct{ stubModule }

func TestModuleRegistry_DispatchStopsAtFirstHandler(t *testing.T) {
	r := NewModuleRegistry()
	var calls []string
	disposedA, disposedB := false, false

	a := &stubModule{name: "a", handles: false, calls: &calls, disposed: &disposedA}
	b := &stubModuleB{stubModule{name: "b", handles: true, calls: &calls, disposed: &disposedB}}
	c := &stubModuleC{stubModule{name: "c", handles: true, calls: &calls, disposed: new(bool)}}

	r.Register(a)
	r.Register(b)
	r.Register(c)

	args := &ModuleArgs{Request: &RequestBody{Name: "test"}}
	if err := r.Dispatch(nil, args); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
	if !args.IsHandled {
		t.Error("expected args.IsHandled to be true")
	}
}

func TestModuleRegistry_DispatchNoHandler(t *testing.T) {
	r := NewModuleRegistry()
	var calls []string
	r.Register(&stubModule{name: "a", handles: false, calls: &calls, disposed: new(bool)})

	args := &ModuleArgs{}
	if err := r.Dispatch(nil, args); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if args.IsHandled {
		t.Error("expected IsHandled to remain false when no module handles the request")
	}
}

func TestModuleRegistry_DisposeInOrder(t *testing.T) {
	r := NewModuleRegistry()
	disposedA, disposedB := false, false
	var calls []string
	r.Register(&stubModule{name: "a", calls: &calls, disposed: &disposedA})
	r.Register(&stubModuleB{stubModule{name: "b", calls: &calls, disposed: &disposedB}})

	if err := r.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if !disposedA || !disposedB {
		t.Error("expected both modules disposed")
	}
	if len(calls) != 2 || calls[0] != "dispose:a" || calls[1] != "dispose:b" {
		t.Errorf("dispose order = %v, want [dispose:a dispose:b]", calls)
	}
}
