package plugin

import (
	"errors"
	"testing"
)

// recordingPlugin is a configurable test plugin that records the order in
// which it ran.
type recordingPlugin struct {
	BasePlugin
	name     string
	priority int
	hooks    map[Hook]bool
	result   Result
	ran      *[]string
}

func (p *recordingPlugin) Name() string          { return p.name }
func (p *recordingPlugin) Version() string       { return "0.0.1" }
func (p *recordingPlugin) Description() string   { return "test plugin" }
func (p *recordingPlugin) Priority() int         { return p.priority }
func (p *recordingPlugin) HandlesHook(h Hook) bool {
	return p.hooks[h]
}

func (p *recordingPlugin) record() Result {
	if p.ran != nil {
		*p.ran = append(*p.ran, p.name)
	}
	return p.result
}

func (p *recordingPlugin) PreRequest(ctx *Context) Result   { return p.record() }
func (p *recordingPlugin) PreHandler(ctx *Context) Result   { return p.record() }
func (p *recordingPlugin) PostResponse(ctx *Context) Result { return p.record() }
func (p *recordingPlugin) OnError(ctx *Context, reqErr error) Result {
	return p.record()
}

func newTestPlugin(name string, priority int, hooks []Hook, result Result, ran *[]string) *recordingPlugin {
	hm := make(map[Hook]bool, len(hooks))
	for _, h := range hooks {
		hm[h] = true
	}
	return &recordingPlugin{name: name, priority: priority, hooks: hm, result: result, ran: ran}
}

func TestDispatchPriorityOrder(t *testing.T) {
	var ran []string
	m := NewManager()
	hooks := []Hook{HookPreRequest}

	// Registered out of priority order, with a tie between b and c.
	for _, p := range []*recordingPlugin{
		newTestPlugin("c", 50, hooks, Continue(), &ran),
		newTestPlugin("a", 10, hooks, Continue(), &ran),
		newTestPlugin("b", 50, hooks, Continue(), &ran),
	} {
		if err := m.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.name, err)
		}
	}

	if _, err := m.Dispatch(HookPreRequest, &Context{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	want := []string{"a", "c", "b"} // priority asc, registration order for ties
	if len(ran) != len(want) {
		t.Fatalf("ran = %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran = %v, want %v", ran, want)
		}
	}
}

func TestDispatchStopEndsChainWithoutError(t *testing.T) {
	var ran []string
	m := NewManager()
	hooks := []Hook{HookPreRequest}

	m.Register(newTestPlugin("first", 1, hooks, Stop(), &ran))
	m.Register(newTestPlugin("second", 2, hooks, Continue(), &ran))

	resp, err := m.Dispatch(HookPreRequest, &Context{})
	if err != nil {
		t.Fatalf("Stop must not fail the request: %v", err)
	}
	if resp != nil {
		t.Fatal("Stop must not produce a response")
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Errorf("ran = %v, want only first", ran)
	}
}

func TestDispatchErrorAborts(t *testing.T) {
	var ran []string
	m := NewManager()
	hooks := []Hook{HookPreRequest}
	boom := errors.New("boom")

	m.Register(newTestPlugin("bad", 1, hooks, Fail(boom), &ran))
	m.Register(newTestPlugin("never", 2, hooks, Continue(), &ran))

	_, err := m.Dispatch(HookPreRequest, &Context{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(ran) != 1 {
		t.Errorf("ran = %v, want only bad", ran)
	}
}

func TestDispatchRespondHonoredOnlyWhereAllowed(t *testing.T) {
	resp := &Response{Status: 418, Body: []byte("teapot")}

	tests := []struct {
		hook    Hook
		honored bool
	}{
		{HookPreRequest, true},
		{HookPreHandler, true},
		{HookPostResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.hook.String(), func(t *testing.T) {
			m := NewManager()
			m.Register(newTestPlugin("responder", 1, []Hook{tt.hook}, Respond(resp), nil))

			got, err := m.Dispatch(tt.hook, &Context{})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if tt.honored && got == nil {
				t.Fatal("expected short-circuit response")
			}
			if !tt.honored && got != nil {
				t.Fatal("response must be ignored on this hook")
			}
		})
	}
}

func TestDispatchErrorHookMaySubstituteResponse(t *testing.T) {
	m := NewManager()
	resp := &Response{Status: 200, Body: []byte("recovered")}
	m.Register(newTestPlugin("rescuer", 1, []Hook{HookOnError}, Respond(resp), nil))

	got, err := m.DispatchError(&Context{}, errors.New("handler blew up"))
	if err != nil {
		t.Fatalf("DispatchError: %v", err)
	}
	if got == nil || got.Status != 200 {
		t.Fatalf("got = %+v, want substituted response", got)
	}
}

func TestSetEnabledSkipsDisabledPlugin(t *testing.T) {
	var ran []string
	m := NewManager()
	hooks := []Hook{HookPreRequest}

	m.Register(newTestPlugin("p1", 1, hooks, Continue(), &ran))
	m.Register(newTestPlugin("p2", 2, hooks, Continue(), &ran))

	if err := m.SetEnabled("p1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	m.Dispatch(HookPreRequest, &Context{})

	if len(ran) != 1 || ran[0] != "p2" {
		t.Errorf("ran = %v, want only p2", ran)
	}

	// Re-enable and run again.
	ran = ran[:0]
	m.SetEnabled("p1", true)
	m.Dispatch(HookPreRequest, &Context{})
	if len(ran) != 2 {
		t.Errorf("ran = %v, want both plugins", ran)
	}

	if err := m.SetEnabled("ghost", false); err == nil {
		t.Error("expected error for unknown plugin")
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	m := NewManager()
	if err := m.Register(newTestPlugin("dup", 1, nil, Continue(), nil)); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newTestPlugin("dup", 2, nil, Continue(), nil)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
