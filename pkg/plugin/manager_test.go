package plugin

import (
	"context"
	"testing"
)

type stubPlugin struct {
	info      Info
	inits     int
	starts    int
	stops     int
	confSeen  map[string]any
	resources map[string]any
}

func (p *stubPlugin) Info() Info { return p.info }

func (p *stubPlugin) Configure(cfg map[string]any) error {
	p.confSeen = cfg
	return nil
}

func (p *stubPlugin) Init(*ExecutionContext) error {
	p.inits++
	return nil
}

func (p *stubPlugin) Start(ctx *ExecutionContext) error {
	p.starts++
	p.resources = ctx.Resources
	return nil
}

func (p *stubPlugin) Stop(*ExecutionContext) error {
	p.stops++
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	stub := &stubPlugin{info: Info{ID: "static", Category: TypeConnector}}
	if err := m.Register("static", stub, map[string]any{"address": "https://example.com"}, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := m.Start(ctx, "static"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if stub.inits != 1 || stub.starts != 1 {
		t.Fatalf("unexpected lifecycle counts: %+v", stub)
	}
	state, err := m.State("static")
	if err != nil || state != StateStarted {
		t.Fatalf("unexpected state: %v %v", state, err)
	}

	// Start is idempotent for a running plugin.
	if err := m.Start(ctx, "static"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if stub.starts != 1 {
		t.Fatalf("running plugin must not be started twice: %d", stub.starts)
	}

	if err := m.Stop(ctx, "static"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stub.stops != 1 {
		t.Fatalf("unexpected stop count: %d", stub.stops)
	}
}

func TestManagerRejectsUndeclaredCapabilities(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	stub := &stubPlugin{info: Info{ID: "net", Category: TypeNotifier, Capabilities: []Capability{CapabilityNetwork}}}
	if err := m.Register("net", stub, nil, IsolationPolicy{}); err == nil {
		t.Fatal("plugins declaring capabilities require a policy")
	}
	if err := m.Register("net", stub, nil, IsolationPolicy{
		DeniedCapabilities: []Capability{CapabilityNetwork},
	}); err == nil {
		t.Fatal("denied capability must be rejected")
	}
	if err := m.Register("net", stub, nil, IsolationPolicy{
		AllowedCapabilities: []Capability{CapabilityNetwork},
	}); err != nil {
		t.Fatalf("allowed capability should pass: %v", err)
	}
}

func TestManagerExposesHostResources(t *testing.T) {
	type hostRegistry struct{ name string }
	host := &hostRegistry{name: "connectors"}
	m, err := NewManager(ManagerConfig{}, WithResource(ResourceConnectorRegistry, host))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	stub := &stubPlugin{info: Info{ID: "static", Category: TypeConnector}}
	if err := m.Register("static", stub, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background(), "static"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, ok := stub.resources[ResourceConnectorRegistry]
	if !ok {
		t.Fatal("connector registry resource must be visible to plugins")
	}
	if got != any(host) {
		t.Fatalf("unexpected resource value: %#v", got)
	}
}

func TestManagerByCategory(t *testing.T) {
	m, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Register("b-conn", &stubPlugin{info: Info{Category: TypeConnector}}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("a-conn", &stubPlugin{info: Info{Category: TypeConnector}}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("notify", &stubPlugin{info: Info{Category: TypeNotifier}}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	connectors := m.ByCategory(TypeConnector)
	if len(connectors) != 2 || connectors[0].ID != "a-conn" || connectors[1].ID != "b-conn" {
		t.Fatalf("unexpected category listing: %+v", connectors)
	}
}
