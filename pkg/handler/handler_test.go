package handler

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/node"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

type fakeOverlay struct {
	networks map[model.NetworkID]*model.VtnNetwork
}

func (f *fakeOverlay) VtnNetwork(id model.NetworkID) *model.VtnNetwork { return f.networks[id] }

type fakeHosts struct {
	mu        sync.Mutex
	instances map[string]model.Instance
}

func (f *fakeHosts) Instance(mac net.HardwareAddr) (model.Instance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[util.MACKey(mac)]
	return inst, ok
}

func (f *fakeHosts) Instances() []model.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, inst)
	}
	return out
}

type fixture struct {
	overlay *fakeOverlay
	hosts   *fakeHosts
	nodes   *node.Inventory
	table   *pipeline.FlowTable
	handler *DefaultInstanceHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, subnet1, _ := net.ParseCIDR("10.0.0.0/24")
	_, subnet2, _ := net.ParseCIDR("10.0.1.0/24")
	overlay := &fakeOverlay{networks: map[model.NetworkID]*model.VtnNetwork{
		"net-1": {ID: "net-1", SegmentID: 1, Subnet: subnet1, Type: model.NetworkTypePrivate},
		"net-2": {ID: "net-2", SegmentID: 2, Subnet: subnet2, Type: model.NetworkTypeDefault},
	}}
	hosts := &fakeHosts{instances: make(map[string]model.Instance)}

	inv := node.NewInventory(nil, nil, logging.NewNopLogger())
	for _, n := range []node.Node{
		{Hostname: "compute-1", IntegrationBridgeID: "dev-1", DataIP: net.ParseIP("192.168.0.1"), TunnelPort: 10, State: node.StateComplete},
		{Hostname: "compute-2", IntegrationBridgeID: "dev-2", DataIP: net.ParseIP("192.168.0.2"), TunnelPort: 10, State: node.StateComplete},
		{Hostname: "compute-3", IntegrationBridgeID: "dev-3", DataIP: net.ParseIP("192.168.0.3"), State: node.StateComplete},
		{Hostname: "compute-4", IntegrationBridgeID: "dev-4", DataIP: net.ParseIP("192.168.0.4"), TunnelPort: 10, State: node.StateInit},
	} {
		if err := inv.AddNode(n); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
	}

	table := pipeline.NewFlowTable()
	h := NewDefaultInstanceHandler(overlay, hosts, inv, table, Options{Logger: logging.NewNopLogger()})
	return &fixture{overlay: overlay, hosts: hosts, nodes: inv, table: table, handler: h}
}

func newInstance(mac, ip, device string, network model.NetworkID) model.Instance {
	return model.Instance{
		MAC:        util.MustParseMAC(mac),
		IP:         net.ParseIP(ip),
		DeviceID:   device,
		PortNumber: 3,
		NetworkID:  network,
	}
}

// attach records the instance the way the host tracker does, then notifies
func (f *fixture) attach(t *testing.T, inst model.Instance) {
	t.Helper()
	f.hosts.mu.Lock()
	f.hosts.instances[util.MACKey(inst.MAC)] = inst
	f.hosts.mu.Unlock()
	if err := f.handler.InstanceDetected(inst); err != nil {
		t.Fatalf("InstanceDetected failed: %v", err)
	}
}

func (f *fixture) detach(t *testing.T, inst model.Instance) {
	t.Helper()
	f.hosts.mu.Lock()
	delete(f.hosts.instances, util.MACKey(inst.MAC))
	f.hosts.mu.Unlock()
	if err := f.handler.InstanceRemoved(inst); err != nil {
		t.Fatalf("InstanceRemoved failed: %v", err)
	}
}

func TestInstanceDetected_FirstInstance(t *testing.T) {
	f := newFixture(t)
	inst := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	f.attach(t, inst)

	tests := []struct {
		device string
		table  int
		want   int
	}{
		{"dev-1", types.TableInPort, 2},
		{"dev-1", types.TableDst, 1},
		{"dev-1", types.TableTunnelIn, 1},
		{"dev-1", types.TableAccess, 2},
		{"dev-2", types.TableDst, 1},
		{"dev-2", types.TableAccess, 2},
		// compute-3 has no tunnel port yet
		{"dev-3", types.TableDst, 0},
		{"dev-3", types.TableAccess, 2},
		{"dev-4", types.TableAccess, 0},
	}
	for _, tt := range tests {
		if got := len(f.table.RulesIn(tt.device, tt.table)); got != tt.want {
			t.Errorf("%s table %d: got %d rules, want %d", tt.device, tt.table, got, tt.want)
		}
	}
	if f.table.Len() != 11 {
		t.Errorf("Len() = %d, want 11", f.table.Len())
	}
	if s := f.handler.State(inst.MAC); s != StateInstalled {
		t.Errorf("State = %s, want %s", s, StateInstalled)
	}
	if f.handler.Installed() != 1 {
		t.Errorf("Installed() = %d", f.handler.Installed())
	}
}

func TestInstanceDetected_RuleContents(t *testing.T) {
	f := newFixture(t)
	inst := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	f.attach(t, inst)

	inPort := f.table.RulesIn("dev-1", types.TableInPort)
	high, low := inPort[0], inPort[1]
	if high.Priority != types.PriorityDefault || high.Selector.EthType != pipeline.EthTypeIPv4 ||
		high.Selector.IPSrc.String() != "10.0.0.5/32" || high.Treatment.Transition != types.TableAccess {
		t.Errorf("unexpected in-port rule %s", high)
	}
	if low.Priority != types.PriorityLow || low.Selector.IPSrc != nil || low.Treatment.Transition != types.TableInService {
		t.Errorf("unexpected catch-all in-port rule %s", low)
	}
	for _, r := range inPort {
		if r.Treatment.WriteMetadata != 1 || r.Treatment.MetadataMask != types.MetadataMask {
			t.Errorf("rule %s does not stamp the VNI", r)
		}
		if r.AppID != types.AppID || !r.Permanent {
			t.Errorf("rule %s has wrong ownership", r)
		}
	}

	remote := f.table.RulesIn("dev-2", types.TableDst)[0]
	if remote.Treatment.TunnelID != 1 || remote.Treatment.TunnelDst.String() != "192.168.0.1" || remote.Treatment.Output != 10 {
		t.Errorf("unexpected tunnel egress rule %s", remote)
	}

	tunnelIn := f.table.RulesIn("dev-1", types.TableTunnelIn)[0]
	if tunnelIn.Selector.TunnelID != 1 || util.MACKey(tunnelIn.Selector.EthDst) != "fa:16:3e:00:00:01" || tunnelIn.Treatment.Output != 3 {
		t.Errorf("unexpected tunnel ingress rule %s", tunnelIn)
	}

	access := f.table.RulesIn("dev-2", types.TableAccess)
	if access[0].Treatment.Transition != types.TableDst || access[0].Selector.Metadata != 1 {
		t.Errorf("unexpected direct access rule %s", access[0])
	}
	if !access[1].Treatment.Drop || access[1].Priority != types.PriorityLow || access[1].Selector.IPDst.String() != "10.0.0.0/24" {
		t.Errorf("unexpected isolation rule %s", access[1])
	}
}

func TestInstance_RoundTrip(t *testing.T) {
	f := newFixture(t)
	inst := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	f.attach(t, inst)
	f.detach(t, inst)

	if f.table.Len() != 0 {
		t.Errorf("rules left after detach: %v", f.table.Keys())
	}
	if s := f.handler.State(inst.MAC); s != StateAbsent {
		t.Errorf("State = %s, want %s", s, StateAbsent)
	}
}

func TestInstance_NetworkRulesFollowMembership(t *testing.T) {
	f := newFixture(t)
	a := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	b := newInstance("fa:16:3e:00:00:02", "10.0.0.6", "dev-2", "net-1")
	other := newInstance("fa:16:3e:00:00:03", "10.0.1.5", "dev-2", "net-2")
	other.PortNumber = 4
	f.attach(t, other)
	before := f.table.Keys()

	f.attach(t, a)
	f.attach(t, b)

	f.detach(t, a)
	isolation := IsolationRule(f.overlay.networks["net-1"], "dev-3")
	if _, ok := f.table.Lookup(isolation); !ok {
		t.Fatal("network rules removed while an instance remains")
	}

	f.detach(t, b)
	if _, ok := f.table.Lookup(isolation); ok {
		t.Error("network rules left after the last instance")
	}

	after := f.table.Keys()
	if len(after) != len(before) {
		t.Fatalf("rules of other networks changed: before %v, after %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("rule %d changed: %s -> %s", i, before[i], after[i])
		}
	}
}

func TestInstance_NestedIgnored(t *testing.T) {
	f := newFixture(t)
	inst := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	inst.Nested = true
	f.attach(t, inst)
	if f.table.Len() != 0 {
		t.Errorf("nested instance produced rules: %v", f.table.Keys())
	}
}

func TestInstance_ResolutionFailure(t *testing.T) {
	f := newFixture(t)

	err := f.handler.InstanceDetected(newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-9"))
	if !model.IsResolutionError(err) {
		t.Errorf("expected ResolutionError for unknown network, got %v", err)
	}
	inst := newInstance("fa:16:3e:00:00:02", "", "dev-1", "net-1")
	if err := f.handler.InstanceRemoved(inst); !model.IsResolutionError(err) {
		t.Errorf("expected ResolutionError for instance without IP, got %v", err)
	}
	if f.table.Len() != 0 {
		t.Errorf("failed events produced rules: %v", f.table.Keys())
	}
}

func TestNodeCompleted_CatchUp(t *testing.T) {
	f := newFixture(t)
	registry := events.NewRegistry()
	registry.Add(f.handler)
	f.nodes = node.NewInventory(nil, registry, logging.NewNopLogger())
	for _, n := range []node.Node{
		{Hostname: "compute-1", IntegrationBridgeID: "dev-1", DataIP: net.ParseIP("192.168.0.1"), TunnelPort: 10, State: node.StateComplete},
		{Hostname: "compute-2", IntegrationBridgeID: "dev-2", DataIP: net.ParseIP("192.168.0.2"), TunnelPort: 11, State: node.StatePortsAdded},
	} {
		if err := f.nodes.AddNode(n); err != nil {
			t.Fatal(err)
		}
	}
	f.handler.nodes = f.nodes

	inst := newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1")
	f.attach(t, inst)
	if len(f.table.Rules("dev-2")) != 0 {
		t.Fatalf("incomplete node received rules: %v", f.table.Rules("dev-2"))
	}

	if err := f.nodes.UpdateState(context.Background(), "compute-2", node.StateComplete); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if got := len(f.table.RulesIn("dev-2", types.TableDst)); got != 1 {
		t.Errorf("dev-2 DST rules = %d, want 1", got)
	}
	if got := len(f.table.RulesIn("dev-2", types.TableAccess)); got != 2 {
		t.Errorf("dev-2 ACCESS rules = %d, want 2", got)
	}

	f.detach(t, inst)
	if f.table.Len() != 0 {
		t.Errorf("rules left after detach: %v", f.table.Keys())
	}
}

func TestDescribe(t *testing.T) {
	f := newFixture(t)
	lines, err := f.handler.Describe(newInstance("fa:16:3e:00:00:01", "10.0.0.5", "dev-1", "net-1"))
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	// 2 in-port, local and one remote dst, tunnel-in
	if len(lines) != 5 {
		t.Errorf("Describe returned %d rules: %v", len(lines), lines)
	}
}
