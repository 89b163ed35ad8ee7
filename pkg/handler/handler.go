// Package handler provides the flow-rule compiler of the VTN controller.
//
// The DefaultInstanceHandler turns instance attach/detach notifications into
// forwarding rules. For each attached instance it programs:
// - IN_PORT: classification of traffic from the instance's port
// - DST: local delivery on its node and tunnel egress on every other complete node
// - TUNNEL_IN: delivery of decapsulated traffic on its node
//
// Per network, the first attached instance also installs the direct access
// and isolation rules on every complete node; they are removed with the last
// instance.
//
// Nodes that complete onboarding later catch up through NodeCompleted, which
// the handler runs when it receives an events.NodeComplete notification.
package handler

import (
	"net"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/node"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

// Overlay is the read side of the overlay model used by the handler
type Overlay interface {
	VtnNetwork(id model.NetworkID) *model.VtnNetwork
}

// InstanceResolver finds live instances
type InstanceResolver interface {
	Instance(mac net.HardwareAddr) (model.Instance, bool)
	Instances() []model.Instance
}

// State is the lifecycle state of an instance inside the handler
type State string

const (
	StateAbsent        State = "ABSENT"
	StateAttachPending State = "ATTACH_PENDING"
	StateInstalled     State = "INSTALLED"
	StateDetachPending State = "DETACH_PENDING"
)

// Options configures a DefaultInstanceHandler
type Options struct {
	// NetworkTypes overrides the served network types
	// Default: PRIVATE, PUBLIC, VSG and DEFAULT
	NetworkTypes []model.NetworkType

	Logger *logging.Logger
}

// DefaultInstanceHandler compiles forwarding rules for tenant instances.
//
// Thread Safety: All methods are thread-safe. Events for the same network
// are serialized, and the membership change, the first/last instance check
// and the network rule change happen under one network lock.
type DefaultInstanceHandler struct {
	vtn      Overlay
	hosts    InstanceResolver
	nodes    node.Manager
	executor pipeline.Executor

	netTypes []model.NetworkType

	netsMu sync.Mutex
	nets   map[model.NetworkID]*networkState

	statesMu sync.RWMutex
	states   map[string]State

	logger *logging.Logger
}

// networkState holds the MACs of the instances whose rules are installed on
// one network. members is only touched with mu held.
type networkState struct {
	mu      sync.Mutex
	members sets.Set[string]
}

// NewDefaultInstanceHandler creates the flow-rule compiler.
//
// Parameters:
//   - vtn: Overlay model, usually the manager
//   - hosts: Live instance lookup, usually the host tracker
//   - nodes: Fabric node inventory
//   - executor: Destination of the compiled rules
//   - opts: Optional settings
func NewDefaultInstanceHandler(vtn Overlay, hosts InstanceResolver, nodes node.Manager, executor pipeline.Executor, opts Options) *DefaultInstanceHandler {
	netTypes := opts.NetworkTypes
	if len(netTypes) == 0 {
		netTypes = []model.NetworkType{
			model.NetworkTypePrivate,
			model.NetworkTypePublic,
			model.NetworkTypeVSG,
			model.NetworkTypeDefault,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.LoggerForComponent("instance-handler")
	}
	return &DefaultInstanceHandler{
		vtn:      vtn,
		hosts:    hosts,
		nodes:    nodes,
		executor: executor,
		netTypes: netTypes,
		nets:     make(map[model.NetworkID]*networkState),
		states:   make(map[string]State),
		logger:   logger,
	}
}

// NetworkTypes returns the network types the handler serves
func (h *DefaultInstanceHandler) NetworkTypes() []model.NetworkType {
	return append([]model.NetworkType(nil), h.netTypes...)
}

// InstanceDetected installs the rules of a newly attached instance
func (h *DefaultInstanceHandler) InstanceDetected(inst model.Instance) error {
	err := h.handle(inst, true)
	metrics.RecordInstanceEvent(metrics.EventDetected, err)
	return err
}

// InstanceRemoved uninstalls the rules of a detached instance
func (h *DefaultInstanceHandler) InstanceRemoved(inst model.Instance) error {
	err := h.handle(inst, false)
	metrics.RecordInstanceEvent(metrics.EventRemoved, err)
	return err
}

func (h *DefaultInstanceHandler) handle(inst model.Instance, install bool) error {
	mac := util.MACKey(inst.MAC)
	logger := logging.LoggerForInstance(h.logger, mac, inst.DeviceID, inst.PortNumber)
	if inst.Nested {
		logger.V(1).Info("Ignoring nested instance")
		return nil
	}

	vtnNet, err := h.resolve(inst)
	if err != nil {
		logger.Error(err, "Failed to resolve instance", "install", install)
		return err
	}

	ns := h.network(vtnNet.ID)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	// network rules follow the first member in and the last member out
	var networkChange bool
	if install {
		h.setState(mac, StateAttachPending)
		networkChange = ns.members.Len() == 0
		ns.members.Insert(mac)
	} else {
		h.setState(mac, StateDetachPending)
		networkChange = ns.members.Has(mac) && ns.members.Len() == 1
		ns.members.Delete(mac)
	}

	vni := vtnNet.SegmentID
	h.apply(install, InPortRules(inst, vni)...)
	h.apply(install, h.dstRules(inst, vni)...)
	h.apply(install, TunnelInRule(inst, vni))

	if networkChange {
		complete := h.nodes.CompleteNodes()
		h.apply(install, NetworkRules(vtnNet, complete)...)
		logging.LoggerForNetwork(logger, vtnNet.ID.String(), uint32(vni)).Info(
			"Network rules changed", "install", install, "nodes", len(complete))
	}

	if install {
		h.setState(mac, StateInstalled)
		logger.Info("Instance rules installed", "network", vtnNet.ID, "vni", vni)
	} else {
		h.setState(mac, StateAbsent)
		logger.Info("Instance rules removed", "network", vtnNet.ID, "vni", vni)
	}
	return nil
}

// NodeCompleted installs the rules a node missed while it was onboarding:
// tunnel egress toward every live instance on other nodes, and the network
// rules of every network with attached instances.
func (h *DefaultInstanceHandler) NodeCompleted(n node.Node) {
	logger := logging.LoggerForNode(h.logger, n.Hostname, n.IntegrationBridgeID)
	var tunnels int

	for _, inst := range h.hosts.Instances() {
		if inst.Nested || inst.DeviceID == n.IntegrationBridgeID {
			continue
		}
		vtnNet := h.vtn.VtnNetwork(inst.NetworkID)
		if vtnNet == nil || !h.serves(vtnNet.Type) {
			continue
		}
		if rule, ok := RemoteDstRule(h.nodes, inst, vtnNet.SegmentID, n); ok {
			h.apply(true, rule)
			tunnels++
		}
	}

	h.netsMu.Lock()
	ids := make([]model.NetworkID, 0, len(h.nets))
	for id := range h.nets {
		ids = append(ids, id)
	}
	h.netsMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var networks int
	for _, id := range ids {
		vtnNet := h.vtn.VtnNetwork(id)
		if vtnNet == nil {
			continue
		}
		ns := h.network(id)
		ns.mu.Lock()
		if ns.members.Len() > 0 {
			h.apply(true, NetworkRules(vtnNet, []node.Node{n})...)
			networks++
		}
		ns.mu.Unlock()
	}
	logger.Info("Node caught up", "tunnelRules", tunnels, "networks", networks)
}

// Event implements events.Listener and reacts to nodes completing onboarding
func (h *DefaultInstanceHandler) Event(ev events.Event) {
	ne, ok := ev.(events.NodeEvent)
	if !ok || ne.Type != events.NodeComplete {
		return
	}
	for _, n := range h.nodes.CompleteNodes() {
		if n.Hostname == ne.Hostname {
			h.NodeCompleted(n)
			return
		}
	}
	h.logger.V(1).Info("Completed node no longer complete", "node", ne.Hostname)
}

// State returns the lifecycle state of the instance with the given MAC
func (h *DefaultInstanceHandler) State(mac net.HardwareAddr) State {
	h.statesMu.RLock()
	defer h.statesMu.RUnlock()
	if s, ok := h.states[util.MACKey(mac)]; ok {
		return s
	}
	return StateAbsent
}

// Installed returns the number of instances with installed rules
func (h *DefaultInstanceHandler) Installed() int {
	h.statesMu.RLock()
	defer h.statesMu.RUnlock()
	return h.countLocked(StateInstalled)
}

func (h *DefaultInstanceHandler) resolve(inst model.Instance) (*model.VtnNetwork, error) {
	if len(inst.MAC) == 0 || inst.DeviceID == "" || inst.PortNumber == 0 || inst.IP.To4() == nil {
		return nil, model.NewResolutionError(model.KindInstance, inst.String())
	}
	vtnNet := h.vtn.VtnNetwork(inst.NetworkID)
	if vtnNet == nil || vtnNet.Subnet == nil {
		return nil, model.NewResolutionError(model.KindVtnNetwork, inst.NetworkID.String())
	}
	return vtnNet, nil
}

func (h *DefaultInstanceHandler) dstRules(inst model.Instance, vni model.SegmentID) []pipeline.FlowRule {
	rules := []pipeline.FlowRule{LocalDstRule(inst, vni)}
	for _, n := range h.nodes.CompleteNodes() {
		if n.IntegrationBridgeID == inst.DeviceID {
			continue
		}
		rule, ok := RemoteDstRule(h.nodes, inst, vni, n)
		if !ok {
			h.logger.V(1).Info("Skipping node without tunnel parameters", "node", n.Hostname)
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

// Members returns the MACs of the instances with installed rules on a network
func (h *DefaultInstanceHandler) Members(id model.NetworkID) []string {
	ns := h.network(id)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return sets.List(ns.members)
}

func (h *DefaultInstanceHandler) apply(install bool, rules ...pipeline.FlowRule) {
	for _, r := range rules {
		h.executor.ProcessFlowRule(install, r)
	}
}

func (h *DefaultInstanceHandler) network(id model.NetworkID) *networkState {
	h.netsMu.Lock()
	defer h.netsMu.Unlock()
	ns, ok := h.nets[id]
	if !ok {
		ns = &networkState{members: sets.New[string]()}
		h.nets[id] = ns
	}
	return ns
}

func (h *DefaultInstanceHandler) setState(mac string, s State) {
	h.statesMu.Lock()
	if s == StateAbsent {
		delete(h.states, mac)
	} else {
		h.states[mac] = s
	}
	installed := h.countLocked(StateInstalled)
	h.statesMu.Unlock()
	metrics.SetAttachedInstances(installed)
}

func (h *DefaultInstanceHandler) countLocked(s State) int {
	n := 0
	for _, cur := range h.states {
		if cur == s {
			n++
		}
	}
	return n
}

func (h *DefaultInstanceHandler) serves(t model.NetworkType) bool {
	for _, cur := range h.netTypes {
		if cur == t {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }

// Describe renders the rules an instance would own, for diagnostics
func (h *DefaultInstanceHandler) Describe(inst model.Instance) ([]string, error) {
	vtnNet, err := h.resolve(inst)
	if err != nil {
		return nil, err
	}
	var out []string
	rules := append(InPortRules(inst, vtnNet.SegmentID), h.dstRules(inst, vtnNet.SegmentID)...)
	rules = append(rules, TunnelInRule(inst, vtnNet.SegmentID))
	for _, r := range rules {
		out = append(out, r.String())
	}
	return out, nil
}
