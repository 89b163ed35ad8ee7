package node

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
)

// TunnelPortResolver discovers the tunnel ofport of a node
type TunnelPortResolver interface {
	TunnelPort(ctx context.Context, n Node, iface string) (uint32, error)
}

// NodeNotFoundError is returned for operations on an unknown node
type NodeNotFoundError struct {
	Hostname string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s not found", e.Hostname)
}

// DuplicateNodeError is returned when a hostname or bridge is already registered
type DuplicateNodeError struct {
	Hostname string
	DeviceID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %s or bridge %s already registered", e.Hostname, e.DeviceID)
}

// Inventory tracks the fabric nodes and their onboarding state. It
// implements Manager.
//
// State changes are published as events.NodeEvent:
// - NODE_CREATED / NODE_REMOVED when a node is added or dropped
// - NODE_COMPLETE when a node enters the COMPLETE state
// - NODE_INCOMPLETE when a node leaves it
// - NODE_UPDATED for any other state change
//
// Thread Safety: All methods are thread-safe. Events are published after
// the inventory lock is released.
type Inventory struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	byDevice map[string]string
	ports    map[string]map[uint32]string

	tunnel    *TunnelConfig
	resolver  TunnelPortResolver
	listeners *events.Registry
	logger    *logging.Logger
}

// NewInventory creates an empty inventory. A nil registry gets a private one.
func NewInventory(tunnel *TunnelConfig, listeners *events.Registry, logger *logging.Logger) *Inventory {
	if listeners == nil {
		listeners = events.NewRegistry()
	}
	if logger == nil {
		logger = logging.LoggerForComponent("node-inventory")
	}
	return &Inventory{
		nodes:     make(map[string]*Node),
		byDevice:  make(map[string]string),
		ports:     make(map[string]map[uint32]string),
		tunnel:    tunnel,
		listeners: listeners,
		logger:    logger,
	}
}

// NewInventoryFromConfig creates an inventory seeded with the configured nodes.
//
// Parameters:
//   - cfg: Global configuration
//   - listeners: Registry receiving node events (may be nil)
//   - logger: Inventory logger (may be nil)
//
// Returns:
//   - *Inventory: Seeded inventory
//   - error: Invalid tunnel settings or node entries
func NewInventoryFromConfig(cfg *config.Config, listeners *events.Registry, logger *logging.Logger) (*Inventory, error) {
	tunnel, err := NewTunnelConfig(cfg)
	if err != nil {
		return nil, err
	}
	inv := NewInventory(tunnel, listeners, logger)
	for _, nc := range cfg.Nodes {
		state, err := ParseState(nc.State)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nc.Hostname, err)
		}
		var dataIP net.IP
		if nc.DataIP != "" {
			if dataIP = net.ParseIP(nc.DataIP); dataIP == nil {
				return nil, fmt.Errorf("node %s: invalid data IP %s", nc.Hostname, nc.DataIP)
			}
		}
		n := Node{
			Hostname:            nc.Hostname,
			IntegrationBridgeID: nc.IntegrationBridgeID,
			DataIP:              dataIP,
			TunnelPort:          nc.TunnelPort,
			State:               state,
		}
		if err := inv.AddNode(n); err != nil {
			return nil, err
		}
		if len(nc.Ports) > 0 {
			inv.SetPorts(nc.IntegrationBridgeID, nc.Ports)
		}
	}
	return inv, nil
}

// SetTunnelPortResolver installs the resolver used when a node completes
// without a known tunnel port
func (i *Inventory) SetTunnelPortResolver(r TunnelPortResolver) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resolver = r
}

// Tunnel returns the shared tunnel settings
func (i *Inventory) Tunnel() *TunnelConfig {
	return i.tunnel
}

// AddListener registers a listener for node events
func (i *Inventory) AddListener(l events.Listener) events.ListenerID {
	return i.listeners.Add(l)
}

// RemoveListener drops a node event listener
func (i *Inventory) RemoveListener(id events.ListenerID) {
	i.listeners.Remove(id)
}

// AddNode registers a node
func (i *Inventory) AddNode(n Node) error {
	if n.Hostname == "" || n.IntegrationBridgeID == "" {
		return fmt.Errorf("node requires a hostname and an integration bridge")
	}
	if n.State == "" {
		n.State = StateInit
	}

	i.mu.Lock()
	if _, ok := i.nodes[n.Hostname]; ok {
		i.mu.Unlock()
		return &DuplicateNodeError{Hostname: n.Hostname, DeviceID: n.IntegrationBridgeID}
	}
	if _, ok := i.byDevice[n.IntegrationBridgeID]; ok {
		i.mu.Unlock()
		return &DuplicateNodeError{Hostname: n.Hostname, DeviceID: n.IntegrationBridgeID}
	}
	stored := n
	i.nodes[n.Hostname] = &stored
	i.byDevice[n.IntegrationBridgeID] = n.Hostname
	complete := i.countCompleteLocked()
	i.mu.Unlock()

	metrics.SetCompleteNodes(complete)
	logging.LoggerForNode(i.logger, n.Hostname, n.IntegrationBridgeID).Info("Node added", "state", n.State)
	i.publish(events.NodeCreated, n)
	if n.IsComplete() {
		i.publish(events.NodeComplete, n)
	}
	return nil
}

// RemoveNode drops a node and its port names. Unknown hosts are ignored.
func (i *Inventory) RemoveNode(hostname string) {
	i.mu.Lock()
	n, ok := i.nodes[hostname]
	if !ok {
		i.mu.Unlock()
		return
	}
	removed := *n
	delete(i.nodes, hostname)
	delete(i.byDevice, n.IntegrationBridgeID)
	delete(i.ports, n.IntegrationBridgeID)
	complete := i.countCompleteLocked()
	i.mu.Unlock()

	metrics.SetCompleteNodes(complete)
	logging.LoggerForNode(i.logger, removed.Hostname, removed.IntegrationBridgeID).Info("Node removed")
	if removed.IsComplete() {
		i.publish(events.NodeIncomplete, removed)
	}
	i.publish(events.NodeRemoved, removed)
}

// UpdateState moves a node to a new onboarding state. Entering COMPLETE
// without a known tunnel port asks the TunnelPortResolver first; if that
// fails the node keeps its current state.
func (i *Inventory) UpdateState(ctx context.Context, hostname string, state State) error {
	i.mu.RLock()
	n, ok := i.nodes[hostname]
	var snapshot Node
	if ok {
		snapshot = *n
	}
	resolver := i.resolver
	i.mu.RUnlock()
	if !ok {
		return &NodeNotFoundError{Hostname: hostname}
	}

	logger := logging.LoggerForNode(i.logger, hostname, snapshot.IntegrationBridgeID)
	var resolvedPort uint32
	if state == StateComplete && snapshot.TunnelPort == 0 && resolver != nil {
		port, err := resolver.TunnelPort(ctx, snapshot, i.tunnel.Interface)
		if err != nil {
			logger.Error(err, "Failed to resolve tunnel port")
			return fmt.Errorf("node %s: failed to resolve tunnel port: %w", hostname, err)
		}
		resolvedPort = port
	}

	i.mu.Lock()
	n, ok = i.nodes[hostname]
	if !ok {
		i.mu.Unlock()
		return &NodeNotFoundError{Hostname: hostname}
	}
	prev := n.State
	n.State = state
	if resolvedPort != 0 {
		n.TunnelPort = resolvedPort
	}
	updated := *n
	complete := i.countCompleteLocked()
	i.mu.Unlock()

	if prev == state && resolvedPort == 0 {
		return nil
	}
	metrics.SetCompleteNodes(complete)
	logger.Info("Node state changed", "from", prev, "to", state, "tunnelPort", updated.TunnelPort)

	switch {
	case state == StateComplete && prev != StateComplete:
		i.publish(events.NodeComplete, updated)
	case prev == StateComplete && state != StateComplete:
		i.publish(events.NodeIncomplete, updated)
	default:
		i.publish(events.NodeUpdated, updated)
	}
	return nil
}

// SetPorts replaces the port name table of a device
func (i *Inventory) SetPorts(device string, ports map[uint32]string) {
	cp := make(map[uint32]string, len(ports))
	for k, v := range ports {
		cp[k] = v
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ports[device] = cp
}

// Ports returns the port number to name table of a device
func (i *Inventory) Ports(device string) map[uint32]string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[uint32]string, len(i.ports[device]))
	for k, v := range i.ports[device] {
		out[k] = v
	}
	return out
}

// Node returns a node by hostname
func (i *Inventory) Node(hostname string) (Node, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n, ok := i.nodes[hostname]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// NodeByDevice returns the node owning an integration bridge
func (i *Inventory) NodeByDevice(device string) (Node, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nodeByDeviceLocked(device)
}

func (i *Inventory) nodeByDeviceLocked(device string) (Node, bool) {
	host, ok := i.byDevice[device]
	if !ok {
		return Node{}, false
	}
	return *i.nodes[host], true
}

// Nodes returns every node sorted by hostname
func (i *Inventory) Nodes() []Node {
	return i.collect(func(Node) bool { return true })
}

// CompleteNodes returns the COMPLETE nodes sorted by hostname
func (i *Inventory) CompleteNodes() []Node {
	return i.collect(Node.IsComplete)
}

// DataIP returns the data plane IP of the node owning device
func (i *Inventory) DataIP(device string) (net.IP, bool) {
	n, ok := i.NodeByDevice(device)
	if !ok || n.DataIP == nil {
		return nil, false
	}
	return n.DataIP, true
}

// TunnelPort returns the tunnel ofport of the node owning device
func (i *Inventory) TunnelPort(device string) (uint32, bool) {
	n, ok := i.NodeByDevice(device)
	if !ok || n.TunnelPort == 0 {
		return 0, false
	}
	return n.TunnelPort, true
}

// TunnelDstTreatment returns the tunnel destination for traffic leaving
// device toward remoteIP. It fails for unknown devices and non-IPv4 endpoints.
func (i *Inventory) TunnelDstTreatment(device string, remoteIP net.IP) (*pipeline.TunnelDst, bool) {
	if remoteIP == nil || remoteIP.To4() == nil {
		return nil, false
	}
	if _, ok := i.NodeByDevice(device); !ok {
		return nil, false
	}
	return &pipeline.TunnelDst{IP: remoteIP.To4()}, true
}

func (i *Inventory) collect(keep func(Node) bool) []Node {
	i.mu.RLock()
	out := make([]Node, 0, len(i.nodes))
	for _, n := range i.nodes {
		if keep(*n) {
			out = append(out, *n)
		}
	}
	i.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Hostname < out[b].Hostname })
	return out
}

func (i *Inventory) countCompleteLocked() int {
	n := 0
	for _, node := range i.nodes {
		if node.IsComplete() {
			n++
		}
	}
	return n
}

func (i *Inventory) publish(t events.Type, n Node) {
	i.listeners.Publish(events.NodeEvent{
		Type:     t,
		Hostname: n.Hostname,
		DeviceID: n.IntegrationBridgeID,
		State:    string(n.State),
	})
}
