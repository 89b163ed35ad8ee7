// Package manager provides the reconciliation manager of the VTN controller.
//
// The manager is the entry point for both external feeds:
// - Full resync (SyncStates): infrastructure first, then tenant intent
// - Point mutations from the orchestrator and the tenant-intent feed
// - Overlay lookups for the flow-rule compiler and the chain annotator
//
// It installs itself as the store delegate and forwards every overlay change
// to its listeners, synchronously and in registration order.
package manager

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/feed"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/store"
)

// InstanceResolver finds the live instance attached with a MAC address
type InstanceResolver interface {
	Instance(mac net.HardwareAddr) (model.Instance, bool)
}

// Manager reconciles the store with the orchestrator and tenant-intent feeds.
//
// Thread Safety: All methods are thread-safe. Mutations are serialized by the
// manager in addition to the store lock.
type Manager struct {
	store     *store.Store
	listeners *events.Registry
	logger    *logging.Logger

	// mu serializes mutations issued through the manager
	mu sync.Mutex

	// attachMu excludes attachments (read side) from RemovePort's in-use
	// check and removal (write side)
	attachMu sync.RWMutex

	resolverMu sync.RWMutex
	resolver   InstanceResolver
}

// New creates a manager on top of st and installs it as the store delegate.
//
// Parameters:
//   - st: The consistency store
//   - resolver: Live instance lookup used by RemovePort; may be set later with SetInstanceResolver
//   - registry: Listener registry; a new one is created when nil
//   - logger: Manager logger; the global logger is used when nil
func New(st *store.Store, resolver InstanceResolver, registry *events.Registry, logger *logging.Logger) *Manager {
	if registry == nil {
		registry = events.NewRegistry()
	}
	if logger == nil {
		logger = logging.LoggerForComponent("manager")
	}
	m := &Manager{
		store:     st,
		listeners: registry,
		logger:    logger,
		resolver:  resolver,
	}
	st.SetDelegate(m)
	return m
}

// Close detaches the manager from the store
func (m *Manager) Close() {
	m.store.UnsetDelegate(m)
}

// GuardAttach holds RemovePort off until release is called. The host
// tracker takes it while it records an attachment, so a port is never
// removed between its in-use check and an attach of its MAC.
func (m *Manager) GuardAttach() (release func()) {
	m.attachMu.RLock()
	return m.attachMu.RUnlock
}

// SetInstanceResolver sets the live instance lookup
func (m *Manager) SetInstanceResolver(r InstanceResolver) {
	m.resolverMu.Lock()
	defer m.resolverMu.Unlock()
	m.resolver = r
}

func (m *Manager) instanceResolver() InstanceResolver {
	m.resolverMu.RLock()
	defer m.resolverMu.RUnlock()
	return m.resolver
}

// Notify implements store.Delegate
func (m *Manager) Notify(ev events.Event) {
	m.logger.V(1).Info("Overlay changed", "event", ev.EventType(), "subject", ev.Subject())
	m.listeners.Publish(ev)
}

// AddListener registers a listener for VTN network and VTN port events.
// Listeners run while the mutation that caused the event still holds the
// manager lock; they must not mutate through the manager.
func (m *Manager) AddListener(l events.Listener) events.ListenerID {
	return m.listeners.Add(l)
}

// RemoveListener drops a listener registration
func (m *Manager) RemoveListener(id events.ListenerID) {
	m.listeners.Remove(id)
}

// SyncStates performs a full resync. Infrastructure (networks, subnets,
// ports) is pushed first, then intent (service networks, service ports),
// each object through its single-object create path. The first failure
// aborts the resync; objects pushed before it are kept.
func (m *Manager) SyncStates(ctx context.Context, orch feed.OrchestratorClient, intent feed.IntentClient) error {
	if orch == nil {
		return model.NewNullArgumentError("orchestrator client")
	}
	if intent == nil {
		return model.NewNullArgumentError("intent client")
	}

	timer := metrics.NewTimer()
	err := m.syncInfrastructure(ctx, orch)
	metrics.RecordSyncPhase(metrics.PhaseInfrastructure, err, timer.ObserveDuration())
	if err != nil {
		m.logger.Error(err, "Failed to sync infrastructure")
		return err
	}

	timer = metrics.NewTimer()
	err = m.syncIntent(ctx, intent)
	metrics.RecordSyncPhase(metrics.PhaseIntent, err, timer.ObserveDuration())
	if err != nil {
		m.logger.Error(err, "Failed to sync intent")
		return err
	}

	m.logger.Info("States synchronized",
		"networks", len(m.store.Networks()),
		"ports", len(m.store.Ports()),
		"serviceNetworks", len(m.store.ServiceNetworks()))
	return nil
}

func (m *Manager) syncInfrastructure(ctx context.Context, orch feed.OrchestratorClient) error {
	networks, err := orch.Networks(ctx)
	if err != nil {
		return fmt.Errorf("sync infrastructure: failed to list networks: %w", err)
	}
	for _, n := range networks {
		if err := m.CreateNetwork(n); err != nil {
			return fmt.Errorf("sync infrastructure: network %s: %w", networkIDOf(n), err)
		}
	}

	subnets, err := orch.Subnets(ctx)
	if err != nil {
		return fmt.Errorf("sync infrastructure: failed to list subnets: %w", err)
	}
	for _, s := range subnets {
		if err := m.CreateSubnet(s); err != nil {
			return fmt.Errorf("sync infrastructure: subnet %s: %w", subnetIDOf(s), err)
		}
	}

	ports, err := orch.Ports(ctx)
	if err != nil {
		return fmt.Errorf("sync infrastructure: failed to list ports: %w", err)
	}
	for _, p := range ports {
		if err := m.CreatePort(p); err != nil {
			return fmt.Errorf("sync infrastructure: port %s: %w", portIDOf(p), err)
		}
	}
	return nil
}

func (m *Manager) syncIntent(ctx context.Context, intent feed.IntentClient) error {
	serviceNets, err := intent.ServiceNetworks(ctx)
	if err != nil {
		return fmt.Errorf("sync intent: failed to list service networks: %w", err)
	}
	for _, sn := range serviceNets {
		if err := m.CreateServiceNetwork(sn); err != nil {
			var id model.NetworkID
			if sn != nil {
				id = sn.ID
			}
			return fmt.Errorf("sync intent: service network %s: %w", id, err)
		}
	}

	servicePorts, err := intent.ServicePorts(ctx)
	if err != nil {
		return fmt.Errorf("sync intent: failed to list service ports: %w", err)
	}
	for _, sp := range servicePorts {
		if err := m.CreateServicePort(sp); err != nil {
			var id model.PortID
			if sp != nil {
				id = sp.ID
			}
			return fmt.Errorf("sync intent: service port %s: %w", id, err)
		}
	}
	return nil
}

// PurgeStates drops every entity without emitting events
func (m *Manager) PurgeStates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Clear()
	m.logger.Info("States purged")
}

func networkIDOf(n *model.Network) model.NetworkID {
	if n == nil {
		return ""
	}
	return n.ID
}

func subnetIDOf(s *model.Subnet) model.SubnetID {
	if s == nil {
		return ""
	}
	return s.ID
}

func portIDOf(p *model.Port) model.PortID {
	if p == nil {
		return ""
	}
	return p.ID
}
