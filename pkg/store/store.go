// Package store provides the consistency store of the VTN controller.
//
// The store holds the infrastructure model mirrored from the cloud
// orchestrator (networks, subnets, ports) and the tenant intent (service
// networks, service ports), and enforces the referential invariants between
// them on every mutation:
// - A subnet, port or service network needs its network
// - A network has at most one subnet
// - A service network needs its subnet and every provider network
// - A service port needs its port
//
// VTN networks and VTN ports are never stored; they are merged on every read.
//
// Every mutation runs as one critical section (read, check, write). Reads
// take the shared side of the same lock for map safety only, so two reads
// may observe different states.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/allocator"
	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
	utilnet "k8s.io/utils/net"
)

// Delegate receives overlay change notifications from the store
type Delegate interface {
	Notify(ev events.Event)
}

// Options configures a Store
type Options struct {
	// SegmentBase is the first VNI handed out by the pool
	// Default: types.MinSegmentID
	SegmentBase uint32

	// SegmentPoolSize is the number of VNIs in the pool
	// Default: types.DefaultSegmentPoolSize
	SegmentPoolSize uint32

	// Logger is the store logger
	// Default: the global logger
	Logger *logging.Logger
}

// Store is the single source of truth for the network model.
//
// Thread Safety: All methods are thread-safe.
type Store struct {
	mu sync.RWMutex

	networks        map[model.NetworkID]*model.Network
	subnets         map[model.SubnetID]*model.Subnet
	ports           map[model.PortID]*model.Port
	serviceNetworks map[model.NetworkID]*model.ServiceNetwork
	servicePorts    map[model.PortID]*model.ServicePort

	// subnetByNetwork enforces one subnet per network
	subnetByNetwork map[model.NetworkID]model.SubnetID

	// portByName is the port name secondary index
	portByName map[string]model.PortID

	segments *allocator.SegmentAllocator

	delegateMu sync.RWMutex
	delegate   Delegate

	logger *logging.Logger
}

// New creates an empty store
func New(opts Options) *Store {
	if opts.SegmentBase == 0 {
		opts.SegmentBase = types.MinSegmentID
	}
	if opts.SegmentPoolSize == 0 {
		opts.SegmentPoolSize = types.DefaultSegmentPoolSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.LoggerForComponent("store")
	}
	s := &Store{
		segments: allocator.NewSegmentAllocator(opts.SegmentBase, opts.SegmentPoolSize),
		logger:   logger,
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.networks = make(map[model.NetworkID]*model.Network)
	s.subnets = make(map[model.SubnetID]*model.Subnet)
	s.ports = make(map[model.PortID]*model.Port)
	s.serviceNetworks = make(map[model.NetworkID]*model.ServiceNetwork)
	s.servicePorts = make(map[model.PortID]*model.ServicePort)
	s.subnetByNetwork = make(map[model.NetworkID]model.SubnetID)
	s.portByName = make(map[string]model.PortID)
	s.segments.Reset()
}

// SetDelegate sets the receiver of overlay change notifications
func (s *Store) SetDelegate(d Delegate) {
	s.delegateMu.Lock()
	defer s.delegateMu.Unlock()
	s.delegate = d
}

// UnsetDelegate removes d if it is the current delegate
func (s *Store) UnsetDelegate(d Delegate) {
	s.delegateMu.Lock()
	defer s.delegateMu.Unlock()
	if s.delegate == d {
		s.delegate = nil
	}
}

// notify delivers pending events. Must be called without s.mu held.
func (s *Store) notify(pending []events.Event) {
	if len(pending) == 0 {
		return
	}
	s.delegateMu.RLock()
	d := s.delegate
	s.delegateMu.RUnlock()
	if d == nil {
		return
	}
	for _, ev := range pending {
		d.Notify(ev)
	}
}

// Clear drops every entity and releases every segment. No event is emitted.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	metrics.SetSegmentsAssigned(0)
	s.logger.Info("Store cleared")
}

// ---- Network ----

// CreateNetwork adds a network and assigns its segment id. Creating an
// existing network updates it and keeps its segment id.
func (s *Store) CreateNetwork(network *model.Network) error {
	if network == nil {
		return model.NewNullArgumentError("network")
	}
	if network.ID == "" {
		return model.NewNullArgumentError("network ID")
	}

	s.mu.Lock()
	err := s.putNetworkLocked(network)
	s.mu.Unlock()

	metrics.RecordStoreMutation(metrics.EntityNetwork, metrics.OperationCreate, err)
	return err
}

// UpdateNetwork replaces the orchestrator attributes of an existing network.
// The segment id assigned at creation is kept.
func (s *Store) UpdateNetwork(network *model.Network) error {
	if network == nil {
		return model.NewNullArgumentError("network")
	}

	s.mu.Lock()
	var err error
	if _, ok := s.networks[network.ID]; !ok {
		err = model.NewNotFoundError(model.KindNetwork, network.ID.String())
	} else {
		err = s.putNetworkLocked(network)
	}
	s.mu.Unlock()

	metrics.RecordStoreMutation(metrics.EntityNetwork, metrics.OperationUpdate, err)
	return err
}

func (s *Store) putNetworkLocked(network *model.Network) error {
	stored := network.Clone()
	vni, err := s.segments.Assign(network.ID.String(), network.SegmentationID)
	if err != nil {
		return fmt.Errorf("failed to assign segment to network %s: %w", network.ID, err)
	}
	if network.SegmentationID != 0 && network.SegmentationID != vni {
		s.logger.Warn("Ignoring segment change of an existing network",
			"network", network.ID, "segment", vni, "requested", network.SegmentationID)
	}
	stored.SegmentationID = vni
	s.networks[network.ID] = stored
	metrics.SetSegmentsAssigned(s.segments.Assigned())
	s.logger.V(1).Info("Network stored", "network", network.ID, "segment", vni)
	return nil
}

// RemoveNetwork removes a network and releases its segment id. It fails while
// a subnet or a port still references the network.
func (s *Store) RemoveNetwork(id model.NetworkID) error {
	if id == "" {
		return model.NewNullArgumentError("network ID")
	}

	s.mu.Lock()
	err := s.removeNetworkLocked(id)
	s.mu.Unlock()

	metrics.RecordStoreMutation(metrics.EntityNetwork, metrics.OperationRemove, err)
	return err
}

func (s *Store) removeNetworkLocked(id model.NetworkID) error {
	if _, ok := s.networks[id]; !ok {
		return nil
	}
	if _, ok := s.subnetByNetwork[id]; ok {
		return model.NewInUseError(model.KindSubnet, id.String())
	}
	for _, p := range s.ports {
		if p.NetworkID == id {
			return model.NewInUseError(model.KindPort, id.String())
		}
	}
	for _, sn := range s.serviceNetworks {
		for _, p := range sn.Providers {
			if p.ID == id {
				return model.NewInUseError(model.KindProvider, sn.ID.String())
			}
		}
	}
	delete(s.networks, id)
	if vni, ok := s.segments.Release(id.String()); ok {
		s.logger.V(1).Info("Segment released", "network", id, "segment", vni)
	}
	metrics.SetSegmentsAssigned(s.segments.Assigned())
	return nil
}

// Network returns a copy of a network, or nil
func (s *Store) Network(id model.NetworkID) *model.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networks[id].Clone()
}

// Networks returns copies of all networks ordered by id
func (s *Store) Networks() []*model.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Network, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Segment returns the segment id assigned to a network
func (s *Store) Segment(id model.NetworkID) (model.SegmentID, bool) {
	vni, ok := s.segments.Lookup(id.String())
	return model.SegmentID(vni), ok
}

// ---- Subnet ----

// CreateSubnet binds a subnet to its network. A network takes at most one
// subnet; creating the same subnet id again updates it.
func (s *Store) CreateSubnet(subnet *model.Subnet) error {
	err := s.putSubnet(subnet)
	metrics.RecordStoreMutation(metrics.EntitySubnet, metrics.OperationCreate, err)
	return err
}

// UpdateSubnet replaces a subnet. The same invariants as CreateSubnet apply.
func (s *Store) UpdateSubnet(subnet *model.Subnet) error {
	err := s.putSubnet(subnet)
	metrics.RecordStoreMutation(metrics.EntitySubnet, metrics.OperationUpdate, err)
	return err
}

func (s *Store) putSubnet(subnet *model.Subnet) error {
	if subnet == nil {
		return model.NewNullArgumentError("subnet")
	}
	if subnet.ID == "" {
		return model.NewNullArgumentError("subnet ID")
	}
	if subnet.CIDR == nil {
		return model.NewNullArgumentError("subnet CIDR")
	}
	if !utilnet.IsIPv4CIDR(subnet.CIDR) {
		return fmt.Errorf("subnet %s: CIDR %s is not an IPv4 range", subnet.ID, subnet.CIDR)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.networks[subnet.NetworkID]; !ok {
		return model.NewNotFoundError(model.KindNetwork, subnet.NetworkID.String())
	}
	if existing, ok := s.subnetByNetwork[subnet.NetworkID]; ok && existing != subnet.ID {
		return model.NewDuplicateError(model.KindSubnet, subnet.NetworkID.String())
	}
	if prev, ok := s.subnets[subnet.ID]; ok && prev.NetworkID != subnet.NetworkID {
		delete(s.subnetByNetwork, prev.NetworkID)
	}
	s.subnets[subnet.ID] = subnet.Clone()
	s.subnetByNetwork[subnet.NetworkID] = subnet.ID
	s.logger.V(1).Info("Subnet stored", "subnet", subnet.ID, "network", subnet.NetworkID, "cidr", subnet.CIDR)
	return nil
}

// RemoveSubnet removes a subnet after removing the service network of its
// network. Failing to remove the service network is reported in the returned
// error but does not stop the subnet removal.
func (s *Store) RemoveSubnet(id model.SubnetID) error {
	if id == "" {
		return model.NewNullArgumentError("subnet ID")
	}

	s.mu.Lock()
	var errs []error
	var pending []events.Event
	if subnet, ok := s.subnets[id]; ok {
		ev, err := s.removeServiceNetworkLocked(subnet.NetworkID)
		if err != nil {
			s.logger.Error(err, "Failed to remove service network of subnet", "subnet", id, "network", subnet.NetworkID)
			errs = append(errs, err)
		}
		if ev != nil {
			pending = append(pending, ev)
		}
		delete(s.subnets, id)
		if s.subnetByNetwork[subnet.NetworkID] == id {
			delete(s.subnetByNetwork, subnet.NetworkID)
		}
	}
	s.mu.Unlock()

	s.notify(pending)
	err := errors.Join(errs...)
	metrics.RecordStoreMutation(metrics.EntitySubnet, metrics.OperationRemove, err)
	return err
}

// Subnet returns a copy of a subnet, or nil
func (s *Store) Subnet(id model.SubnetID) *model.Subnet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subnets[id].Clone()
}

// Subnets returns copies of all subnets ordered by id
func (s *Store) Subnets() []*model.Subnet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Subnet, 0, len(s.subnets))
	for _, sn := range s.subnets {
		out = append(out, sn.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SubnetForNetwork returns a copy of the subnet bound to a network, or nil
func (s *Store) SubnetForNetwork(id model.NetworkID) *model.Subnet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subnetID, ok := s.subnetByNetwork[id]
	if !ok {
		return nil
	}
	return s.subnets[subnetID].Clone()
}

// ---- Port ----

// CreatePort adds a port. Its network must exist.
func (s *Store) CreatePort(port *model.Port) error {
	err := s.putPort(port)
	metrics.RecordStoreMutation(metrics.EntityPort, metrics.OperationCreate, err)
	return err
}

// UpdatePort replaces a port. Its network must exist.
func (s *Store) UpdatePort(port *model.Port) error {
	err := s.putPort(port)
	metrics.RecordStoreMutation(metrics.EntityPort, metrics.OperationUpdate, err)
	return err
}

func (s *Store) putPort(port *model.Port) error {
	if port == nil {
		return model.NewNullArgumentError("port")
	}
	if port.ID == "" {
		return model.NewNullArgumentError("port ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.networks[port.NetworkID]; !ok {
		return model.NewNotFoundError(model.KindNetwork, port.NetworkID.String())
	}
	if prev, ok := s.ports[port.ID]; ok && prev.Name != port.Name {
		s.unindexPortNameLocked(prev)
	}
	s.ports[port.ID] = port.Clone()
	if port.Name != "" {
		s.portByName[port.Name] = port.ID
	}
	s.logger.V(1).Info("Port stored", "port", port.ID, "network", port.NetworkID, "mac", port.MAC)
	return nil
}

func (s *Store) unindexPortNameLocked(p *model.Port) {
	if p.Name != "" && s.portByName[p.Name] == p.ID {
		delete(s.portByName, p.Name)
	}
}

// RemovePort removes a port after removing its service port
func (s *Store) RemovePort(id model.PortID) error {
	if id == "" {
		return model.NewNullArgumentError("port ID")
	}

	s.mu.Lock()
	var pending []events.Event
	if ev := s.removeServicePortLocked(id); ev != nil {
		pending = append(pending, ev)
	}
	if p, ok := s.ports[id]; ok {
		s.unindexPortNameLocked(p)
		delete(s.ports, id)
	}
	s.mu.Unlock()

	s.notify(pending)
	metrics.RecordStoreMutation(metrics.EntityPort, metrics.OperationRemove, nil)
	return nil
}

// Port returns a copy of a port, or nil
func (s *Store) Port(id model.PortID) *model.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ports[id].Clone()
}

// PortByName returns a copy of the port with the given name, or nil
func (s *Store) PortByName(name string) *model.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.portByName[name]
	if !ok {
		return nil
	}
	return s.ports[id].Clone()
}

// Ports returns copies of all ports ordered by id
func (s *Store) Ports() []*model.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Port, 0, len(s.ports))
	for _, p := range s.ports {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
