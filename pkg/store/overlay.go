package store

import (
	"sort"

	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// ---- Service network ----

// CreateServiceNetwork records the tenant intent for a network. The network,
// its subnet and every provider network must exist; nothing is written
// otherwise. Creating an existing service network of the same type replaces
// its providers.
func (s *Store) CreateServiceNetwork(sn *model.ServiceNetwork) error {
	if sn == nil {
		return model.NewNullArgumentError("service network")
	}
	if sn.ID == "" {
		return model.NewNullArgumentError("service network ID")
	}

	s.mu.Lock()
	ev, err := s.createServiceNetworkLocked(sn)
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServiceNetwork, metrics.OperationCreate, err)
	return err
}

func (s *Store) createServiceNetworkLocked(sn *model.ServiceNetwork) (events.Event, error) {
	if _, ok := s.networks[sn.ID]; !ok {
		return nil, model.NewNotFoundError(model.KindNetwork, sn.ID.String())
	}
	if _, ok := s.subnetByNetwork[sn.ID]; !ok {
		return nil, model.NewNotFoundError(model.KindSubnetFor, sn.ID.String())
	}
	if err := s.checkProvidersLocked(sn.Providers); err != nil {
		return nil, err
	}

	evType := events.VtnNetworkCreated
	if existing, ok := s.serviceNetworks[sn.ID]; ok {
		if existing.Type != sn.Type {
			return nil, model.NewDuplicateError(model.KindServiceNetwork, sn.ID.String())
		}
		evType = events.VtnNetworkUpdated
	}
	s.serviceNetworks[sn.ID] = sn.Clone()
	s.logger.V(1).Info("Service network stored", "network", sn.ID, "type", sn.Type, "providers", len(sn.Providers))
	return events.VtnNetworkEvent{Type: evType, Network: s.vtnNetworkLocked(sn.ID)}, nil
}

// UpdateServiceNetwork replaces the providers of an existing service network.
// Id and type are kept.
func (s *Store) UpdateServiceNetwork(sn *model.ServiceNetwork) error {
	if sn == nil {
		return model.NewNullArgumentError("service network")
	}

	s.mu.Lock()
	ev, err := s.updateServiceNetworkLocked(sn)
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServiceNetwork, metrics.OperationUpdate, err)
	return err
}

func (s *Store) updateServiceNetworkLocked(sn *model.ServiceNetwork) (events.Event, error) {
	existing, ok := s.serviceNetworks[sn.ID]
	if !ok {
		return nil, model.NewNotFoundError(model.KindServiceNetwork, sn.ID.String())
	}
	if err := s.checkProvidersLocked(sn.Providers); err != nil {
		return nil, err
	}
	updated := existing.Clone()
	updated.Providers = append([]model.ProviderNetwork(nil), sn.Providers...)
	s.serviceNetworks[sn.ID] = updated
	return events.VtnNetworkEvent{Type: events.VtnNetworkUpdated, Network: s.vtnNetworkLocked(sn.ID)}, nil
}

func (s *Store) checkProvidersLocked(providers []model.ProviderNetwork) error {
	for _, p := range providers {
		if _, ok := s.networks[p.ID]; !ok {
			return model.NewNotFoundError(model.KindProvider, p.ID.String())
		}
	}
	return nil
}

// RemoveServiceNetwork drops the tenant intent of a network. The network
// falls back to the default VTN network.
func (s *Store) RemoveServiceNetwork(id model.NetworkID) error {
	if id == "" {
		return model.NewNullArgumentError("network ID")
	}

	s.mu.Lock()
	ev, err := s.removeServiceNetworkLocked(id)
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServiceNetwork, metrics.OperationRemove, err)
	return err
}

func (s *Store) removeServiceNetworkLocked(id model.NetworkID) (events.Event, error) {
	if _, ok := s.serviceNetworks[id]; !ok {
		return nil, nil
	}
	removed := s.vtnNetworkLocked(id)
	delete(s.serviceNetworks, id)
	if removed == nil {
		return nil, nil
	}
	return events.VtnNetworkEvent{Type: events.VtnNetworkRemoved, Network: removed}, nil
}

// ServiceNetwork returns a copy of an explicit service network, or nil
func (s *Store) ServiceNetwork(id model.NetworkID) *model.ServiceNetwork {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serviceNetworks[id].Clone()
}

// ServiceNetworks returns copies of all explicit service networks ordered by id
func (s *Store) ServiceNetworks() []*model.ServiceNetwork {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ServiceNetwork, 0, len(s.serviceNetworks))
	for _, sn := range s.serviceNetworks {
		out = append(out, sn.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- Service port ----

// CreateServicePort records the tenant intent for a port. The port must exist.
func (s *Store) CreateServicePort(sp *model.ServicePort) error {
	if sp == nil {
		return model.NewNullArgumentError("service port")
	}
	if sp.ID == "" {
		return model.NewNullArgumentError("service port ID")
	}

	s.mu.Lock()
	var ev events.Event
	var err error
	if _, ok := s.ports[sp.ID]; !ok {
		err = model.NewNotFoundError(model.KindPort, sp.ID.String())
	} else {
		evType := events.VtnPortCreated
		if _, exists := s.servicePorts[sp.ID]; exists {
			evType = events.VtnPortUpdated
		}
		s.servicePorts[sp.ID] = sp.Clone()
		ev = events.VtnPortEvent{Type: evType, Port: s.vtnPortLocked(sp.ID)}
	}
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServicePort, metrics.OperationCreate, err)
	return err
}

// UpdateServicePort replaces the intent of a port. The port must exist.
func (s *Store) UpdateServicePort(sp *model.ServicePort) error {
	if sp == nil {
		return model.NewNullArgumentError("service port")
	}

	s.mu.Lock()
	var ev events.Event
	var err error
	if _, ok := s.ports[sp.ID]; !ok {
		err = model.NewNotFoundError(model.KindPort, sp.ID.String())
	} else {
		s.servicePorts[sp.ID] = sp.Clone()
		ev = events.VtnPortEvent{Type: events.VtnPortUpdated, Port: s.vtnPortLocked(sp.ID)}
	}
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServicePort, metrics.OperationUpdate, err)
	return err
}

// RemoveServicePort drops the tenant intent of a port
func (s *Store) RemoveServicePort(id model.PortID) error {
	if id == "" {
		return model.NewNullArgumentError("port ID")
	}

	s.mu.Lock()
	ev := s.removeServicePortLocked(id)
	s.mu.Unlock()

	if ev != nil {
		s.notify([]events.Event{ev})
	}
	metrics.RecordStoreMutation(metrics.EntityServicePort, metrics.OperationRemove, nil)
	return nil
}

func (s *Store) removeServicePortLocked(id model.PortID) events.Event {
	if _, ok := s.servicePorts[id]; !ok {
		return nil
	}
	removed := s.vtnPortLocked(id)
	delete(s.servicePorts, id)
	if removed == nil {
		return nil
	}
	return events.VtnPortEvent{Type: events.VtnPortRemoved, Port: removed}
}

// ServicePort returns a copy of an explicit service port, or nil
func (s *Store) ServicePort(id model.PortID) *model.ServicePort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servicePorts[id].Clone()
}

// ServicePorts returns copies of all explicit service ports ordered by id
func (s *Store) ServicePorts() []*model.ServicePort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ServicePort, 0, len(s.servicePorts))
	for _, sp := range s.servicePorts {
		out = append(out, sp.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- Overlay reads ----

// VtnNetwork returns the VTN network of a network: explicit when a service
// network exists, the default one otherwise. Nil if the network or its
// subnet is missing.
func (s *Store) VtnNetwork(id model.NetworkID) *model.VtnNetwork {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vtnNetworkLocked(id)
}

func (s *Store) vtnNetworkLocked(id model.NetworkID) *model.VtnNetwork {
	network, ok := s.networks[id]
	if !ok {
		return nil
	}
	subnetID, ok := s.subnetByNetwork[id]
	if !ok {
		return nil
	}
	return model.NewVtnNetwork(network, s.subnets[subnetID], s.serviceNetworks[id])
}

// VtnNetworks returns the VTN network of every network that has a subnet
func (s *Store) VtnNetworks() []*model.VtnNetwork {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.VtnNetwork, 0, len(s.subnetByNetwork))
	for id := range s.networks {
		if v := s.vtnNetworkLocked(id); v != nil {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VtnPort returns the VTN port of a port, or nil if the port is missing
func (s *Store) VtnPort(id model.PortID) *model.VtnPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vtnPortLocked(id)
}

func (s *Store) vtnPortLocked(id model.PortID) *model.VtnPort {
	port, ok := s.ports[id]
	if !ok {
		return nil
	}
	return model.NewVtnPort(port, s.servicePorts[id])
}

// VtnPortByName returns the VTN port of the port with the given name, or nil
func (s *Store) VtnPortByName(name string) *model.VtnPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.portByName[name]
	if !ok {
		return nil
	}
	return s.vtnPortLocked(id)
}

// VtnPorts returns the VTN port of every port ordered by id
func (s *Store) VtnPorts() []*model.VtnPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.VtnPort, 0, len(s.ports))
	for id := range s.ports {
		out = append(out, s.vtnPortLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
