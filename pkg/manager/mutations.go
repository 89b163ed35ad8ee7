package manager

import (
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// CreateNetwork creates a network
func (m *Manager) CreateNetwork(n *model.Network) error {
	if n == nil {
		return model.NewNullArgumentError("network")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreateNetwork(n); err != nil {
		return err
	}
	vni, _ := m.store.Segment(n.ID)
	logging.LoggerForNetwork(m.logger, n.ID.String(), uint32(vni)).Info("Network created")
	return nil
}

// UpdateNetwork updates a network
func (m *Manager) UpdateNetwork(n *model.Network) error {
	if n == nil {
		return model.NewNullArgumentError("network")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdateNetwork(n); err != nil {
		return err
	}
	m.logger.Info("Network updated", "network", n.ID)
	return nil
}

// RemoveNetwork removes a network
func (m *Manager) RemoveNetwork(id model.NetworkID) error {
	if id == "" {
		return model.NewNullArgumentError("network ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.RemoveNetwork(id); err != nil {
		return err
	}
	m.logger.Info("Network removed", "network", id)
	return nil
}

// CreateSubnet creates a subnet
func (m *Manager) CreateSubnet(s *model.Subnet) error {
	if s == nil {
		return model.NewNullArgumentError("subnet")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreateSubnet(s); err != nil {
		return err
	}
	m.logger.Info("Subnet created", "subnet", s.ID, "network", s.NetworkID)
	return nil
}

// UpdateSubnet updates a subnet
func (m *Manager) UpdateSubnet(s *model.Subnet) error {
	if s == nil {
		return model.NewNullArgumentError("subnet")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdateSubnet(s); err != nil {
		return err
	}
	m.logger.Info("Subnet updated", "subnet", s.ID, "network", s.NetworkID)
	return nil
}

// RemoveSubnet removes a subnet and the service network of its network.
// A failure to remove the service network is returned but the subnet is
// removed regardless.
func (m *Manager) RemoveSubnet(id model.SubnetID) error {
	if id == "" {
		return model.NewNullArgumentError("subnet ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.store.RemoveSubnet(id)
	m.logger.Info("Subnet removed", "subnet", id)
	return err
}

// CreatePort creates a port
func (m *Manager) CreatePort(p *model.Port) error {
	if p == nil {
		return model.NewNullArgumentError("port")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreatePort(p); err != nil {
		return err
	}
	logging.LoggerForPort(m.logger, p.ID.String(), p.NetworkID.String()).Info("Port created")
	return nil
}

// UpdatePort updates a port
func (m *Manager) UpdatePort(p *model.Port) error {
	if p == nil {
		return model.NewNullArgumentError("port")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdatePort(p); err != nil {
		return err
	}
	logging.LoggerForPort(m.logger, p.ID.String(), p.NetworkID.String()).Info("Port updated")
	return nil
}

// RemovePort removes a port and its service port. It fails while an
// instance still resolves for the port's MAC.
func (m *Manager) RemovePort(id model.PortID) error {
	if id == "" {
		return model.NewNullArgumentError("port ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	vtnPort := m.store.VtnPort(id)
	if vtnPort == nil {
		return model.NewNotFoundError(model.KindPort, id.String())
	}
	if r := m.instanceResolver(); r != nil {
		if inst, ok := r.Instance(vtnPort.MAC); ok {
			m.logger.Info("Refusing to remove port in use", "port", id, "instance", inst.String())
			return model.NewInUseError(model.KindPort, vtnPort.NetworkID.String())
		}
	}
	if err := m.store.RemovePort(id); err != nil {
		return err
	}
	m.logger.Info("Port removed", "port", id)
	return nil
}

// CreateServiceNetwork creates a service network
func (m *Manager) CreateServiceNetwork(sn *model.ServiceNetwork) error {
	if sn == nil {
		return model.NewNullArgumentError("service network")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreateServiceNetwork(sn); err != nil {
		return err
	}
	m.logger.Info("Service network created", "network", sn.ID, "type", sn.Type)
	return nil
}

// UpdateServiceNetwork replaces the providers of a service network
func (m *Manager) UpdateServiceNetwork(sn *model.ServiceNetwork) error {
	if sn == nil {
		return model.NewNullArgumentError("service network")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdateServiceNetwork(sn); err != nil {
		return err
	}
	m.logger.Info("Service network updated", "network", sn.ID, "providers", len(sn.Providers))
	return nil
}

// RemoveServiceNetwork removes a service network
func (m *Manager) RemoveServiceNetwork(id model.NetworkID) error {
	if id == "" {
		return model.NewNullArgumentError("network ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.RemoveServiceNetwork(id); err != nil {
		return err
	}
	m.logger.Info("Service network removed", "network", id)
	return nil
}

// CreateServicePort creates a service port
func (m *Manager) CreateServicePort(sp *model.ServicePort) error {
	if sp == nil {
		return model.NewNullArgumentError("service port")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.CreateServicePort(sp); err != nil {
		return err
	}
	m.logger.Info("Service port created", "port", sp.ID)
	return nil
}

// UpdateServicePort updates a service port
func (m *Manager) UpdateServicePort(sp *model.ServicePort) error {
	if sp == nil {
		return model.NewNullArgumentError("service port")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.UpdateServicePort(sp); err != nil {
		return err
	}
	m.logger.Info("Service port updated", "port", sp.ID)
	return nil
}

// RemoveServicePort removes a service port
func (m *Manager) RemoveServicePort(id model.PortID) error {
	if id == "" {
		return model.NewNullArgumentError("port ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.RemoveServicePort(id); err != nil {
		return err
	}
	m.logger.Info("Service port removed", "port", id)
	return nil
}
