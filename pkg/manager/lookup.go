package manager

import (
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// VtnNetwork returns the VTN network of a network, defaulted when no service
// network exists. Nil when the network or its subnet is unknown.
func (m *Manager) VtnNetwork(id model.NetworkID) *model.VtnNetwork {
	return m.store.VtnNetwork(id)
}

// VtnNetworks returns every resolvable VTN network
func (m *Manager) VtnNetworks() []*model.VtnNetwork {
	return m.store.VtnNetworks()
}

// VtnPort returns the VTN port of a port, defaulted when no service port exists
func (m *Manager) VtnPort(id model.PortID) *model.VtnPort {
	return m.store.VtnPort(id)
}

// VtnPortByName returns the VTN port of the port with the given name
func (m *Manager) VtnPortByName(name string) *model.VtnPort {
	return m.store.VtnPortByName(name)
}

// VtnPorts returns every VTN port
func (m *Manager) VtnPorts() []*model.VtnPort {
	return m.store.VtnPorts()
}

// ServiceNetwork returns the explicit service network of a network, or nil
func (m *Manager) ServiceNetwork(id model.NetworkID) *model.ServiceNetwork {
	return m.store.ServiceNetwork(id)
}

// ServiceNetworks returns every explicit service network
func (m *Manager) ServiceNetworks() []*model.ServiceNetwork {
	return m.store.ServiceNetworks()
}

// ServicePort returns the explicit service port of a port, or nil
func (m *Manager) ServicePort(id model.PortID) *model.ServicePort {
	return m.store.ServicePort(id)
}

// ServicePorts returns every explicit service port
func (m *Manager) ServicePorts() []*model.ServicePort {
	return m.store.ServicePorts()
}

// Network returns a network, or nil
func (m *Manager) Network(id model.NetworkID) *model.Network {
	return m.store.Network(id)
}

// Networks returns every network
func (m *Manager) Networks() []*model.Network {
	return m.store.Networks()
}

// Port returns a port, or nil
func (m *Manager) Port(id model.PortID) *model.Port {
	return m.store.Port(id)
}

// Ports returns every port
func (m *Manager) Ports() []*model.Port {
	return m.store.Ports()
}

// Subnet returns a subnet, or nil
func (m *Manager) Subnet(id model.SubnetID) *model.Subnet {
	return m.store.Subnet(id)
}

// Subnets returns every subnet
func (m *Manager) Subnets() []*model.Subnet {
	return m.store.Subnets()
}

// NetworkType returns the type of a network's VTN network
func (m *Manager) NetworkType(id model.NetworkID) (model.NetworkType, bool) {
	v := m.store.VtnNetwork(id)
	if v == nil {
		return model.NetworkTypeDefault, false
	}
	return v.Type, true
}
