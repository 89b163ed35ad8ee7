package model

import (
	"net"
)

// Network is a network as reported by the cloud orchestrator
type Network struct {
	// ID is the orchestrator network id
	ID NetworkID `json:"id" yaml:"id"`

	// Name is the human readable network name
	Name string `json:"name" yaml:"name"`

	// TenantID is the owning tenant
	TenantID string `json:"tenantId" yaml:"tenantId"`

	// SegmentationID is the provider segment id reported by the orchestrator.
	// Zero means the orchestrator left it unassigned and the store allocates one.
	SegmentationID uint32 `json:"segmentationId" yaml:"segmentationId"`

	// Shared is set for networks visible to every tenant
	Shared bool `json:"shared" yaml:"shared"`

	// AdminStateUp mirrors the orchestrator administrative state
	AdminStateUp bool `json:"adminStateUp" yaml:"adminStateUp"`
}

// Subnet is an IPv4 address range bound to a network.
// A network has at most one subnet.
type Subnet struct {
	ID        SubnetID   `json:"id" yaml:"id"`
	NetworkID NetworkID  `json:"networkId" yaml:"networkId"`
	CIDR      *net.IPNet `json:"-" yaml:"-"`
	GatewayIP net.IP     `json:"-" yaml:"-"`
}

// Port is a network port as reported by the cloud orchestrator
type Port struct {
	ID          PortID           `json:"id" yaml:"id"`
	Name        string           `json:"name" yaml:"name"`
	NetworkID   NetworkID        `json:"networkId" yaml:"networkId"`
	MAC         net.HardwareAddr `json:"-" yaml:"-"`
	FixedIPs    []net.IP         `json:"-" yaml:"-"`
	DeviceOwner string           `json:"deviceOwner" yaml:"deviceOwner"`
}

// Clone returns a deep copy of the network
func (n *Network) Clone() *Network {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Clone returns a deep copy of the subnet
func (s *Subnet) Clone() *Subnet {
	if s == nil {
		return nil
	}
	c := *s
	if s.CIDR != nil {
		c.CIDR = &net.IPNet{
			IP:   append(net.IP(nil), s.CIDR.IP...),
			Mask: append(net.IPMask(nil), s.CIDR.Mask...),
		}
	}
	c.GatewayIP = append(net.IP(nil), s.GatewayIP...)
	return &c
}

// Clone returns a deep copy of the port
func (p *Port) Clone() *Port {
	if p == nil {
		return nil
	}
	c := *p
	c.MAC = append(net.HardwareAddr(nil), p.MAC...)
	c.FixedIPs = make([]net.IP, 0, len(p.FixedIPs))
	for _, ip := range p.FixedIPs {
		c.FixedIPs = append(c.FixedIPs, append(net.IP(nil), ip...))
	}
	return &c
}

// IP returns the first fixed IP of the port, or nil
func (p *Port) IP() net.IP {
	if len(p.FixedIPs) == 0 {
		return nil
	}
	return p.FixedIPs[0]
}
