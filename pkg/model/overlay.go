package model

import (
	"fmt"
	"net"
	"strings"
)

// NetworkType is the tenant-declared role of a service network
type NetworkType string

const (
	NetworkTypePrivate         NetworkType = "PRIVATE"
	NetworkTypePublic          NetworkType = "PUBLIC"
	NetworkTypeManagementHost  NetworkType = "MANAGEMENT_HOST"
	NetworkTypeManagementLocal NetworkType = "MANAGEMENT_LOCAL"
	NetworkTypeVSG             NetworkType = "VSG"
	NetworkTypeAccessAgent     NetworkType = "ACCESS_AGENT"

	// NetworkTypeDefault is carried by networks without a declared service network
	NetworkTypeDefault NetworkType = ""
)

// ParseNetworkType converts a case-insensitive string to a NetworkType
func ParseNetworkType(s string) (NetworkType, error) {
	switch t := NetworkType(strings.ToUpper(strings.TrimSpace(s))); t {
	case NetworkTypePrivate, NetworkTypePublic, NetworkTypeManagementHost,
		NetworkTypeManagementLocal, NetworkTypeVSG, NetworkTypeAccessAgent, NetworkTypeDefault:
		return t, nil
	}
	return NetworkTypeDefault, fmt.Errorf("unknown network type %q", s)
}

func (t NetworkType) String() string {
	if t == NetworkTypeDefault {
		return "DEFAULT"
	}
	return string(t)
}

// DependencyType is the direct access type granted to a provider network
type DependencyType string

const (
	DependencyBidirectional  DependencyType = "BIDIRECTIONAL"
	DependencyUnidirectional DependencyType = "UNIDIRECTIONAL"
)

// ProviderNetwork is another network granted direct access to a service network
type ProviderNetwork struct {
	ID        NetworkID      `json:"id" yaml:"id"`
	Type      DependencyType `json:"type" yaml:"type"`
	Bandwidth int            `json:"bandwidth" yaml:"bandwidth"`
}

// Equal compares id and access type; bandwidth is advisory and ignored.
func (p ProviderNetwork) Equal(o ProviderNetwork) bool {
	return p.ID == o.ID && p.Type == o.Type
}

// ServiceNetwork is the tenant intent for a network
type ServiceNetwork struct {
	ID        NetworkID         `json:"id" yaml:"id"`
	Type      NetworkType       `json:"type" yaml:"type"`
	Providers []ProviderNetwork `json:"providers" yaml:"providers"`
}

// AddressPair is an additional IP/MAC pair allowed on a service port
type AddressPair struct {
	IP  net.IP           `json:"-" yaml:"-"`
	MAC net.HardwareAddr `json:"-" yaml:"-"`
}

// ServicePort is the tenant intent for a port
type ServicePort struct {
	ID           PortID        `json:"id" yaml:"id"`
	NetworkID    NetworkID     `json:"networkId" yaml:"networkId"`
	VlanTag      uint16        `json:"vlanTag" yaml:"vlanTag"`
	AddressPairs []AddressPair `json:"-" yaml:"-"`
}

// Clone returns a deep copy of the service network
func (s *ServiceNetwork) Clone() *ServiceNetwork {
	if s == nil {
		return nil
	}
	c := *s
	c.Providers = append([]ProviderNetwork(nil), s.Providers...)
	return &c
}

// Clone returns a deep copy of the service port
func (s *ServicePort) Clone() *ServicePort {
	if s == nil {
		return nil
	}
	c := *s
	c.AddressPairs = append([]AddressPair(nil), s.AddressPairs...)
	return &c
}

// VtnNetwork is the materialized overlay network: infrastructure network and
// subnet merged with the optional tenant intent.
type VtnNetwork struct {
	ID        NetworkID
	Name      string
	TenantID  string
	SegmentID SegmentID
	SubnetID  SubnetID
	Subnet    *net.IPNet
	ServiceIP net.IP
	Type      NetworkType
	Providers []ProviderNetwork
}

// NewVtnNetwork merges a network, its subnet and an optional service network.
// A nil service network yields the default, type-less VTN network.
func NewVtnNetwork(network *Network, subnet *Subnet, serviceNet *ServiceNetwork) *VtnNetwork {
	if network == nil || subnet == nil {
		return nil
	}
	sub := subnet.Clone()
	vtnNet := &VtnNetwork{
		ID:        network.ID,
		Name:      network.Name,
		TenantID:  network.TenantID,
		SegmentID: SegmentID(network.SegmentationID),
		SubnetID:  sub.ID,
		Subnet:    sub.CIDR,
		ServiceIP: sub.GatewayIP,
		Type:      NetworkTypeDefault,
	}
	if serviceNet != nil {
		vtnNet.Type = serviceNet.Type
		vtnNet.Providers = append([]ProviderNetwork(nil), serviceNet.Providers...)
	}
	return vtnNet
}

// ServiceNetwork returns the intent view of the VTN network
func (v *VtnNetwork) ServiceNetwork() *ServiceNetwork {
	return &ServiceNetwork{
		ID:        v.ID,
		Type:      v.Type,
		Providers: append([]ProviderNetwork(nil), v.Providers...),
	}
}

// HasProvider reports whether id is one of the network's providers
func (v *VtnNetwork) HasProvider(id NetworkID) bool {
	for _, p := range v.Providers {
		if p.ID == id {
			return true
		}
	}
	return false
}

// VtnPort is the materialized overlay port
type VtnPort struct {
	ID           PortID
	Name         string
	NetworkID    NetworkID
	MAC          net.HardwareAddr
	IP           net.IP
	VlanTag      uint16
	AddressPairs []AddressPair
}

// NewVtnPort merges a port with an optional service port
func NewVtnPort(port *Port, servicePort *ServicePort) *VtnPort {
	if port == nil {
		return nil
	}
	p := port.Clone()
	vtnPort := &VtnPort{
		ID:        p.ID,
		Name:      p.Name,
		NetworkID: p.NetworkID,
		MAC:       p.MAC,
		IP:        p.IP(),
	}
	if servicePort != nil {
		vtnPort.VlanTag = servicePort.VlanTag
		vtnPort.AddressPairs = append([]AddressPair(nil), servicePort.AddressPairs...)
	}
	return vtnPort
}

// ServicePort returns the intent view of the VTN port
func (v *VtnPort) ServicePort() *ServicePort {
	return &ServicePort{
		ID:           v.ID,
		NetworkID:    v.NetworkID,
		VlanTag:      v.VlanTag,
		AddressPairs: append([]AddressPair(nil), v.AddressPairs...),
	}
}

// Instance is a workload attached to a fabric node, as found by host discovery
type Instance struct {
	MAC         net.HardwareAddr
	IP          net.IP
	DeviceID    string
	PortNumber  uint32
	NetworkID   NetworkID
	PortID      PortID
	NetworkType NetworkType
	Nested      bool
}

func (i Instance) String() string {
	return fmt.Sprintf("Instance{mac=%s, ip=%s, device=%s, port=%d, network=%s, nested=%t}",
		i.MAC, i.IP, i.DeviceID, i.PortNumber, i.NetworkID, i.Nested)
}
