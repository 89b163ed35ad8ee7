package feed

import (
	"context"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/zstack-vtn/pkg/host"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

// Document is the YAML form of a snapshot
//
// Example:
//
//	networks:
//	  - id: net-1
//	    name: tenant-a
//	subnets:
//	  - id: sub-1
//	    networkId: net-1
//	    cidr: 10.0.0.0/24
//	    gateway: 10.0.0.1
//	ports:
//	  - id: port-1
//	    name: tapport-1
//	    networkId: net-1
//	    mac: fa:16:3e:00:00:01
//	    ips: [10.0.0.5]
//	serviceNetworks:
//	  - id: net-1
//	    type: PRIVATE
//	servicePorts:
//	  - id: port-1
//	    networkId: net-1
//	hosts:
//	  - mac: fa:16:3e:00:00:01
//	    ip: 10.0.0.5
//	    deviceId: of:0000000000000001
//	    portNumber: 3
//	    annotations:
//	      networkId: net-1
type Document struct {
	Networks        []model.Network        `yaml:"networks"`
	Subnets         []SubnetDoc            `yaml:"subnets"`
	Ports           []PortDoc              `yaml:"ports"`
	ServiceNetworks []model.ServiceNetwork `yaml:"serviceNetworks"`
	ServicePorts    []ServicePortDoc       `yaml:"servicePorts"`
	Hosts           []HostDoc              `yaml:"hosts"`
}

// SubnetDoc is the YAML form of a subnet
type SubnetDoc struct {
	ID        string `yaml:"id"`
	NetworkID string `yaml:"networkId"`
	CIDR      string `yaml:"cidr"`
	Gateway   string `yaml:"gateway,omitempty"`
}

// PortDoc is the YAML form of a port
type PortDoc struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	NetworkID   string   `yaml:"networkId"`
	MAC         string   `yaml:"mac"`
	IPs         []string `yaml:"ips"`
	DeviceOwner string   `yaml:"deviceOwner,omitempty"`
}

// AddressPairDoc is the YAML form of an address pair
type AddressPairDoc struct {
	IP  string `yaml:"ip"`
	MAC string `yaml:"mac"`
}

// ServicePortDoc is the YAML form of a service port
type ServicePortDoc struct {
	ID           string           `yaml:"id"`
	NetworkID    string           `yaml:"networkId"`
	VlanTag      uint16           `yaml:"vlanTag,omitempty"`
	AddressPairs []AddressPairDoc `yaml:"addressPairs,omitempty"`
}

// HostDoc is the YAML form of a discovered host
type HostDoc struct {
	MAC         string            `yaml:"mac"`
	IP          string            `yaml:"ip"`
	DeviceID    string            `yaml:"deviceId"`
	PortNumber  uint32            `yaml:"portNumber"`
	Annotations map[string]string `yaml:"annotations"`
}

// Snapshot serves both feeds from a parsed Document, plus the hosts known
// at the time of the snapshot. It implements OrchestratorClient and IntentClient.
type Snapshot struct {
	networks        []*model.Network
	subnets         []*model.Subnet
	ports           []*model.Port
	serviceNetworks []*model.ServiceNetwork
	servicePorts    []*model.ServicePort
	hosts           []host.Host
}

// LoadSnapshot reads and parses a snapshot file
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return snap, nil
}

// ParseSnapshot parses a YAML snapshot document
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return NewSnapshot(&doc)
}

// NewSnapshot converts a document to model values
func NewSnapshot(doc *Document) (*Snapshot, error) {
	snap := &Snapshot{}

	for i := range doc.Networks {
		snap.networks = append(snap.networks, doc.Networks[i].Clone())
	}

	for _, d := range doc.Subnets {
		cidr, err := util.ParseIPv4CIDR(d.CIDR)
		if err != nil {
			return nil, fmt.Errorf("subnet %s: %w", d.ID, err)
		}
		subnet := &model.Subnet{
			ID:        model.SubnetID(d.ID),
			NetworkID: model.NetworkID(d.NetworkID),
			CIDR:      cidr,
		}
		if d.Gateway != "" {
			gw := net.ParseIP(d.Gateway)
			if gw == nil {
				return nil, fmt.Errorf("subnet %s: invalid gateway %q", d.ID, d.Gateway)
			}
			subnet.GatewayIP = gw
		}
		snap.subnets = append(snap.subnets, subnet)
	}

	for _, d := range doc.Ports {
		mac, err := net.ParseMAC(d.MAC)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", d.ID, err)
		}
		port := &model.Port{
			ID:          model.PortID(d.ID),
			Name:        d.Name,
			NetworkID:   model.NetworkID(d.NetworkID),
			MAC:         mac,
			DeviceOwner: d.DeviceOwner,
		}
		for _, s := range d.IPs {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("port %s: invalid IP %q", d.ID, s)
			}
			port.FixedIPs = append(port.FixedIPs, ip)
		}
		snap.ports = append(snap.ports, port)
	}

	for i := range doc.ServiceNetworks {
		sn := doc.ServiceNetworks[i].Clone()
		t, err := model.ParseNetworkType(string(sn.Type))
		if err != nil {
			return nil, fmt.Errorf("service network %s: %w", sn.ID, err)
		}
		sn.Type = t
		snap.serviceNetworks = append(snap.serviceNetworks, sn)
	}

	for _, d := range doc.ServicePorts {
		sp := &model.ServicePort{
			ID:        model.PortID(d.ID),
			NetworkID: model.NetworkID(d.NetworkID),
			VlanTag:   d.VlanTag,
		}
		for _, pair := range d.AddressPairs {
			mac, err := net.ParseMAC(pair.MAC)
			if err != nil {
				return nil, fmt.Errorf("service port %s: %w", d.ID, err)
			}
			ip := net.ParseIP(pair.IP)
			if ip == nil {
				return nil, fmt.Errorf("service port %s: invalid IP %q", d.ID, pair.IP)
			}
			sp.AddressPairs = append(sp.AddressPairs, model.AddressPair{IP: ip, MAC: mac})
		}
		snap.servicePorts = append(snap.servicePorts, sp)
	}

	for _, d := range doc.Hosts {
		mac, err := net.ParseMAC(d.MAC)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", d.MAC, err)
		}
		ip := net.ParseIP(d.IP)
		if ip == nil {
			return nil, fmt.Errorf("host %s: invalid IP %q", d.MAC, d.IP)
		}
		h := host.Host{
			MAC:         mac,
			IP:          ip,
			DeviceID:    d.DeviceID,
			PortNumber:  d.PortNumber,
			Annotations: make(map[string]string, len(d.Annotations)),
		}
		for k, v := range d.Annotations {
			h.Annotations[k] = v
		}
		snap.hosts = append(snap.hosts, h)
	}

	return snap, nil
}

// Networks implements OrchestratorClient
func (s *Snapshot) Networks(ctx context.Context) ([]*model.Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Network, 0, len(s.networks))
	for _, n := range s.networks {
		out = append(out, n.Clone())
	}
	return out, nil
}

// Subnets implements OrchestratorClient
func (s *Snapshot) Subnets(ctx context.Context) ([]*model.Subnet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Subnet, 0, len(s.subnets))
	for _, sn := range s.subnets {
		out = append(out, sn.Clone())
	}
	return out, nil
}

// Ports implements OrchestratorClient
func (s *Snapshot) Ports(ctx context.Context) ([]*model.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Port, 0, len(s.ports))
	for _, p := range s.ports {
		out = append(out, p.Clone())
	}
	return out, nil
}

// ServiceNetworks implements IntentClient
func (s *Snapshot) ServiceNetworks(ctx context.Context) ([]*model.ServiceNetwork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.ServiceNetwork, 0, len(s.serviceNetworks))
	for _, sn := range s.serviceNetworks {
		out = append(out, sn.Clone())
	}
	return out, nil
}

// ServicePorts implements IntentClient
func (s *Snapshot) ServicePorts(ctx context.Context) ([]*model.ServicePort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.ServicePort, 0, len(s.servicePorts))
	for _, sp := range s.servicePorts {
		out = append(out, sp.Clone())
	}
	return out, nil
}

// Hosts returns the hosts recorded in the snapshot
func (s *Snapshot) Hosts(ctx context.Context) ([]host.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]host.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		c := h
		c.Annotations = make(map[string]string, len(h.Annotations))
		for k, v := range h.Annotations {
			c.Annotations[k] = v
		}
		out = append(out, c)
	}
	return out, nil
}
