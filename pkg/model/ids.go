// Package model defines the network model shared by the store, the manager and
// the flow-rule compiler.
//
// Two families live here:
// - Infrastructure: Network, Subnet, Port, mirrored from the cloud orchestrator
// - Intent: ServiceNetwork, ServicePort, declared by tenants
//
// VtnNetwork and VtnPort merge the two and are always computed, never stored.
package model

// NetworkID identifies a network. Service networks share the id of their
// underlying network.
type NetworkID string

// PortID identifies a port. Service ports share the id of their underlying port.
type PortID string

// SubnetID identifies a subnet.
type SubnetID string

// SegmentID is the VNI of an overlay network.
type SegmentID uint32

func (id NetworkID) String() string { return string(id) }

func (id PortID) String() string { return string(id) }

func (id SubnetID) String() string { return string(id) }

// Uint64 returns the segment id in the width used for tunnel ids and metadata.
func (id SegmentID) Uint64() uint64 { return uint64(id) }
