// Package types provides type definitions and constants.
//
// This package contains:
// - Forwarding pipeline table ids and rule priorities
// - Application and annotation identifiers
// - Tunnel and segment defaults
package types

const (
	// AppID identifies the owner of every flow rule the controller installs
	AppID = "org.zstack.vtn"

	// Integration bridge for workload traffic
	BrInt = "br-int"

	// Tunnel Types
	TunnelTypeVXLAN  = "vxlan"
	TunnelTypeGeneve = "geneve"

	// Default Tunnel Ports
	DefaultVXLANPort  = 4789
	DefaultGenevePort = 6081

	// DefaultTunnelInterface is the OVS interface carrying overlay traffic
	DefaultTunnelInterface = "vxlan"
)

// Forwarding pipeline tables
const (
	TableInPort    = 0
	TableAccess    = 1
	TableInService = 2
	TableDst       = 3
	TableTunnelIn  = 4
	TableVLAN      = 5
)

// Flow rule priorities
const (
	PriorityHigh    = 55000
	PriorityDefault = 5000
	PriorityLow     = 4000
	PriorityZero    = 0
)

// MetadataMask covers the 63 low bits used to carry the VNI between tables.
const MetadataMask uint64 = 0x7fffffffffffffff

// Segment (VNI) pool bounds, as per RFC 7348
const (
	MinSegmentID = 1
	MaxSegmentID = (1 << 24) - 1

	// DefaultSegmentPoolSize bounds how many VNIs the allocator tracks
	DefaultSegmentPoolSize = 4096
)

// Host annotations consumed when turning a discovered host into an Instance
const (
	AnnotationNetworkID   = "networkId"
	AnnotationPortID      = "portId"
	AnnotationNetworkType = "networkType"
	AnnotationNested      = "nested"
)

// Port name annotation on forwarding devices
const AnnotationPortName = "portName"
