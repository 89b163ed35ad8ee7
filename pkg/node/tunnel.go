// Package node provides the fabric node inventory and tunnel configuration.
//
// Tunnel Architecture:
// - Each node has a tunnel endpoint (VTEP) reachable at its data plane IP
// - VXLAN is the default tunnel type
// - Geneve is supported as an alternative with more extensibility
// - The VNI of a network travels in the tunnel id of the encapsulated packet
//
// Node Lifecycle:
// - INIT: node known, nothing configured yet
// - BRIDGE_CREATED: integration bridge exists
// - PORTS_ADDED: tunnel and data ports attached to the bridge
// - COMPLETE: node ready to receive flow rules
//
// Reference: OVN-Kubernetes pkg/node/gateway_init_linux.go
package node

import (
	"fmt"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

// TunnelType represents the type of tunnel encapsulation
type TunnelType string

const (
	// TunnelTypeVXLAN uses VXLAN encapsulation (default)
	TunnelTypeVXLAN TunnelType = types.TunnelTypeVXLAN

	// TunnelTypeGeneve uses Geneve encapsulation (more extensible)
	TunnelTypeGeneve TunnelType = types.TunnelTypeGeneve
)

// TunnelConfig holds the tunnel settings shared by every node
type TunnelConfig struct {
	// Type is the tunnel encapsulation type (vxlan or geneve)
	Type TunnelType

	// Port is the UDP port for tunnel traffic
	Port int

	// Interface is the OVS interface carrying overlay traffic on br-int
	Interface string
}

// NewTunnelConfig builds the tunnel settings from the global configuration.
// Unknown tunnel types fall back to VXLAN; a zero port selects the default
// port of the tunnel type.
//
// Parameters:
//   - cfg: Global configuration
//
// Returns:
//   - *TunnelConfig: Tunnel settings
//   - error: Validation error
func NewTunnelConfig(cfg *config.Config) (*TunnelConfig, error) {
	tunnelType := TunnelTypeVXLAN
	if cfg.Tunnel.Type == string(TunnelTypeGeneve) {
		tunnelType = TunnelTypeGeneve
	}

	port := cfg.Tunnel.Port
	if port == 0 {
		port = DefaultPort(tunnelType)
	}

	iface := cfg.Tunnel.Interface
	if iface == "" {
		iface = types.DefaultTunnelInterface
	}

	tc := &TunnelConfig{
		Type:      tunnelType,
		Port:      port,
		Interface: iface,
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// DefaultPort returns the IANA port of a tunnel type
func DefaultPort(t TunnelType) int {
	if t == TunnelTypeGeneve {
		return types.DefaultGenevePort
	}
	return types.DefaultVXLANPort
}

// Validate validates the tunnel configuration.
func (t *TunnelConfig) Validate() error {
	if t.Type != TunnelTypeVXLAN && t.Type != TunnelTypeGeneve {
		return fmt.Errorf("invalid tunnel type: %s (must be 'vxlan' or 'geneve')", t.Type)
	}

	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("invalid tunnel port: %d (must be 1-65535)", t.Port)
	}

	if t.Interface == "" {
		return fmt.Errorf("tunnel interface is required")
	}

	return nil
}

func (t *TunnelConfig) String() string {
	return fmt.Sprintf("%s/%d@%s", t.Type, t.Port, t.Interface)
}
