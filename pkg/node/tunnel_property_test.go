package node

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

// TestProperty_TunnelTypeSelection verifies that geneve is honoured and every
// other value falls back to vxlan.
func TestProperty_TunnelTypeSelection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tunnel type is geneve or vxlan", prop.ForAll(
		func(tunnelType string) bool {
			cfg := config.DefaultConfig()
			cfg.Tunnel.Type = tunnelType

			tc, err := NewTunnelConfig(cfg)
			if err != nil {
				return false
			}
			if tunnelType == "geneve" {
				return tc.Type == TunnelTypeGeneve
			}
			return tc.Type == TunnelTypeVXLAN
		},
		gen.OneConstOf("vxlan", "geneve", "", "gre"),
	))

	properties.TestingRun(t)
}

// TestProperty_TunnelPortConfiguration verifies that a configured port is
// kept and a zero port selects the default of the tunnel type.
func TestProperty_TunnelPortConfiguration(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tunnel port is correctly configured", prop.ForAll(
		func(port int, tunnelType string) bool {
			cfg := config.DefaultConfig()
			cfg.Tunnel.Type = tunnelType
			cfg.Tunnel.Port = port

			tc, err := NewTunnelConfig(cfg)
			if err != nil {
				return false
			}
			if port == 0 {
				if tunnelType == "geneve" {
					return tc.Port == types.DefaultGenevePort
				}
				return tc.Port == types.DefaultVXLANPort
			}
			return tc.Port == port
		},
		gen.IntRange(0, 65535),
		gen.OneConstOf("vxlan", "geneve"),
	))

	properties.TestingRun(t)
}

// TestProperty_TunnelConfigValidation verifies that out of range ports are rejected.
func TestProperty_TunnelConfigValidation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("invalid ports fail validation", prop.ForAll(
		func(port int) bool {
			tc := &TunnelConfig{Type: TunnelTypeVXLAN, Port: port, Interface: "vxlan"}
			return tc.Validate() != nil
		},
		gen.OneGenOf(gen.IntRange(-65535, 0), gen.IntRange(65536, 200000)),
	))

	properties.Property("valid configurations pass validation", prop.ForAll(
		func(port int, tunnelType string) bool {
			tc := &TunnelConfig{Type: TunnelType(tunnelType), Port: port, Interface: "vxlan"}
			return tc.Validate() == nil
		},
		gen.IntRange(1, 65535),
		gen.OneConstOf("vxlan", "geneve"),
	))

	properties.TestingRun(t)
}

func TestTunnelConfig_DefaultInterface(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tunnel.Interface = ""

	tc, err := NewTunnelConfig(cfg)
	if err != nil {
		t.Fatalf("NewTunnelConfig failed: %v", err)
	}
	if tc.Interface != types.DefaultTunnelInterface {
		t.Errorf("Interface = %s, want %s", tc.Interface, types.DefaultTunnelInterface)
	}
	if tc.String() != "vxlan/4789@vxlan" {
		t.Errorf("String() = %s", tc.String())
	}

	cfg.Tunnel.Port = 70000
	if _, err := NewTunnelConfig(cfg); err == nil {
		t.Error("expected error for port 70000")
	}
}
