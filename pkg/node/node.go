package node

import (
	"fmt"
	"net"
	"strings"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
)

// State is the onboarding state of a fabric node
type State string

// Node states, in onboarding order
const (
	StateInit          State = config.NodeStateInit
	StateBridgeCreated State = config.NodeStateBridgeCreated
	StatePortsAdded    State = config.NodeStatePortsAdded
	StateComplete      State = config.NodeStateComplete
)

// ParseState parses a node state name, case-insensitively. Empty means INIT.
func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(s)) {
	case "", StateInit:
		return StateInit, nil
	case StateBridgeCreated:
		return StateBridgeCreated, nil
	case StatePortsAdded:
		return StatePortsAdded, nil
	case StateComplete:
		return StateComplete, nil
	}
	return "", fmt.Errorf("unknown node state %q", s)
}

// Node is a fabric node hosting an integration bridge
type Node struct {
	Hostname string

	// IntegrationBridgeID is the device id of the node's br-int
	IntegrationBridgeID string

	// DataIP is the tunnel endpoint address
	DataIP net.IP

	// TunnelPort is the ofport of the tunnel interface, 0 when unknown
	TunnelPort uint32

	State State
}

// IsComplete returns true if the node accepts flow rules
func (n Node) IsComplete() bool {
	return n.State == StateComplete
}

func (n Node) String() string {
	return fmt.Sprintf("%s(%s, %s)", n.Hostname, n.IntegrationBridgeID, n.State)
}

// Manager answers the questions the flow rule compiler asks about nodes
type Manager interface {
	// CompleteNodes returns the nodes in the COMPLETE state
	CompleteNodes() []Node

	// DataIP returns the data plane IP of the node owning device
	DataIP(device string) (net.IP, bool)

	// TunnelPort returns the tunnel ofport of the node owning device
	TunnelPort(device string) (uint32, bool)

	// TunnelDstTreatment returns the encapsulation parameters that send
	// traffic from device to the tunnel endpoint remoteIP
	TunnelDstTreatment(device string, remoteIP net.IP) (*pipeline.TunnelDst, bool)
}
