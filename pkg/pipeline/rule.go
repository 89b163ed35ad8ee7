// Package pipeline provides the flow rule model of the forwarding pipeline
// and the executors that apply rules to fabric nodes.
//
// Pipeline tables (see pkg/types):
// - IN_PORT: classifies traffic by ingress port and stamps the VNI as metadata
// - ACCESS: direct access and isolation between networks
// - IN_SERVICE: local service handling for non-IPv4 or unverified traffic
// - DST: destination routing, local output or tunnel egress
// - TUNNEL_IN: tunnel decapsulation to local ports
//
// A rule is identified by its device, table, priority and selector. Executors
// are idempotent per identity: installing twice yields one rule and removing
// an absent rule is a no-op.
//
// Reference: OpenFlow 1.3 match fields and instructions
package pipeline

import (
	"fmt"
	"net"
	"strings"

	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

// EthTypeIPv4 is the ethertype of IPv4 packets
const EthTypeIPv4 uint16 = 0x0800

// Selector is the match part of a flow rule. Zero fields are wildcards;
// port numbers, tunnel ids and metadata are never zero in this pipeline.
type Selector struct {
	InPort   uint32
	EthType  uint16
	IPSrc    *net.IPNet
	IPDst    *net.IPNet
	EthDst   net.HardwareAddr
	TunnelID uint64
	Metadata uint64
}

// TunnelDst carries the encapsulation parameters of a remote node
type TunnelDst struct {
	// IP is the data plane IP of the remote tunnel endpoint
	IP net.IP
}

func (t *TunnelDst) String() string {
	if t == nil {
		return ""
	}
	return t.IP.String()
}

// Treatment is the action part of a flow rule. Zero fields are unset.
type Treatment struct {
	// WriteMetadata writes the value under MetadataMask
	WriteMetadata uint64
	MetadataMask  uint64

	// Transition jumps to another table. 0 means no jump; the pipeline never
	// jumps back to the IN_PORT table.
	Transition int

	EthDst    net.HardwareAddr
	TunnelID  uint64
	TunnelDst *TunnelDst
	Output    uint32
	Drop      bool
}

// FlowRule is a fully specified forwarding table entry
type FlowRule struct {
	DeviceID  string
	Table     int
	Priority  int
	Selector  Selector
	Treatment Treatment
	AppID     string
	Permanent bool
}

// String renders the selector in ovs-ofctl match syntax
func (s Selector) String() string {
	var parts []string
	if s.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", s.InPort))
	}
	if s.EthType != 0 {
		parts = append(parts, fmt.Sprintf("dl_type=0x%04x", s.EthType))
	}
	if s.IPSrc != nil {
		parts = append(parts, "nw_src="+s.IPSrc.String())
	}
	if s.IPDst != nil {
		parts = append(parts, "nw_dst="+s.IPDst.String())
	}
	if len(s.EthDst) != 0 {
		parts = append(parts, "dl_dst="+util.MACKey(s.EthDst))
	}
	if s.TunnelID != 0 {
		parts = append(parts, fmt.Sprintf("tun_id=0x%x", s.TunnelID))
	}
	if s.Metadata != 0 {
		parts = append(parts, fmt.Sprintf("metadata=0x%x", s.Metadata))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

// String renders the treatment in ovs-ofctl action syntax
func (t Treatment) String() string {
	if t.Drop {
		return "drop"
	}
	var parts []string
	if t.MetadataMask != 0 {
		parts = append(parts, fmt.Sprintf("write_metadata:0x%x/0x%x", t.WriteMetadata, t.MetadataMask))
	}
	if len(t.EthDst) != 0 {
		parts = append(parts, fmt.Sprintf("set_field:%s->eth_dst", util.MACKey(t.EthDst)))
	}
	if t.TunnelID != 0 {
		parts = append(parts, fmt.Sprintf("set_field:0x%x->tun_id", t.TunnelID))
	}
	if t.TunnelDst != nil {
		parts = append(parts, fmt.Sprintf("set_field:%s->tun_dst", t.TunnelDst))
	}
	if t.Output != 0 {
		parts = append(parts, fmt.Sprintf("output:%d", t.Output))
	}
	if t.Transition != 0 {
		parts = append(parts, fmt.Sprintf("goto_table:%d", t.Transition))
	}
	return strings.Join(parts, ",")
}

// Key returns the identity of the rule: device, table, priority and selector
func (r FlowRule) Key() string {
	return fmt.Sprintf("%s/table=%d/priority=%d/%s", r.DeviceID, r.Table, r.Priority, r.Selector)
}

func (r FlowRule) String() string {
	return fmt.Sprintf("%s actions=%s", r.Key(), r.Treatment)
}

// Executor applies flow rules to fabric nodes. Calls do not wait for the
// rule to reach the node.
type Executor interface {
	ProcessFlowRule(install bool, rule FlowRule)
}
