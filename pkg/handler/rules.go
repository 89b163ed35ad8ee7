package handler

import (
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/node"
	"github.com/jiayi-1994/zstack-vtn/pkg/pipeline"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

// newRule fills the fields shared by every rule the handler owns
func newRule(device string, table, priority int, sel pipeline.Selector, treat pipeline.Treatment) pipeline.FlowRule {
	return pipeline.FlowRule{
		DeviceID:  device,
		Table:     table,
		Priority:  priority,
		Selector:  sel,
		Treatment: treat,
		AppID:     types.AppID,
		Permanent: true,
	}
}

// InPortRules classifies traffic entering from the instance's port. IPv4
// traffic from the instance's own address goes to the access table, anything
// else to the local service table. Both stamp the VNI as metadata.
func InPortRules(inst model.Instance, vni model.SegmentID) []pipeline.FlowRule {
	stamp := func(next int) pipeline.Treatment {
		return pipeline.Treatment{
			WriteMetadata: vni.Uint64(),
			MetadataMask:  types.MetadataMask,
			Transition:    next,
		}
	}
	return []pipeline.FlowRule{
		newRule(inst.DeviceID, types.TableInPort, types.PriorityDefault,
			pipeline.Selector{
				InPort:  inst.PortNumber,
				EthType: pipeline.EthTypeIPv4,
				IPSrc:   util.HostPrefix(inst.IP),
			},
			stamp(types.TableAccess)),
		newRule(inst.DeviceID, types.TableInPort, types.PriorityLow,
			pipeline.Selector{InPort: inst.PortNumber},
			stamp(types.TableInService)),
	}
}

func dstSelector(inst model.Instance, vni model.SegmentID) pipeline.Selector {
	return pipeline.Selector{
		EthType:  pipeline.EthTypeIPv4,
		IPDst:    util.HostPrefix(inst.IP),
		Metadata: vni.Uint64(),
	}
}

// LocalDstRule delivers traffic for the instance on its own node
func LocalDstRule(inst model.Instance, vni model.SegmentID) pipeline.FlowRule {
	return newRule(inst.DeviceID, types.TableDst, types.PriorityDefault,
		dstSelector(inst, vni),
		pipeline.Treatment{EthDst: inst.MAC, Output: inst.PortNumber})
}

// RemoteDstRule tunnels traffic for the instance from a remote node. It
// fails when the remote node's tunnel parameters are not known yet.
func RemoteDstRule(nodes node.Manager, inst model.Instance, vni model.SegmentID, remote node.Node) (pipeline.FlowRule, bool) {
	dataIP, ok := nodes.DataIP(inst.DeviceID)
	if !ok {
		return pipeline.FlowRule{}, false
	}
	tunnelDst, ok := nodes.TunnelDstTreatment(remote.IntegrationBridgeID, dataIP)
	if !ok {
		return pipeline.FlowRule{}, false
	}
	tunnelPort, ok := nodes.TunnelPort(remote.IntegrationBridgeID)
	if !ok {
		return pipeline.FlowRule{}, false
	}
	return newRule(remote.IntegrationBridgeID, types.TableDst, types.PriorityDefault,
		dstSelector(inst, vni),
		pipeline.Treatment{
			EthDst:    inst.MAC,
			TunnelID:  vni.Uint64(),
			TunnelDst: tunnelDst,
			Output:    tunnelPort,
		}), true
}

// TunnelInRule delivers decapsulated traffic to the instance's port
func TunnelInRule(inst model.Instance, vni model.SegmentID) pipeline.FlowRule {
	return newRule(inst.DeviceID, types.TableTunnelIn, types.PriorityDefault,
		pipeline.Selector{TunnelID: vni.Uint64(), EthDst: inst.MAC},
		pipeline.Treatment{Output: inst.PortNumber})
}

// DirectAccessRule lets same-subnet traffic of the network through to the
// destination table on one node
func DirectAccessRule(vtnNet *model.VtnNetwork, device string) pipeline.FlowRule {
	return newRule(device, types.TableAccess, types.PriorityDefault,
		pipeline.Selector{
			EthType:  pipeline.EthTypeIPv4,
			Metadata: vtnNet.SegmentID.Uint64(),
			IPSrc:    vtnNet.Subnet,
			IPDst:    vtnNet.Subnet,
		},
		pipeline.Treatment{Transition: types.TableDst})
}

// IsolationRule drops any other traffic toward the network's subnet on one node
func IsolationRule(vtnNet *model.VtnNetwork, device string) pipeline.FlowRule {
	return newRule(device, types.TableAccess, types.PriorityLow,
		pipeline.Selector{
			EthType: pipeline.EthTypeIPv4,
			IPDst:   vtnNet.Subnet,
		},
		pipeline.Treatment{Drop: true})
}

// NetworkRules returns the direct access and isolation rules of a network
// on each of the given nodes
func NetworkRules(vtnNet *model.VtnNetwork, nodes []node.Node) []pipeline.FlowRule {
	out := make([]pipeline.FlowRule, 0, 2*len(nodes))
	for _, n := range nodes {
		out = append(out, DirectAccessRule(vtnNet, n.IntegrationBridgeID), IsolationRule(vtnNet, n.IntegrationBridgeID))
	}
	return out
}
