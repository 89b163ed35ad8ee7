// Package chain groups service networks with their providers into service
// chains and reports provider bandwidth for the ports attached to them.
//
// Chains are advisory. They never produce forwarding rules and have no
// removal path; a chain only grows as networks declare providers.
//
// Chain layout: a consumer network precedes its providers. Adding a service
// network whose members already sit in two chains merges them into the
// chain holding the consumer.
package chain

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/events"
	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// Overlay is the part of the overlay model the annotator reads
type Overlay interface {
	VtnPorts() []*model.VtnPort
	ServiceNetwork(id model.NetworkID) *model.ServiceNetwork
}

// InstanceResolver finds the live instance attached with a MAC
type InstanceResolver interface {
	Instance(mac net.HardwareAddr) (model.Instance, bool)
}

// DeviceInventory maps port numbers of a device to port names
type DeviceInventory interface {
	Ports(device string) map[uint32]string
}

// Annotation is one bandwidth record produced by TcHelper
type Annotation struct {
	Chain     int
	Network   model.NetworkID
	DeviceID  string
	PortName  string
	Provider  model.NetworkID
	Bandwidth int
}

// Chains tracks the service chains.
//
// Thread Safety: All methods are thread-safe.
type Chains struct {
	vtn     Overlay
	hosts   InstanceResolver
	devices DeviceInventory

	mu     sync.RWMutex
	byNet  map[model.NetworkID]int
	chains map[int][]model.NetworkID
	nextID int
	logger *logging.Logger
}

// New creates an empty chain map
func New(vtn Overlay, hosts InstanceResolver, devices DeviceInventory, logger *logging.Logger) *Chains {
	if logger == nil {
		logger = logging.LoggerForComponent("service-chains")
	}
	return &Chains{
		vtn:     vtn,
		hosts:   hosts,
		devices: devices,
		byNet:   make(map[model.NetworkID]int),
		chains:  make(map[int][]model.NetworkID),
		logger:  logger,
	}
}

// AddInChainmap adds a service network and its providers to a chain and
// returns the id of the chain now holding the network.
//
// A network unknown to every chain starts a new chain. Otherwise the chain
// of the consumer (or the lowest chain touched) absorbs the other chains
// touched and the missing members.
func (c *Chains) AddInChainmap(sn *model.ServiceNetwork) (int, error) {
	if sn == nil || sn.ID == "" {
		return 0, model.NewNullArgumentError("service network")
	}

	c.mu.Lock()
	id := c.addLocked(sn)
	members := len(c.chains[id])
	total := len(c.chains)
	c.mu.Unlock()

	metrics.SetServiceChains(total)
	c.logger.V(1).Info("Service network chained", "network", sn.ID, "chain", id, "members", members)
	return id, nil
}

func (c *Chains) addLocked(sn *model.ServiceNetwork) int {
	touched := make(map[int]bool)
	if id, ok := c.byNet[sn.ID]; ok {
		touched[id] = true
	}
	for _, p := range sn.Providers {
		if id, ok := c.byNet[p.ID]; ok {
			touched[id] = true
		}
	}

	if len(touched) == 0 {
		id := c.nextID
		c.nextID++
		list := []model.NetworkID{sn.ID}
		for _, p := range sn.Providers {
			list = appendUnique(list, p.ID)
		}
		c.chains[id] = list
		for _, n := range list {
			c.byNet[n] = id
		}
		return id
	}

	target, ok := c.byNet[sn.ID]
	if !ok {
		target = lowest(touched)
	}
	list := c.chains[target]
	for _, other := range sortedIDs(touched) {
		if other == target {
			continue
		}
		for _, n := range c.chains[other] {
			list = appendUnique(list, n)
		}
		delete(c.chains, other)
	}

	if indexOf(list, sn.ID) < 0 {
		// the consumer goes right before its first chained provider
		pos := len(list)
		for _, p := range sn.Providers {
			if i := indexOf(list, p.ID); i >= 0 && i < pos {
				pos = i
			}
		}
		list = insertAt(list, pos, sn.ID)
	}
	next := indexOf(list, sn.ID) + 1
	for _, p := range sn.Providers {
		if indexOf(list, p.ID) >= 0 {
			continue
		}
		list = insertAt(list, next, p.ID)
		next++
	}

	c.chains[target] = list
	for _, n := range list {
		c.byNet[n] = target
	}
	return target
}

// ChainOf returns the chain holding a network
func (c *Chains) ChainOf(id model.NetworkID) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.byNet[id]
	return chain, ok
}

// Chains returns a copy of every chain keyed by chain id
func (c *Chains) Chains() map[int][]model.NetworkID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int][]model.NetworkID, len(c.chains))
	for id, list := range c.chains {
		out[id] = append([]model.NetworkID(nil), list...)
	}
	return out
}

// TcHelper walks every chain and reports, for each attached port of each
// member network, the bandwidth of the network's providers.
func (c *Chains) TcHelper(ctx context.Context) []Annotation {
	chains := c.Chains()
	ids := make([]int, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	ports := c.vtn.VtnPorts()
	names := make(map[string]map[uint32]string)
	var out []Annotation

	for _, id := range ids {
		if ctx.Err() != nil {
			return out
		}
		for _, netID := range chains[id] {
			sn := c.vtn.ServiceNetwork(netID)
			if sn == nil || len(sn.Providers) == 0 {
				continue
			}
			for _, port := range ports {
				if port.NetworkID != netID {
					continue
				}
				inst, ok := c.hosts.Instance(port.MAC)
				if !ok {
					continue
				}
				byNumber, ok := names[inst.DeviceID]
				if !ok {
					byNumber = c.devices.Ports(inst.DeviceID)
					names[inst.DeviceID] = byNumber
				}
				for _, p := range sn.Providers {
					a := Annotation{
						Chain:     id,
						Network:   netID,
						DeviceID:  inst.DeviceID,
						PortName:  byNumber[inst.PortNumber],
						Provider:  p.ID,
						Bandwidth: p.Bandwidth,
					}
					c.logger.Info("Provider bandwidth",
						"chain", a.Chain, "deviceId", a.DeviceID, "portName", a.PortName,
						"provider", a.Provider, "bandwidth", a.Bandwidth)
					out = append(out, a)
				}
			}
		}
	}
	return out
}

// Event implements events.Listener. Service networks declaring providers
// are chained as they are created or updated.
func (c *Chains) Event(ev events.Event) {
	ne, ok := ev.(events.VtnNetworkEvent)
	if !ok || ne.Network == nil || len(ne.Network.Providers) == 0 {
		return
	}
	if ne.Type != events.VtnNetworkCreated && ne.Type != events.VtnNetworkUpdated {
		return
	}
	if _, err := c.AddInChainmap(ne.Network.ServiceNetwork()); err != nil {
		c.logger.Error(err, "Failed to chain service network", "network", ne.Network.ID)
	}
}

func indexOf(list []model.NetworkID, id model.NetworkID) int {
	for i, n := range list {
		if n == id {
			return i
		}
	}
	return -1
}

func appendUnique(list []model.NetworkID, id model.NetworkID) []model.NetworkID {
	if indexOf(list, id) >= 0 {
		return list
	}
	return append(list, id)
}

func insertAt(list []model.NetworkID, pos int, id model.NetworkID) []model.NetworkID {
	list = append(list, "")
	copy(list[pos+1:], list[pos:])
	list[pos] = id
	return list
}

func lowest(ids map[int]bool) int {
	return sortedIDs(ids)[0]
}

func sortedIDs(ids map[int]bool) []int {
	out := make([]int, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
