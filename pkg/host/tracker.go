// Package host tracks the workload instances attached to fabric nodes and
// dispatches attach/detach notifications to instance handlers.
//
// The Tracker is the instance resolver of the controller: given a MAC it
// answers where the workload is attached. Handlers subscribe per network
// type; an instance is dispatched to every handler whose NetworkTypes
// contain the type of the instance's network.
//
// Usage:
//
//	tracker := host.NewTracker(mgr, logger)
//	tracker.AddHandler(h)
//	err := tracker.HostDetected(inst)
package host

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

// InstanceHandler reacts to instances appearing and disappearing
type InstanceHandler interface {
	// NetworkTypes returns the network types the handler serves
	NetworkTypes() []model.NetworkType

	// InstanceDetected is called after an instance attached
	InstanceDetected(inst model.Instance) error

	// InstanceRemoved is called after an instance detached
	InstanceRemoved(inst model.Instance) error
}

// NetworkTypeResolver resolves the network type of a network
type NetworkTypeResolver interface {
	NetworkType(id model.NetworkID) (model.NetworkType, bool)
}

// AttachGuard keeps port removal out while an attachment is recorded.
// GuardAttach blocks until no removal is in progress and holds removals off
// until release is called.
type AttachGuard interface {
	GuardAttach() (release func())
}

// Tracker keeps the live attachment table and dispatches instance events.
//
// Thread Safety: All methods are thread-safe. Handlers are invoked without
// the tracker lock held; events for one MAC are dispatched in the order the
// table changed.
type Tracker struct {
	mu        sync.RWMutex
	instances map[string]model.Instance

	macMu    sync.Mutex
	macLocks map[string]*macLock

	handlersMu sync.RWMutex
	handlers   []InstanceHandler
	guard      AttachGuard

	networks NetworkTypeResolver
	logger   *logging.Logger
}

// NewTracker creates an empty tracker. networks may be nil, in which case
// the network type carried by each instance is trusted.
func NewTracker(networks NetworkTypeResolver, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.LoggerForComponent("host-tracker")
	}
	return &Tracker{
		instances: make(map[string]model.Instance),
		macLocks:  make(map[string]*macLock),
		networks:  networks,
		logger:    logger,
	}
}

// AddHandler registers an instance handler
func (t *Tracker) AddHandler(h InstanceHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.handlers = append(t.handlers, h)
}

// SetAttachGuard sets the guard taken while an attachment is recorded
func (t *Tracker) SetAttachGuard(g AttachGuard) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	t.guard = g
}

// RemoveHandler drops an instance handler
func (t *Tracker) RemoveHandler(h InstanceHandler) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	for i, cur := range t.handlers {
		if cur == h {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Instance returns the live instance with the given MAC
func (t *Tracker) Instance(mac net.HardwareAddr) (model.Instance, bool) {
	if len(mac) == 0 {
		return model.Instance{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.instances[util.MACKey(mac)]
	return inst, ok
}

// Instances returns every live instance ordered by MAC
func (t *Tracker) Instances() []model.Instance {
	t.mu.RLock()
	out := make([]model.Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, inst)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].MAC, out[j].MAC) < 0 })
	return out
}

// Len returns the number of live instances
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.instances)
}

// HostDetected records an attached instance and dispatches it to the
// handlers of its network type. An instance re-detected at another
// location is first removed from its old one.
//
// Returns:
//   - NullArgumentError for an instance missing its MAC, device, port or network
//   - ResolutionError if the network type cannot be resolved
//   - the first handler error
func (t *Tracker) HostDetected(inst model.Instance) error {
	if err := validate(inst); err != nil {
		return err
	}
	netType, err := t.networkType(inst)
	if err != nil {
		return err
	}
	inst.NetworkType = netType

	key := util.MACKey(inst.MAC)
	unlock := t.lockMAC(key)
	defer unlock()

	release := t.guardAttach()
	t.mu.Lock()
	prev, existed := t.instances[key]
	t.instances[key] = inst
	t.mu.Unlock()
	release()

	logger := logging.LoggerForInstance(t.logger, key, inst.DeviceID, inst.PortNumber)
	if existed {
		if sameLocation(prev, inst) {
			logger.V(1).Info("Instance re-detected at the same location")
			return nil
		}
		logger.Info("Instance moved", "fromDevice", prev.DeviceID, "fromPort", prev.PortNumber)
		if err := t.dispatch(prev, false); err != nil {
			return fmt.Errorf("instance %s: remove from old location: %w", key, err)
		}
	}

	logger.Info("Instance detected", "network", inst.NetworkID, "type", inst.NetworkType)
	if err := t.dispatch(inst, true); err != nil {
		return fmt.Errorf("instance %s: %w", key, err)
	}
	return nil
}

// HostVanished forgets an instance and dispatches its removal. Unknown
// MACs are ignored.
func (t *Tracker) HostVanished(mac net.HardwareAddr) error {
	if len(mac) == 0 {
		return model.NewNullArgumentError("mac")
	}
	key := util.MACKey(mac)
	unlock := t.lockMAC(key)
	defer unlock()

	t.mu.Lock()
	inst, ok := t.instances[key]
	delete(t.instances, key)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	logging.LoggerForInstance(t.logger, key, inst.DeviceID, inst.PortNumber).Info("Instance vanished")
	if err := t.dispatch(inst, false); err != nil {
		return fmt.Errorf("instance %s: %w", key, err)
	}
	return nil
}

// DetectHost turns a discovered host into an instance and records it
func (t *Tracker) DetectHost(h Host) error {
	inst, err := NewInstance(h)
	if err != nil {
		return err
	}
	return t.HostDetected(inst)
}

func (t *Tracker) dispatch(inst model.Instance, detected bool) error {
	t.handlersMu.RLock()
	handlers := make([]InstanceHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.handlersMu.RUnlock()

	for _, h := range handlers {
		if !serves(h, inst.NetworkType) {
			continue
		}
		var err error
		if detected {
			err = h.InstanceDetected(inst)
		} else {
			err = h.InstanceRemoved(inst)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) guardAttach() func() {
	t.handlersMu.RLock()
	g := t.guard
	t.handlersMu.RUnlock()
	if g == nil {
		return func() {}
	}
	return g.GuardAttach()
}

type macLock struct {
	mu   sync.Mutex
	refs int
}

// lockMAC serializes the table update and dispatch of one MAC. Entries are
// dropped once nobody holds or waits for them.
func (t *Tracker) lockMAC(key string) (unlock func()) {
	t.macMu.Lock()
	l, ok := t.macLocks[key]
	if !ok {
		l = &macLock{}
		t.macLocks[key] = l
	}
	l.refs++
	t.macMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.macMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.macLocks, key)
		}
		t.macMu.Unlock()
	}
}

func (t *Tracker) networkType(inst model.Instance) (model.NetworkType, error) {
	if t.networks == nil {
		return inst.NetworkType, nil
	}
	netType, ok := t.networks.NetworkType(inst.NetworkID)
	if !ok {
		return "", model.NewResolutionError(model.KindVtnNetwork, inst.NetworkID.String())
	}
	return netType, nil
}

func serves(h InstanceHandler, netType model.NetworkType) bool {
	for _, t := range h.NetworkTypes() {
		if t == netType {
			return true
		}
	}
	return false
}

func sameLocation(a, b model.Instance) bool {
	return a.DeviceID == b.DeviceID && a.PortNumber == b.PortNumber &&
		a.IP.Equal(b.IP) && a.NetworkID == b.NetworkID && a.Nested == b.Nested
}

func validate(inst model.Instance) error {
	var errs []error
	if len(inst.MAC) == 0 {
		errs = append(errs, model.NewNullArgumentError("mac"))
	}
	if inst.DeviceID == "" {
		errs = append(errs, model.NewNullArgumentError("device id"))
	}
	if inst.PortNumber == 0 {
		errs = append(errs, model.NewNullArgumentError("port number"))
	}
	if inst.NetworkID == "" {
		errs = append(errs, model.NewNullArgumentError("network id"))
	}
	return errors.Join(errs...)
}
