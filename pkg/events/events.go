// Package events provides the overlay change notifications of the VTN
// controller and the registry that fans them out.
//
// Event families:
// - VtnNetworkEvent: a service network was created, updated or removed
// - VtnPortEvent: a service port was created, updated or removed
// - NodeEvent: a fabric node changed onboarding state
//
// Delivery is synchronous, in registration order, on the publisher's goroutine.
//
// Usage:
//
//	reg := events.NewRegistry()
//	id := reg.Add(events.ListenerFunc(func(ev events.Event) { ... }))
//	reg.Publish(events.VtnNetworkEvent{Type: events.VtnNetworkCreated, Network: n})
//	reg.Remove(id)
package events

import (
	"fmt"

	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// Type tags an event
type Type string

// Overlay event types
const (
	VtnNetworkCreated Type = "VTN_NETWORK_CREATED"
	VtnNetworkUpdated Type = "VTN_NETWORK_UPDATED"
	VtnNetworkRemoved Type = "VTN_NETWORK_REMOVED"

	VtnPortCreated Type = "VTN_PORT_CREATED"
	VtnPortUpdated Type = "VTN_PORT_UPDATED"
	VtnPortRemoved Type = "VTN_PORT_REMOVED"
)

// Node event types
const (
	NodeCreated    Type = "NODE_CREATED"
	NodeUpdated    Type = "NODE_UPDATED"
	NodeRemoved    Type = "NODE_REMOVED"
	NodeComplete   Type = "NODE_COMPLETE"
	NodeIncomplete Type = "NODE_INCOMPLETE"
)

// Event is implemented by every notification published through a Registry
type Event interface {
	// EventType returns the tag of the event
	EventType() Type

	// Subject returns the id of the entity the event is about
	Subject() string
}

// VtnNetworkEvent reports a change of a VTN network
type VtnNetworkEvent struct {
	Type    Type
	Network *model.VtnNetwork
}

func (e VtnNetworkEvent) EventType() Type { return e.Type }

func (e VtnNetworkEvent) Subject() string {
	if e.Network == nil {
		return ""
	}
	return e.Network.ID.String()
}

func (e VtnNetworkEvent) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Subject())
}

// VtnPortEvent reports a change of a VTN port
type VtnPortEvent struct {
	Type Type
	Port *model.VtnPort
}

func (e VtnPortEvent) EventType() Type { return e.Type }

func (e VtnPortEvent) Subject() string {
	if e.Port == nil {
		return ""
	}
	return e.Port.ID.String()
}

func (e VtnPortEvent) String() string {
	return fmt.Sprintf("%s %s", e.Type, e.Subject())
}

// NodeEvent reports a change of a fabric node
type NodeEvent struct {
	Type     Type
	Hostname string
	DeviceID string
	State    string
}

func (e NodeEvent) EventType() Type { return e.Type }

func (e NodeEvent) Subject() string { return e.Hostname }

func (e NodeEvent) String() string {
	return fmt.Sprintf("%s %s(%s) state=%s", e.Type, e.Hostname, e.DeviceID, e.State)
}
