// Package ovsdb reads the Open_vSwitch database of fabric nodes.
//
// The controller only needs the Interface table: when a node completes its
// onboarding without a configured tunnel port, the ofport of its tunnel
// interface is read from the node's database.
//
// Open_vSwitch Tables used:
// - Interface: name, type and assigned OpenFlow port of each interface
//
// Reference: OVN-Kubernetes pkg/vswitchd/ and pkg/libovsdb/ops/openvswitch.go
package ovsdb

import (
	"github.com/ovn-org/libovsdb/model"
)

// DatabaseName is the schema name of the Open_vSwitch database
const DatabaseName = "Open_vSwitch"

// InterfaceTable is the name of the Interface table
const InterfaceTable = "Interface"

// Interface represents a row of the Open_vSwitch Interface table
//
// Key fields:
// - Name: Interface name, unique within the database
// - Type: "" for system ports, "vxlan"/"geneve" for tunnels, "internal" for bridges
// - Ofport: OpenFlow port number; empty until ovs-vswitchd assigns one, -1 on failure
type Interface struct {
	UUID        string            `ovsdb:"_uuid"`
	Name        string            `ovsdb:"name"`
	Type        string            `ovsdb:"type"`
	Ofport      *int              `ovsdb:"ofport"`
	Options     map[string]string `ovsdb:"options"`
	ExternalIDs map[string]string `ovsdb:"external_ids"`
}

// DatabaseModel returns the client model of the Open_vSwitch tables in use
func DatabaseModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel(DatabaseName, map[string]model.Model{
		InterfaceTable: &Interface{},
	})
}
