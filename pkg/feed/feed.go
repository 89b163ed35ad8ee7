// Package feed defines the clients of the two external feeds of the VTN
// controller and a YAML snapshot implementation of both.
//
// Feeds:
// - Orchestrator: networks, subnets and ports of the cloud orchestrator
// - Intent: service networks and service ports declared by tenants
package feed

import (
	"context"

	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// OrchestratorClient lists the infrastructure model of the cloud orchestrator
type OrchestratorClient interface {
	Networks(ctx context.Context) ([]*model.Network, error)
	Subnets(ctx context.Context) ([]*model.Subnet, error)
	Ports(ctx context.Context) ([]*model.Port, error)
}

// IntentClient lists the tenant intent
type IntentClient interface {
	ServiceNetworks(ctx context.Context) ([]*model.ServiceNetwork, error)
	ServicePorts(ctx context.Context) ([]*model.ServicePort, error)
}
