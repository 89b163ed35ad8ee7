package feed

import (
	"context"
	"testing"

	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

func TestLoadSnapshot(t *testing.T) {
	snap, err := LoadSnapshot("testdata/snapshot.yaml")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	ctx := context.Background()

	networks, err := snap.Networks(ctx)
	if err != nil || len(networks) != 2 {
		t.Fatalf("Networks() = %d, %v", len(networks), err)
	}
	if networks[1].SegmentationID != 300 {
		t.Errorf("net-2 segmentationId = %d, want 300", networks[1].SegmentationID)
	}

	subnets, _ := snap.Subnets(ctx)
	if len(subnets) != 2 || subnets[0].CIDR.String() != "10.0.0.0/24" || subnets[0].GatewayIP.String() != "10.0.0.1" {
		t.Errorf("unexpected subnets %+v", subnets)
	}

	ports, _ := snap.Ports(ctx)
	if len(ports) != 2 || ports[0].MAC.String() != "fa:16:3e:00:00:01" || ports[0].IP().String() != "10.0.0.5" {
		t.Errorf("unexpected ports %+v", ports)
	}

	serviceNets, _ := snap.ServiceNetworks(ctx)
	if len(serviceNets) != 2 {
		t.Fatalf("ServiceNetworks() = %d, want 2", len(serviceNets))
	}
	if serviceNets[0].Type != model.NetworkTypePrivate {
		t.Errorf("type = %s, want PRIVATE", serviceNets[0].Type)
	}
	if len(serviceNets[0].Providers) != 1 || serviceNets[0].Providers[0].Bandwidth != 100 {
		t.Errorf("unexpected providers %+v", serviceNets[0].Providers)
	}

	servicePorts, _ := snap.ServicePorts(ctx)
	if len(servicePorts) != 1 || servicePorts[0].VlanTag != 222 || len(servicePorts[0].AddressPairs) != 1 {
		t.Errorf("unexpected service ports %+v", servicePorts)
	}

	hosts, _ := snap.Hosts(ctx)
	if len(hosts) != 2 || hosts[0].PortNumber != 3 || hosts[0].Annotations["networkId"] != "net-1" {
		t.Errorf("unexpected hosts %+v", hosts)
	}
	hosts[0].Annotations["networkId"] = "changed"
	again, _ := snap.Hosts(ctx)
	if again[0].Annotations["networkId"] != "net-1" {
		t.Error("snapshot hosts mutated through a returned value")
	}
}

func TestParseSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"ipv6 subnet", "subnets:\n  - id: s\n    networkId: n\n    cidr: fd00::/64\n"},
		{"bad mac", "ports:\n  - id: p\n    networkId: n\n    mac: nope\n"},
		{"bad ip", "ports:\n  - id: p\n    networkId: n\n    mac: fa:16:3e:00:00:01\n    ips: [nope]\n"},
		{"bad type", "serviceNetworks:\n  - id: n\n    type: BOGUS\n"},
		{"bad yaml", "networks: [\n"},
		{"bad host ip", "hosts:\n  - mac: fa:16:3e:00:00:01\n    ip: nope\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSnapshot([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSnapshot_CanceledContext(t *testing.T) {
	snap, err := ParseSnapshot([]byte("networks:\n  - id: net-1\n"))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := snap.Networks(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	snap, err := ParseSnapshot([]byte("networks:\n  - id: net-1\n    name: a\n"))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	first, _ := snap.Networks(context.Background())
	first[0].Name = "changed"
	second, _ := snap.Networks(context.Background())
	if second[0].Name != "a" {
		t.Error("snapshot mutated through a returned value")
	}
}
