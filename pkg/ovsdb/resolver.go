package ovsdb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/node"
)

// Resolver discovers node tunnel ports through OVSDB. It implements
// node.TunnelPortResolver and keeps one client per database endpoint.
type Resolver struct {
	cfg config.OVSDBConfig

	mu      sync.Mutex
	clients map[string]*Client
}

var _ node.TunnelPortResolver = &Resolver{}

// NewResolver creates a resolver for the given database settings
func NewResolver(cfg config.OVSDBConfig) *Resolver {
	return &Resolver{cfg: cfg, clients: make(map[string]*Client)}
}

// Endpoint returns the database address serving a node. With NodePort set
// the node's own database is used, otherwise the configured Address.
func (r *Resolver) Endpoint(n node.Node) (string, error) {
	if r.cfg.NodePort == 0 {
		return r.cfg.Address, nil
	}
	if n.DataIP == nil {
		return "", fmt.Errorf("node %s has no data IP", n.Hostname)
	}
	scheme := "tcp"
	if r.cfg.SSL.Enabled {
		scheme = "ssl"
	}
	return scheme + ":" + net.JoinHostPort(n.DataIP.String(), strconv.Itoa(r.cfg.NodePort)), nil
}

// TunnelPort returns the OpenFlow port of iface on the node's integration bridge
func (r *Resolver) TunnelPort(ctx context.Context, n node.Node, iface string) (uint32, error) {
	address, err := r.Endpoint(n)
	if err != nil {
		return 0, err
	}
	c, err := r.client(ctx, address)
	if err != nil {
		return 0, err
	}
	port, err := c.WaitForOfport(ctx, iface)
	if err != nil {
		return 0, fmt.Errorf("node %s: %w", n.Hostname, err)
	}
	klog.V(2).Infof("Resolved tunnel port %d of %s on node %s", port, iface, n.Hostname)
	return port, nil
}

func (r *Resolver) client(ctx context.Context, address string) (*Client, error) {
	r.mu.Lock()
	c, ok := r.clients[address]
	if !ok {
		c = NewClient(address, r.cfg)
		r.clients[address] = c
	}
	r.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes every client
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, c := range r.clients {
		c.Close()
		delete(r.clients, addr)
	}
}
