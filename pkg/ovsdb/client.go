package ovsdb

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ovn-org/libovsdb/client"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-vtn/pkg/config"
	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
)

// Client is a monitored connection to one Open_vSwitch database.
//
// Thread Safety: All methods are thread-safe.
type Client struct {
	address string
	cfg     config.OVSDBConfig

	mu  sync.RWMutex
	ovs client.Client
}

// NewClient creates a client for the database at address. It does not connect.
func NewClient(address string, cfg config.OVSDBConfig) *Client {
	return &Client{address: address, cfg: cfg}
}

// Address returns the database endpoint
func (c *Client) Address() string {
	return c.address
}

// Connect connects to the database and starts monitoring the tables of
// DatabaseModel. Connection attempts are retried with exponential backoff
// until ConnectTimeout elapses.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: ConnectionError if every attempt failed
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ovs != nil && c.ovs.Connected() {
		return nil
	}

	dbModel, err := DatabaseModel()
	if err != nil {
		return fmt.Errorf("failed to build database model: %w", err)
	}

	logger := klog.Background().WithName("ovsdb").WithValues("address", c.address)
	opts := []client.Option{
		client.WithEndpoint(c.address),
		client.WithLogger(&logger),
		client.WithReconnect(c.txnTimeout(), c.newBackOff(0)),
	}
	if strings.HasPrefix(c.address, "ssl:") {
		tlsConfig, err := c.tlsConfig()
		if err != nil {
			return err
		}
		opts = append(opts, client.WithTLSConfig(tlsConfig))
	}

	ovs, err := client.NewOVSDBClient(dbModel, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OVSDB client for %s: %w", c.address, err)
	}

	klog.Infof("Connecting to OVSDB at %s", c.address)
	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		connectCtx, cancel := context.WithTimeout(ctx, c.txnTimeout())
		defer cancel()
		if err := ovs.Connect(connectCtx); err != nil {
			klog.V(4).Infof("OVSDB connect attempt %d to %s failed: %v", attempts, c.address, err)
			return err
		}
		return nil
	}, backoff.WithContext(c.newBackOff(c.cfg.ConnectTimeout), ctx))
	if err != nil {
		metrics.SetOVSDBConnectionStatus(false)
		return NewConnectionError(c.address, err, attempts-1)
	}

	if _, err := ovs.MonitorAll(ctx); err != nil {
		ovs.Close()
		metrics.SetOVSDBConnectionStatus(false)
		return fmt.Errorf("failed to monitor %s: %w", c.address, err)
	}

	c.ovs = ovs
	metrics.SetOVSDBConnectionStatus(true)
	klog.Infof("Connected to OVSDB at %s", c.address)
	return nil
}

// IsConnected returns true if the client holds a live connection
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ovs != nil && c.ovs.Connected()
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ovs != nil {
		c.ovs.Close()
		c.ovs = nil
		metrics.SetOVSDBConnectionStatus(false)
	}
}

// InterfaceOfport returns the OpenFlow port of an interface from the cache
func (c *Client) InterfaceOfport(ctx context.Context, name string) (uint32, error) {
	c.mu.RLock()
	ovs := c.ovs
	c.mu.RUnlock()
	if ovs == nil {
		return 0, client.ErrNotConnected
	}

	var ifaces []*Interface
	err := ovs.WhereCache(func(i *Interface) bool {
		return i.Name == name
	}).List(ctx, &ifaces)
	if err != nil {
		return 0, fmt.Errorf("failed to list interfaces: %w", err)
	}
	return ofportOf(ifaces, name)
}

// WaitForOfport polls the cache until ovs-vswitchd assigns an OpenFlow
// port to the interface or TxnTimeout elapses
func (c *Client) WaitForOfport(ctx context.Context, name string) (uint32, error) {
	var port uint32
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, 200*time.Millisecond, c.txnTimeout(), true, func(ctx context.Context) (bool, error) {
		p, err := c.InterfaceOfport(ctx, name)
		switch {
		case err == nil:
			port = p
			return true, nil
		case IsNotFound(err), IsPortNotAssigned(err), errors.Is(err, client.ErrNotConnected):
			klog.V(5).Infof("Interface %s not ready on %s: %v", name, c.address, err)
			lastErr = err
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		if lastErr != nil {
			return 0, fmt.Errorf("%w: %v", lastErr, err)
		}
		return 0, err
	}
	return port, nil
}

func (c *Client) txnTimeout() time.Duration {
	if c.cfg.TxnTimeout > 0 {
		return c.cfg.TxnTimeout
	}
	return 10 * time.Second
}

func (c *Client) newBackOff(maxElapsed time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectInterval > 0 {
		b.InitialInterval = c.cfg.ReconnectInterval
	}
	if c.cfg.MaxReconnectInterval > 0 {
		b.MaxInterval = c.cfg.MaxReconnectInterval
	}
	b.MaxElapsedTime = maxElapsed
	return b
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	ssl := c.cfg.SSL
	cert, err := tls.LoadX509KeyPair(ssl.ClientCert, ssl.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	caPEM, err := os.ReadFile(ssl.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", ssl.CACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ofportOf picks the OpenFlow port of the named interface
func ofportOf(ifaces []*Interface, name string) (uint32, error) {
	for _, i := range ifaces {
		if i.Name != name {
			continue
		}
		if i.Ofport == nil {
			return 0, &PortNotAssignedError{Interface: name}
		}
		if *i.Ofport <= 0 {
			return 0, &PortNotAssignedError{Interface: name, Ofport: *i.Ofport}
		}
		return uint32(*i.Ofport), nil
	}
	return 0, NewObjectNotFoundError(InterfaceTable, name)
}
