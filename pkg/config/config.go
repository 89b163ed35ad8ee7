// Package config provides configuration management for the VTN controller.
//
// This package handles:
// - Configuration file parsing (YAML/JSON)
// - Environment variable overrides
// - Configuration validation
//
// Configuration Priority (highest to lowest):
// 1. Environment variables (VTN_*)
// 2. Configuration file
// 3. Default values
//
// Reference: OVN-Kubernetes pkg/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

// Node onboarding states accepted in NodeConfig.State
const (
	NodeStateInit          = "INIT"
	NodeStateBridgeCreated = "BRIDGE_CREATED"
	NodeStatePortsAdded    = "PORTS_ADDED"
	NodeStateComplete      = "COMPLETE"
)

// Flow rule executor modes
const (
	// ExecutorTable applies rules synchronously to the in-memory flow table
	ExecutorTable = "table"

	// ExecutorAsync queues rules and applies them from worker goroutines
	ExecutorAsync = "async"
)

// Config is the global configuration structure
type Config struct {
	// Orchestrator contains the infrastructure feed settings
	Orchestrator FeedConfig `json:"orchestrator" yaml:"orchestrator"`

	// Intent contains the tenant intent feed settings
	Intent FeedConfig `json:"intent" yaml:"intent"`

	// Pipeline contains flow rule execution settings
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Tunnel contains tunnel configuration
	Tunnel TunnelConfig `json:"tunnel" yaml:"tunnel"`

	// Segment contains the VNI pool configuration
	Segment SegmentConfig `json:"segment" yaml:"segment"`

	// Nodes lists the fabric nodes known at startup
	Nodes []NodeConfig `json:"nodes" yaml:"nodes"`

	// OVSDB contains the local Open_vSwitch database settings
	OVSDB OVSDBConfig `json:"ovsdb" yaml:"ovsdb"`

	// Metrics contains the metrics endpoint settings
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging contains logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// FeedConfig describes where a feed reads its records from
type FeedConfig struct {
	// SnapshotFile is a YAML document holding the feed records
	SnapshotFile string `json:"snapshotFile" yaml:"snapshotFile"`

	// SyncTimeout bounds one full read of the feed
	// Default: 30s
	SyncTimeout time.Duration `json:"syncTimeout" yaml:"syncTimeout"`
}

// PipelineConfig contains flow rule execution settings
type PipelineConfig struct {
	// Executor is "table" or "async"
	// Default: "async"
	Executor string `json:"executor" yaml:"executor"`

	// Workers is the number of executor goroutines
	// Default: 2
	Workers int `json:"workers" yaml:"workers"`

	// MaxRequeues bounds how often a failing rule is requeued
	// Default: 5
	MaxRequeues int `json:"maxRequeues" yaml:"maxRequeues"`

	// RetryInterval is the initial in-place retry interval
	// Default: 100ms
	RetryInterval time.Duration `json:"retryInterval" yaml:"retryInterval"`

	// MaxRetries bounds the in-place retries of one attempt
	// Default: 3
	MaxRetries uint64 `json:"maxRetries" yaml:"maxRetries"`
}

// TunnelConfig contains tunnel configuration
type TunnelConfig struct {
	// Type is the tunnel type: "vxlan" or "geneve"
	// Default: "vxlan"
	Type string `json:"type" yaml:"type"`

	// Port is the UDP port for tunnel traffic
	// Default: 4789 for VXLAN, 6081 for Geneve
	Port int `json:"port" yaml:"port"`

	// Interface is the OVS interface carrying overlay traffic on br-int
	// Default: "vxlan"
	Interface string `json:"interface" yaml:"interface"`
}

// SegmentConfig contains the VNI pool configuration
type SegmentConfig struct {
	// Base is the first VNI of the pool
	// Default: 1
	Base uint32 `json:"base" yaml:"base"`

	// PoolSize is the number of VNIs in the pool
	// Default: 4096
	PoolSize uint32 `json:"poolSize" yaml:"poolSize"`
}

// NodeConfig describes one fabric node
type NodeConfig struct {
	// Hostname is the node name
	Hostname string `json:"hostname" yaml:"hostname"`

	// IntegrationBridgeID is the device id of the node's br-int
	// Example: "of:0000000000000001"
	IntegrationBridgeID string `json:"integrationBridgeId" yaml:"integrationBridgeId"`

	// DataIP is the data plane IP used as tunnel endpoint
	DataIP string `json:"dataIp" yaml:"dataIp"`

	// TunnelPort is the ofport of the tunnel interface. 0 means discover it
	// through OVSDB.
	TunnelPort uint32 `json:"tunnelPort" yaml:"tunnelPort"`

	// State is the initial onboarding state
	// Default: "INIT"
	State string `json:"state" yaml:"state"`

	// Ports maps port numbers to interface names on br-int
	Ports map[uint32]string `json:"ports" yaml:"ports"`
}

// OVSDBConfig contains the Open_vSwitch database connection settings
type OVSDBConfig struct {
	// Enabled turns on tunnel port discovery
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Address is the database endpoint
	// Format: unix:PATH, tcp:IP:PORT or ssl:IP:PORT
	// Default: "unix:/var/run/openvswitch/db.sock"
	Address string `json:"address" yaml:"address"`

	// NodePort, when set, makes the controller reach each node's database at
	// tcp:<dataIp>:<NodePort> instead of Address
	NodePort int `json:"nodePort" yaml:"nodePort"`

	// TxnTimeout bounds one database query
	// Default: 10s
	TxnTimeout time.Duration `json:"txnTimeout" yaml:"txnTimeout"`

	// SSL contains SSL/TLS configuration for secure connections
	SSL SSLConfig `json:"ssl" yaml:"ssl"`

	// ConnectTimeout is the timeout for initial connection
	// Default: 30s
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`

	// ReconnectInterval is the initial interval between reconnection attempts
	// Default: 1s
	ReconnectInterval time.Duration `json:"reconnectInterval" yaml:"reconnectInterval"`

	// MaxReconnectInterval is the maximum interval between reconnection attempts
	// Default: 60s
	MaxReconnectInterval time.Duration `json:"maxReconnectInterval" yaml:"maxReconnectInterval"`
}

// SSLConfig contains SSL/TLS configuration
type SSLConfig struct {
	// Enabled indicates whether SSL is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CACert is the path to the CA certificate file
	CACert string `json:"caCert" yaml:"caCert"`

	// ClientCert is the path to the client certificate file
	ClientCert string `json:"clientCert" yaml:"clientCert"`

	// ClientKey is the path to the client private key file
	ClientKey string `json:"clientKey" yaml:"clientKey"`
}

// MetricsConfig contains the metrics endpoint settings
type MetricsConfig struct {
	// BindAddress is the listen address of /metrics. Empty disables it.
	// Default: ":9090"
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `json:"format" yaml:"format"`

	// File is the log file path (optional)
	// If empty, logs to stdout
	File string `json:"file" yaml:"file"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: FeedConfig{SyncTimeout: 30 * time.Second},
		Intent:       FeedConfig{SyncTimeout: 30 * time.Second},
		Pipeline: PipelineConfig{
			Executor:      ExecutorAsync,
			Workers:       2,
			MaxRequeues:   5,
			RetryInterval: 100 * time.Millisecond,
			MaxRetries:    3,
		},
		Tunnel: TunnelConfig{
			Type:      types.TunnelTypeVXLAN,
			Port:      types.DefaultVXLANPort,
			Interface: types.DefaultTunnelInterface,
		},
		Segment: SegmentConfig{
			Base:     types.MinSegmentID,
			PoolSize: types.DefaultSegmentPoolSize,
		},
		OVSDB: OVSDBConfig{
			Address:              "unix:/var/run/openvswitch/db.sock",
			TxnTimeout:           10 * time.Second,
			ConnectTimeout:       30 * time.Second,
			ReconnectInterval:    1 * time.Second,
			MaxReconnectInterval: 60 * time.Second,
		},
		Metrics: MetricsConfig{BindAddress: ":9090"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
//
// Configuration is loaded in the following order:
// 1. Default values
// 2. Configuration file (path argument, or VTN_CONFIG_FILE when empty)
// 3. Environment variable overrides
//
// Returns:
//   - *Config: Loaded configuration
//   - error: Loading or validation error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("VTN_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// YAML also handles JSON since YAML is a superset
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration
//
// Examples:
//   - VTN_ORCHESTRATOR_SNAPSHOT=/etc/vtn/orchestrator.yaml
//   - VTN_INTENT_SNAPSHOT=/etc/vtn/intent.yaml
//   - VTN_EXECUTOR=table
//   - VTN_EXECUTOR_WORKERS=4
//   - VTN_TUNNEL_TYPE=geneve
//   - VTN_TUNNEL_PORT=6081
//   - VTN_SEGMENT_BASE=100
//   - VTN_SEGMENT_POOL_SIZE=1024
//   - VTN_OVSDB_ENABLED=true
//   - VTN_OVSDB_ADDRESS=tcp:127.0.0.1:6640
//   - VTN_METRICS_BIND_ADDRESS=:8080
//   - VTN_LOG_LEVEL=debug
func (c *Config) ApplyEnvOverrides() {
	// Feed settings
	if v := os.Getenv("VTN_ORCHESTRATOR_SNAPSHOT"); v != "" {
		c.Orchestrator.SnapshotFile = v
	}
	if v := os.Getenv("VTN_INTENT_SNAPSHOT"); v != "" {
		c.Intent.SnapshotFile = v
	}

	// Pipeline settings
	if v := os.Getenv("VTN_EXECUTOR"); v != "" {
		c.Pipeline.Executor = v
	}
	if v := os.Getenv("VTN_EXECUTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Workers = n
		}
	}

	// Tunnel settings
	if v := os.Getenv("VTN_TUNNEL_TYPE"); v != "" {
		c.Tunnel.Type = v
	}
	if v := os.Getenv("VTN_TUNNEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Tunnel.Port = port
		}
	}

	// Segment settings
	if v := os.Getenv("VTN_SEGMENT_BASE"); v != "" {
		if base, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Segment.Base = uint32(base)
		}
	}
	if v := os.Getenv("VTN_SEGMENT_POOL_SIZE"); v != "" {
		if size, err := strconv.ParseUint(v, 10, 32); err == nil {
			c.Segment.PoolSize = uint32(size)
		}
	}

	// OVSDB settings
	if v := os.Getenv("VTN_OVSDB_ENABLED"); v != "" {
		c.OVSDB.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("VTN_OVSDB_ADDRESS"); v != "" {
		c.OVSDB.Address = v
	}
	if v := os.Getenv("VTN_OVSDB_SSL_ENABLED"); v != "" {
		c.OVSDB.SSL.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("VTN_OVSDB_SSL_CA_CERT"); v != "" {
		c.OVSDB.SSL.CACert = v
	}
	if v := os.Getenv("VTN_OVSDB_SSL_CLIENT_CERT"); v != "" {
		c.OVSDB.SSL.ClientCert = v
	}
	if v := os.Getenv("VTN_OVSDB_SSL_CLIENT_KEY"); v != "" {
		c.OVSDB.SSL.ClientKey = v
	}

	if v := os.Getenv("VTN_METRICS_BIND_ADDRESS"); v != "" {
		c.Metrics.BindAddress = v
	}

	// Logging settings
	if v := os.Getenv("VTN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VTN_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate validates the configuration
//
// Returns:
//   - error: Validation error listing every problem found
func (c *Config) Validate() error {
	var errors []string

	// Validate pipeline
	if c.Pipeline.Executor != ExecutorTable && c.Pipeline.Executor != ExecutorAsync {
		errors = append(errors, fmt.Sprintf("invalid executor: %s (must be 'table' or 'async')", c.Pipeline.Executor))
	}
	if c.Pipeline.Executor == ExecutorAsync && c.Pipeline.Workers < 1 {
		errors = append(errors, fmt.Sprintf("invalid executor workers: %d (must be >= 1)", c.Pipeline.Workers))
	}

	// Validate tunnel
	if c.Tunnel.Type != types.TunnelTypeVXLAN && c.Tunnel.Type != types.TunnelTypeGeneve {
		errors = append(errors, fmt.Sprintf("invalid tunnel type: %s (must be 'vxlan' or 'geneve')", c.Tunnel.Type))
	}
	if c.Tunnel.Port < 0 || c.Tunnel.Port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid tunnel port: %d (must be 0-65535)", c.Tunnel.Port))
	}

	// Validate segment pool
	if c.Segment.Base < types.MinSegmentID {
		errors = append(errors, fmt.Sprintf("invalid segment base: %d (must be >= %d)", c.Segment.Base, types.MinSegmentID))
	}
	if c.Segment.PoolSize == 0 {
		errors = append(errors, "segment pool size must be > 0")
	} else if uint64(c.Segment.Base)+uint64(c.Segment.PoolSize)-1 > types.MaxSegmentID {
		errors = append(errors, fmt.Sprintf("segment pool [%d, +%d) exceeds max VNI %d",
			c.Segment.Base, c.Segment.PoolSize, types.MaxSegmentID))
	}

	errors = append(errors, c.validateNodes()...)

	// Validate OVSDB
	if c.OVSDB.Enabled && c.OVSDB.NodePort == 0 {
		if err := validateDBAddressFormat(c.OVSDB.Address); err != nil {
			errors = append(errors, fmt.Sprintf("invalid OVSDB address: %v", err))
		}
	}
	if c.OVSDB.NodePort < 0 || c.OVSDB.NodePort > 65535 {
		errors = append(errors, fmt.Sprintf("invalid OVSDB node port: %d (must be 0-65535)", c.OVSDB.NodePort))
	}
	if c.OVSDB.SSL.Enabled {
		if c.OVSDB.SSL.CACert == "" {
			errors = append(errors, "SSL CA certificate path is required when SSL is enabled")
		}
		if c.OVSDB.SSL.ClientCert == "" {
			errors = append(errors, "SSL client certificate path is required when SSL is enabled")
		}
		if c.OVSDB.SSL.ClientKey == "" {
			errors = append(errors, "SSL client key path is required when SSL is enabled")
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level))
	}

	// Validate log format
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errors = append(errors, fmt.Sprintf("invalid log format: %s (must be 'json' or 'text')", c.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) validateNodes() []string {
	var errors []string
	hosts := make(map[string]bool, len(c.Nodes))
	bridges := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Hostname == "" {
			errors = append(errors, fmt.Sprintf("nodes[%d]: hostname is required", i))
		} else if hosts[n.Hostname] {
			errors = append(errors, fmt.Sprintf("nodes[%d]: duplicate hostname %s", i, n.Hostname))
		}
		hosts[n.Hostname] = true

		if n.IntegrationBridgeID == "" {
			errors = append(errors, fmt.Sprintf("nodes[%d]: integrationBridgeId is required", i))
		} else if bridges[n.IntegrationBridgeID] {
			errors = append(errors, fmt.Sprintf("nodes[%d]: duplicate integrationBridgeId %s", i, n.IntegrationBridgeID))
		}
		bridges[n.IntegrationBridgeID] = true

		if n.DataIP != "" {
			if ip := net.ParseIP(n.DataIP); ip == nil || ip.To4() == nil {
				errors = append(errors, fmt.Sprintf("nodes[%d]: invalid dataIp %s", i, n.DataIP))
			}
		}

		switch n.State {
		case "", NodeStateInit, NodeStateBridgeCreated, NodeStatePortsAdded, NodeStateComplete:
		default:
			errors = append(errors, fmt.Sprintf("nodes[%d]: invalid state %s", i, n.State))
		}
	}
	return errors
}

// validateDBAddressFormat validates the format of an OVSDB address
func validateDBAddressFormat(address string) error {
	if address == "" {
		return fmt.Errorf("address is empty")
	}

	// Support multiple addresses separated by commas
	for _, addr := range strings.Split(address, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		if !strings.HasPrefix(addr, "tcp:") &&
			!strings.HasPrefix(addr, "ssl:") &&
			!strings.HasPrefix(addr, "unix:") {
			return fmt.Errorf("invalid address scheme: %s (must be tcp:, ssl:, or unix:)", addr)
		}

		// For tcp: and ssl:, validate IP:PORT format
		if strings.HasPrefix(addr, "tcp:") || strings.HasPrefix(addr, "ssl:") {
			hostPort := strings.TrimPrefix(addr, "tcp:")
			hostPort = strings.TrimPrefix(hostPort, "ssl:")

			if !strings.Contains(hostPort, ":") {
				return fmt.Errorf("invalid address format: %s (expected IP:PORT)", addr)
			}
		}
	}

	return nil
}

// TunnelPortOrDefault returns the configured tunnel UDP port or the default
// of the tunnel type
func (c *Config) TunnelPortOrDefault() int {
	if c.Tunnel.Port != 0 {
		return c.Tunnel.Port
	}
	if c.Tunnel.Type == types.TunnelTypeGeneve {
		return types.DefaultGenevePort
	}
	return types.DefaultVXLANPort
}

// UseAsyncExecutor returns true if rules go through the async executor
func (c *Config) UseAsyncExecutor() bool {
	return c.Pipeline.Executor == ExecutorAsync
}
