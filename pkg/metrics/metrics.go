// Package metrics provides Prometheus metrics for the VTN controller.
//
// This package exposes:
// - Store mutation counts per entity and operation (success/failure)
// - Full resync duration per phase
// - Flow rule install/uninstall counts per table, executor retries and queue depth
// - Attached instances, service chains, complete nodes and assigned segments
// - OVSDB connection status
//
// Metrics are registered in the controller-runtime metrics registry and
// served by the controller's metrics endpoint.
//
// Reference: OVN-Kubernetes pkg/metrics/
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// Namespace is the Prometheus metrics namespace
	Namespace = "zstack_vtn"

	// Subsystem names for different metric categories
	SubsystemStore    = "store"
	SubsystemManager  = "manager"
	SubsystemPipeline = "pipeline"
	SubsystemHandler  = "handler"
	SubsystemChain    = "chain"
	SubsystemOVSDB    = "ovsdb"
	SubsystemNode     = "node"
)

var (
	// registerOnce ensures metrics are registered only once
	registerOnce sync.Once

	// ---- Store Metrics ----

	// StoreMutationTotal counts store mutations
	// Labels: entity (network/subnet/port/service_network/service_port), operation, result
	StoreMutationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "mutation_total",
			Help:      "Total number of store mutations",
		},
		[]string{"entity", "operation", "result"},
	)

	// SegmentsAssigned tracks the number of networks holding a VNI
	SegmentsAssigned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "segments_assigned",
			Help:      "Number of networks holding a segment id",
		},
	)

	// ---- Manager Metrics ----

	// SyncDuration measures full resync phases
	// Labels: phase (infrastructure/intent), result (success/failure)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemManager,
			Name:      "sync_duration_seconds",
			Help:      "Time taken by a full resync phase in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"phase", "result"},
	)

	// ---- Pipeline Metrics ----

	// FlowRuleTotal counts flow rule operations handed to the executor
	// Labels: table, operation (install/uninstall)
	FlowRuleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPipeline,
			Name:      "flow_rule_total",
			Help:      "Total number of flow rule operations",
		},
		[]string{"table", "operation"},
	)

	// FlowRuleApplyTotal counts sink applications by the async executor
	// Labels: result (success/failure/requeue)
	FlowRuleApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPipeline,
			Name:      "apply_total",
			Help:      "Total number of flow rule applications by the executor",
		},
		[]string{"result"},
	)

	// ExecutorQueueDepth tracks pending flow rule operations
	ExecutorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemPipeline,
			Name:      "queue_depth",
			Help:      "Number of flow rule operations waiting in the executor queue",
		},
	)

	// ---- Handler Metrics ----

	// AttachedInstances tracks instances with installed rules
	AttachedInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHandler,
			Name:      "attached_instances",
			Help:      "Number of instances with installed flow rules",
		},
	)

	// InstanceEventTotal counts attach/detach events
	// Labels: event (detected/removed), result (success/failure)
	InstanceEventTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHandler,
			Name:      "instance_event_total",
			Help:      "Total number of instance events handled",
		},
		[]string{"event", "result"},
	)

	// ---- Chain Metrics ----

	// ServiceChains tracks the number of service chains
	ServiceChains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemChain,
			Name:      "chains",
			Help:      "Number of service chains",
		},
	)

	// ---- Node Metrics ----

	// CompleteNodes tracks fabric nodes in the COMPLETE state
	CompleteNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemNode,
			Name:      "complete",
			Help:      "Number of fabric nodes ready to receive flow rules",
		},
	)

	// ---- OVSDB Metrics ----

	// OVSDBConnectionStatus indicates the connection status to the local Open_vSwitch database
	// Value: 1 = connected, 0 = disconnected
	OVSDBConnectionStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemOVSDB,
			Name:      "connection_status",
			Help:      "Open_vSwitch database connection status (1=connected, 0=disconnected)",
		},
	)
)

// Register registers all metrics with the controller-runtime metrics registry.
// This function is safe to call multiple times; metrics will only be registered once.
func Register() {
	registerOnce.Do(func() {
		metrics.Registry.MustRegister(StoreMutationTotal)
		metrics.Registry.MustRegister(SegmentsAssigned)

		metrics.Registry.MustRegister(SyncDuration)

		metrics.Registry.MustRegister(FlowRuleTotal)
		metrics.Registry.MustRegister(FlowRuleApplyTotal)
		metrics.Registry.MustRegister(ExecutorQueueDepth)

		metrics.Registry.MustRegister(AttachedInstances)
		metrics.Registry.MustRegister(InstanceEventTotal)

		metrics.Registry.MustRegister(ServiceChains)

		metrics.Registry.MustRegister(CompleteNodes)

		metrics.Registry.MustRegister(OVSDBConnectionStatus)
	})
}
