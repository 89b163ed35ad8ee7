package metrics

import (
	"strconv"
	"time"
)

// Result constants for metric labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRequeue = "requeue"
)

// Store entity constants
const (
	EntityNetwork        = "network"
	EntitySubnet         = "subnet"
	EntityPort           = "port"
	EntityServiceNetwork = "service_network"
	EntityServicePort    = "service_port"
)

// Operation constants
const (
	OperationCreate    = "create"
	OperationUpdate    = "update"
	OperationRemove    = "remove"
	OperationInstall   = "install"
	OperationUninstall = "uninstall"
)

// Sync phases
const (
	PhaseInfrastructure = "infrastructure"
	PhaseIntent         = "intent"
)

// Instance events
const (
	EventDetected = "detected"
	EventRemoved  = "removed"
)

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting from now
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration returns the duration since the timer was created
func (t *Timer) ObserveDuration() time.Duration {
	return time.Since(t.start)
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordStoreMutation records a store mutation
//
// Parameters:
//   - entity: The entity family (network/subnet/...)
//   - operation: create/update/remove
//   - err: The error from the mutation (nil for success)
func RecordStoreMutation(entity, operation string, err error) {
	StoreMutationTotal.WithLabelValues(entity, operation, result(err)).Inc()
}

// SetSegmentsAssigned sets the number of networks holding a VNI
func SetSegmentsAssigned(n int) {
	SegmentsAssigned.Set(float64(n))
}

// RecordSyncPhase records the duration of one resync phase
func RecordSyncPhase(phase string, err error, duration time.Duration) {
	SyncDuration.WithLabelValues(phase, result(err)).Observe(duration.Seconds())
}

// RecordFlowRule records a flow rule operation for a table
func RecordFlowRule(table int, install bool) {
	op := OperationUninstall
	if install {
		op = OperationInstall
	}
	FlowRuleTotal.WithLabelValues(strconv.Itoa(table), op).Inc()
}

// RecordFlowRuleApply records the outcome of one sink application
func RecordFlowRuleApply(res string) {
	FlowRuleApplyTotal.WithLabelValues(res).Inc()
}

// SetExecutorQueueDepth sets the executor queue depth
func SetExecutorQueueDepth(depth int) {
	ExecutorQueueDepth.Set(float64(depth))
}

// RecordInstanceEvent records an attach or detach event
func RecordInstanceEvent(event string, err error) {
	InstanceEventTotal.WithLabelValues(event, result(err)).Inc()
}

// SetAttachedInstances sets the number of attached instances
func SetAttachedInstances(n int) {
	AttachedInstances.Set(float64(n))
}

// SetServiceChains sets the number of service chains
func SetServiceChains(n int) {
	ServiceChains.Set(float64(n))
}

// SetCompleteNodes sets the number of complete fabric nodes
func SetCompleteNodes(n int) {
	CompleteNodes.Set(float64(n))
}

// SetOVSDBConnectionStatus sets the Open_vSwitch database connection status
func SetOVSDBConnectionStatus(connected bool) {
	if connected {
		OVSDBConnectionStatus.Set(1)
	} else {
		OVSDBConnectionStatus.Set(0)
	}
}
