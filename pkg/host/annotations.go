package host

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

// Host is a workload found by host discovery on a fabric node
//
// Annotations carried by the host:
// - networkId: the network the workload belongs to (required)
// - portId: the orchestrator port backing the workload
// - networkType: the network type, used when no resolver is configured
// - nested: "true" for workloads running inside another workload
type Host struct {
	MAC         net.HardwareAddr
	IP          net.IP
	DeviceID    string
	PortNumber  uint32
	Annotations map[string]string
}

// NewInstance builds an Instance from a discovered host
//
// Returns:
//   - model.Instance: The resolved instance
//   - error: NullArgumentError if networkId is missing, or a parse error
func NewInstance(h Host) (model.Instance, error) {
	netID := h.Annotations[types.AnnotationNetworkID]
	if netID == "" {
		return model.Instance{}, model.NewNullArgumentError(types.AnnotationNetworkID)
	}

	inst := model.Instance{
		MAC:        h.MAC,
		IP:         h.IP,
		DeviceID:   h.DeviceID,
		PortNumber: h.PortNumber,
		NetworkID:  model.NetworkID(netID),
		PortID:     model.PortID(h.Annotations[types.AnnotationPortID]),
	}

	if v, ok := h.Annotations[types.AnnotationNetworkType]; ok && !strings.EqualFold(v, "DEFAULT") {
		t, err := model.ParseNetworkType(v)
		if err != nil {
			return model.Instance{}, err
		}
		inst.NetworkType = t
	}

	if v, ok := h.Annotations[types.AnnotationNested]; ok {
		nested, err := strconv.ParseBool(v)
		if err != nil {
			return model.Instance{}, fmt.Errorf("invalid %s annotation %q: %w", types.AnnotationNested, v, err)
		}
		inst.Nested = nested
	}

	return inst, nil
}
