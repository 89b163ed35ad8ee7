package host

import (
	"errors"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/model"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

type staticNetworks map[model.NetworkID]model.NetworkType

func (s staticNetworks) NetworkType(id model.NetworkID) (model.NetworkType, bool) {
	t, ok := s[id]
	return t, ok
}

type recordingHandler struct {
	types []model.NetworkType
	calls []string
	err   error
}

func (h *recordingHandler) NetworkTypes() []model.NetworkType { return h.types }

func (h *recordingHandler) InstanceDetected(inst model.Instance) error {
	h.calls = append(h.calls, "detected:"+inst.DeviceID)
	return h.err
}

func (h *recordingHandler) InstanceRemoved(inst model.Instance) error {
	h.calls = append(h.calls, "removed:"+inst.DeviceID)
	return h.err
}

func testInstance(mac, device string, network model.NetworkID) model.Instance {
	return model.Instance{
		MAC:        util.MustParseMAC(mac),
		IP:         net.ParseIP("10.0.0.5"),
		DeviceID:   device,
		PortNumber: 3,
		NetworkID:  network,
	}
}

func newTestTracker() (*Tracker, *recordingHandler, *recordingHandler) {
	tracker := NewTracker(staticNetworks{
		"net-private": model.NetworkTypePrivate,
		"net-default": model.NetworkTypeDefault,
		"net-mgmt":    model.NetworkTypeManagementHost,
	}, logging.NewNopLogger())
	vtn := &recordingHandler{types: []model.NetworkType{model.NetworkTypePrivate, model.NetworkTypeDefault}}
	mgmt := &recordingHandler{types: []model.NetworkType{model.NetworkTypeManagementHost}}
	tracker.AddHandler(vtn)
	tracker.AddHandler(mgmt)
	return tracker, vtn, mgmt
}

func TestTracker_DispatchByNetworkType(t *testing.T) {
	tracker, vtn, mgmt := newTestTracker()

	if err := tracker.HostDetected(testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")); err != nil {
		t.Fatalf("HostDetected failed: %v", err)
	}
	if err := tracker.HostDetected(testInstance("fa:16:3e:00:00:02", "dev-2", "net-default")); err != nil {
		t.Fatalf("HostDetected failed: %v", err)
	}
	if err := tracker.HostDetected(testInstance("fa:16:3e:00:00:03", "dev-3", "net-mgmt")); err != nil {
		t.Fatalf("HostDetected failed: %v", err)
	}

	if len(vtn.calls) != 2 || len(mgmt.calls) != 1 {
		t.Errorf("vtn calls %v, mgmt calls %v", vtn.calls, mgmt.calls)
	}
	inst, ok := tracker.Instance(util.MustParseMAC("FA:16:3E:00:00:01"))
	if !ok || inst.NetworkType != model.NetworkTypePrivate {
		t.Errorf("Instance = %v, %t", inst, ok)
	}
	if tracker.Len() != 3 || len(tracker.Instances()) != 3 {
		t.Errorf("Len() = %d", tracker.Len())
	}
}

func TestTracker_Vanished(t *testing.T) {
	tracker, vtn, _ := newTestTracker()
	inst := testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")
	if err := tracker.HostDetected(inst); err != nil {
		t.Fatal(err)
	}

	if err := tracker.HostVanished(inst.MAC); err != nil {
		t.Fatalf("HostVanished failed: %v", err)
	}
	if err := tracker.HostVanished(inst.MAC); err != nil {
		t.Fatalf("second HostVanished failed: %v", err)
	}
	if _, ok := tracker.Instance(inst.MAC); ok {
		t.Error("instance still resolvable")
	}
	if len(vtn.calls) != 2 || vtn.calls[1] != "removed:dev-1" {
		t.Errorf("calls = %v", vtn.calls)
	}
	if err := tracker.HostVanished(nil); !model.IsNullArgument(err) {
		t.Errorf("expected NullArgument, got %v", err)
	}
}

func TestTracker_Move(t *testing.T) {
	tracker, vtn, _ := newTestTracker()
	inst := testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")
	if err := tracker.HostDetected(inst); err != nil {
		t.Fatal(err)
	}
	// Same location is a no-op
	if err := tracker.HostDetected(inst); err != nil {
		t.Fatal(err)
	}
	moved := inst
	moved.DeviceID = "dev-2"
	if err := tracker.HostDetected(moved); err != nil {
		t.Fatal(err)
	}

	want := []string{"detected:dev-1", "removed:dev-1", "detected:dev-2"}
	if len(vtn.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", vtn.calls, want)
	}
	for i := range want {
		if vtn.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, vtn.calls[i], want[i])
		}
	}
}

func TestTracker_Errors(t *testing.T) {
	tracker, vtn, _ := newTestTracker()

	err := tracker.HostDetected(model.Instance{})
	if !model.IsNullArgument(err) {
		t.Errorf("expected NullArgument, got %v", err)
	}

	err = tracker.HostDetected(testInstance("fa:16:3e:00:00:01", "dev-1", "net-unknown"))
	if !model.IsResolutionError(err) {
		t.Errorf("expected ResolutionError, got %v", err)
	}
	if tracker.Len() != 0 {
		t.Error("unresolved instance recorded")
	}

	vtn.err = errors.New("rule compiler failed")
	err = tracker.HostDetected(testInstance("fa:16:3e:00:00:02", "dev-1", "net-private"))
	if !errors.Is(err, vtn.err) {
		t.Errorf("handler error not returned: %v", err)
	}
}

func TestTracker_RemoveHandler(t *testing.T) {
	tracker, vtn, _ := newTestTracker()
	tracker.RemoveHandler(vtn)
	if err := tracker.HostDetected(testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")); err != nil {
		t.Fatal(err)
	}
	if len(vtn.calls) != 0 {
		t.Errorf("removed handler called: %v", vtn.calls)
	}
}

func TestNewInstance(t *testing.T) {
	h := Host{
		MAC:        util.MustParseMAC("fa:16:3e:00:00:01"),
		IP:         net.ParseIP("10.0.0.5"),
		DeviceID:   "dev-1",
		PortNumber: 3,
		Annotations: map[string]string{
			types.AnnotationNetworkID:   "net-1",
			types.AnnotationPortID:      "port-1",
			types.AnnotationNetworkType: "vsg",
			types.AnnotationNested:      "true",
		},
	}
	inst, err := NewInstance(h)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	if inst.NetworkID != "net-1" || inst.PortID != "port-1" || inst.NetworkType != model.NetworkTypeVSG || !inst.Nested {
		t.Errorf("unexpected instance %+v", inst)
	}

	h.Annotations[types.AnnotationNetworkType] = "DEFAULT"
	if inst, err := NewInstance(h); err != nil || inst.NetworkType != model.NetworkTypeDefault {
		t.Errorf("DEFAULT type = %v, %v", inst.NetworkType, err)
	}

	h.Annotations[types.AnnotationNested] = "maybe"
	if _, err := NewInstance(h); err == nil {
		t.Error("expected error for malformed nested annotation")
	}

	delete(h.Annotations, types.AnnotationNetworkID)
	if _, err := NewInstance(h); !model.IsNullArgument(err) {
		t.Errorf("expected NullArgument, got %v", err)
	}
}

func TestTracker_DetectHostWithoutResolver(t *testing.T) {
	tracker := NewTracker(nil, logging.NewNopLogger())
	vsg := &recordingHandler{types: []model.NetworkType{model.NetworkTypeVSG}}
	tracker.AddHandler(vsg)

	err := tracker.DetectHost(Host{
		MAC:         util.MustParseMAC("fa:16:3e:00:00:01"),
		DeviceID:    "dev-1",
		PortNumber:  3,
		Annotations: map[string]string{types.AnnotationNetworkID: "net-1", types.AnnotationNetworkType: "VSG"},
	})
	if err != nil {
		t.Fatalf("DetectHost failed: %v", err)
	}
	if len(vsg.calls) != 1 {
		t.Errorf("calls = %v", vsg.calls)
	}
}

type recordingGuard struct {
	tracker *Tracker
	held    bool
	log     []string
}

func (g *recordingGuard) GuardAttach() func() {
	g.held = true
	g.log = append(g.log, "acquire")
	return func() {
		g.held = false
		g.log = append(g.log, "release:"+strconv.Itoa(g.tracker.Len()))
	}
}

type guardCheckingHandler struct {
	guard *recordingGuard
	held  []bool
}

func (h *guardCheckingHandler) NetworkTypes() []model.NetworkType {
	return []model.NetworkType{model.NetworkTypePrivate}
}

func (h *guardCheckingHandler) InstanceDetected(model.Instance) error {
	h.held = append(h.held, h.guard.held)
	return nil
}

func (h *guardCheckingHandler) InstanceRemoved(model.Instance) error {
	h.held = append(h.held, h.guard.held)
	return nil
}

func TestTracker_AttachGuard(t *testing.T) {
	tracker, _, _ := newTestTracker()
	guard := &recordingGuard{tracker: tracker}
	tracker.SetAttachGuard(guard)
	h := &guardCheckingHandler{guard: guard}
	tracker.AddHandler(h)

	inst := testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")
	if err := tracker.HostDetected(inst); err != nil {
		t.Fatalf("HostDetected failed: %v", err)
	}
	if err := tracker.HostVanished(inst.MAC); err != nil {
		t.Fatalf("HostVanished failed: %v", err)
	}

	// the guard covers the table insert only, never handler dispatch or removal
	want := []string{"acquire", "release:1"}
	if !reflect.DeepEqual(guard.log, want) {
		t.Errorf("guard log = %v, want %v", guard.log, want)
	}
	if !reflect.DeepEqual(h.held, []bool{false, false}) {
		t.Errorf("handler ran with the guard held: %v", h.held)
	}
}

type slowHandler struct {
	mu     sync.Mutex
	events map[string][]string
}

func (h *slowHandler) NetworkTypes() []model.NetworkType {
	return []model.NetworkType{model.NetworkTypePrivate}
}

func (h *slowHandler) record(inst model.Instance, ev string) error {
	time.Sleep(time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	key := util.MACKey(inst.MAC)
	h.events[key] = append(h.events[key], ev)
	return nil
}

func (h *slowHandler) InstanceDetected(inst model.Instance) error { return h.record(inst, "detected") }

func (h *slowHandler) InstanceRemoved(inst model.Instance) error { return h.record(inst, "removed") }

func TestTracker_EventsOfOneMACStayOrdered(t *testing.T) {
	tracker := NewTracker(staticNetworks{"net-private": model.NetworkTypePrivate}, logging.NewNopLogger())
	h := &slowHandler{events: make(map[string][]string)}
	tracker.AddHandler(h)
	inst := testInstance("fa:16:3e:00:00:01", "dev-1", "net-private")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = tracker.HostDetected(inst)
		}()
		go func() {
			defer wg.Done()
			_ = tracker.HostVanished(inst.MAC)
		}()
	}
	wg.Wait()

	// dispatch alternates and ends in the state of the table
	evs := h.events[util.MACKey(inst.MAC)]
	for i, ev := range evs {
		want := "detected"
		if i%2 == 1 {
			want = "removed"
		}
		if ev != want {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, ev, want, evs)
		}
	}
	_, attached := tracker.Instance(inst.MAC)
	if attached != (len(evs)%2 == 1) {
		t.Errorf("table attached=%t after events %v", attached, evs)
	}
	if len(tracker.macLocks) != 0 {
		t.Errorf("mac locks leaked: %d", len(tracker.macLocks))
	}
}
