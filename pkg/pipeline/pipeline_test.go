package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jiayi-1994/zstack-vtn/pkg/logging"
	"github.com/jiayi-1994/zstack-vtn/pkg/types"
	"github.com/jiayi-1994/zstack-vtn/pkg/util"
)

func inPortRule(device string, port uint32, vni uint64) FlowRule {
	_, src, _ := net.ParseCIDR("10.0.0.5/32")
	return FlowRule{
		DeviceID: device,
		Table:    types.TableInPort,
		Priority: types.PriorityDefault,
		Selector: Selector{InPort: port, EthType: EthTypeIPv4, IPSrc: src},
		Treatment: Treatment{
			WriteMetadata: vni,
			MetadataMask:  types.MetadataMask,
			Transition:    types.TableAccess,
		},
		AppID:     types.AppID,
		Permanent: true,
	}
}

func TestFlowRule_KeyAndString(t *testing.T) {
	r := inPortRule("of:0000000000000001", 3, 1)
	wantKey := "of:0000000000000001/table=0/priority=5000/in_port=3,dl_type=0x0800,nw_src=10.0.0.5/32"
	if r.Key() != wantKey {
		t.Errorf("Key() = %q, want %q", r.Key(), wantKey)
	}
	wantActions := "write_metadata:0x1/0x7fffffffffffffff,goto_table:1"
	if r.Treatment.String() != wantActions {
		t.Errorf("Treatment = %q, want %q", r.Treatment.String(), wantActions)
	}

	drop := FlowRule{DeviceID: "d", Table: types.TableAccess, Treatment: Treatment{Drop: true}}
	if drop.Treatment.String() != "drop" || drop.Selector.String() != "any" {
		t.Errorf("unexpected drop rule rendering %s", drop)
	}

	tunnel := Treatment{
		EthDst:    util.MustParseMAC("FA:16:3E:00:00:01"),
		TunnelID:  7,
		TunnelDst: &TunnelDst{IP: net.ParseIP("192.168.0.2")},
		Output:    10,
	}
	want := "set_field:fa:16:3e:00:00:01->eth_dst,set_field:0x7->tun_id,set_field:192.168.0.2->tun_dst,output:10"
	if tunnel.String() != want {
		t.Errorf("Treatment = %q, want %q", tunnel.String(), want)
	}
}

func TestFlowTable_Idempotent(t *testing.T) {
	table := NewFlowTable()
	r := inPortRule("dev-1", 3, 1)

	table.ProcessFlowRule(true, r)
	table.ProcessFlowRule(true, r)
	if table.Len() != 1 {
		t.Fatalf("Len() = %d after double install, want 1", table.Len())
	}

	// Same identity, new treatment replaces the rule
	updated := r
	updated.Treatment.WriteMetadata = 2
	table.ProcessFlowRule(true, updated)
	if got, ok := table.Lookup(r); !ok || got.Treatment.WriteMetadata != 2 {
		t.Errorf("Lookup = %+v, %t", got, ok)
	}

	table.ProcessFlowRule(false, r)
	table.ProcessFlowRule(false, r)
	if table.Len() != 0 || len(table.Devices()) != 0 {
		t.Errorf("table not empty after removal: %v", table.Keys())
	}
}

func TestFlowTable_RulesOrdering(t *testing.T) {
	table := NewFlowTable()
	low := inPortRule("dev-1", 3, 1)
	low.Priority = types.PriorityLow
	low.Selector = Selector{InPort: 3}
	high := inPortRule("dev-1", 3, 1)
	dst := FlowRule{DeviceID: "dev-1", Table: types.TableDst, Priority: types.PriorityDefault,
		Selector: Selector{EthType: EthTypeIPv4, Metadata: 1}}

	for _, r := range []FlowRule{dst, low, high} {
		table.ProcessFlowRule(true, r)
	}
	table.ProcessFlowRule(true, inPortRule("dev-2", 4, 1))

	rules := table.Rules("dev-1")
	if len(rules) != 3 {
		t.Fatalf("Rules(dev-1) = %d rules, want 3", len(rules))
	}
	if rules[0].Priority != types.PriorityDefault || rules[1].Priority != types.PriorityLow || rules[2].Table != types.TableDst {
		t.Errorf("unexpected order %v", rules)
	}
	if n := len(table.RulesIn("dev-1", types.TableInPort)); n != 2 {
		t.Errorf("RulesIn(IN_PORT) = %d, want 2", n)
	}
}

// TestProperty_FlowTableRoundTrip verifies that installing then removing any
// set of rules leaves the table empty.
func TestProperty_FlowTableRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("install then uninstall is a no-op", prop.ForAll(
		func(ports []int) bool {
			table := NewFlowTable()
			for _, p := range ports {
				table.ProcessFlowRule(true, inPortRule("dev", uint32(p), 1))
			}
			for _, p := range ports {
				table.ProcessFlowRule(false, inPortRule("dev", uint32(p), 1))
			}
			return table.Len() == 0
		},
		gen.SliceOf(gen.IntRange(1, 20)),
	))

	properties.TestingRun(t)
}

// flakySink fails the first failures applications of every rule
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	table    *FlowTable
}

func (s *flakySink) Apply(ctx context.Context, install bool, rule FlowRule) error {
	s.mu.Lock()
	s.attempts[rule.Key()]++
	n := s.attempts[rule.Key()]
	s.mu.Unlock()
	if n <= s.failures {
		return errors.New("device busy")
	}
	return s.table.Apply(ctx, install, rule)
}

func TestAsyncExecutor_RetriesUntilApplied(t *testing.T) {
	sink := &flakySink{failures: 2, attempts: map[string]int{}, table: NewFlowTable()}
	exec := NewAsyncExecutor(sink, ExecutorOptions{RetryInterval: time.Millisecond, Logger: logging.NewNopLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.Start(ctx, 2)

	for p := uint32(1); p <= 5; p++ {
		exec.ProcessFlowRule(true, inPortRule("dev-1", p, 1))
	}

	err := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, 5*time.Second, true, func(context.Context) (bool, error) {
		return sink.table.Len() == 5, nil
	})
	if err != nil {
		t.Fatalf("rules not applied: %d/5", sink.table.Len())
	}

	exec.ShutDown()
}

func TestAsyncExecutor_CoalescesToLatest(t *testing.T) {
	sink := NewFlowTable()
	exec := NewAsyncExecutor(sink, ExecutorOptions{Logger: logging.NewNopLogger()})

	r := inPortRule("dev-1", 3, 1)
	exec.ProcessFlowRule(true, r)
	exec.ProcessFlowRule(false, r)
	if exec.Len() != 1 {
		t.Errorf("Len() = %d, want 1 queued key", exec.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.Start(ctx, 1)

	err := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, 5*time.Second, true, func(context.Context) (bool, error) {
		return exec.Len() == 0, nil
	})
	if err != nil {
		t.Fatal("queue not drained")
	}
	exec.ShutDown()

	if sink.Len() != 0 {
		t.Errorf("latest operation was uninstall, table holds %d rules", sink.Len())
	}
}
