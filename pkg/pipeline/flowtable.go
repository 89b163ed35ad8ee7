package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/metrics"
)

// FlowTable is an in-memory, per-device rule table. It serves as an
// Executor for tests and dry runs and as the Sink behind an AsyncExecutor.
//
// Thread Safety: All methods are thread-safe.
type FlowTable struct {
	mu      sync.RWMutex
	devices map[string]map[string]FlowRule
}

// NewFlowTable creates an empty flow table
func NewFlowTable() *FlowTable {
	return &FlowTable{devices: make(map[string]map[string]FlowRule)}
}

// ProcessFlowRule installs or removes a rule
func (t *FlowTable) ProcessFlowRule(install bool, rule FlowRule) {
	metrics.RecordFlowRule(rule.Table, install)
	t.apply(install, rule)
}

// Apply implements Sink
func (t *FlowTable) Apply(ctx context.Context, install bool, rule FlowRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.apply(install, rule)
	return nil
}

func (t *FlowTable) apply(install bool, rule FlowRule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rules, ok := t.devices[rule.DeviceID]
	if install {
		if !ok {
			rules = make(map[string]FlowRule)
			t.devices[rule.DeviceID] = rules
		}
		rules[rule.Key()] = rule
		return
	}
	if !ok {
		return
	}
	delete(rules, rule.Key())
	if len(rules) == 0 {
		delete(t.devices, rule.DeviceID)
	}
}

// Rules returns the rules of a device ordered by table, descending priority and key
func (t *FlowTable) Rules(device string) []FlowRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FlowRule, 0, len(t.devices[device]))
	for _, r := range t.devices[device] {
		out = append(out, r)
	}
	sortRules(out)
	return out
}

// RulesIn returns the rules of one table of a device
func (t *FlowTable) RulesIn(device string, table int) []FlowRule {
	var out []FlowRule
	for _, r := range t.Rules(device) {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// Lookup returns the rule with the given identity
func (t *FlowTable) Lookup(rule FlowRule) (FlowRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.devices[rule.DeviceID][rule.Key()]
	return r, ok
}

// Devices returns the devices holding at least one rule
func (t *FlowTable) Devices() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.devices))
	for d := range t.devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of rules
func (t *FlowTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, rules := range t.devices {
		n += len(rules)
	}
	return n
}

// Keys returns the identities of every rule, sorted
func (t *FlowTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, rules := range t.devices {
		for k := range rules {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortRules(rules []FlowRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Table != rules[j].Table {
			return rules[i].Table < rules[j].Table
		}
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Key() < rules[j].Key()
	})
}
