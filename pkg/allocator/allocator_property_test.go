package allocator

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_SegmentUniqueness verifies that no two networks share a VNI.
func TestProperty_SegmentUniqueness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("assigned segments are unique", prop.ForAll(
		func(numNetworks int) bool {
			a := NewSegmentAllocator(1, 64)
			seen := make(map[uint32]string)
			for i := 0; i < numNetworks; i++ {
				owner := fmt.Sprintf("net-%d", i)
				vni, err := a.Assign(owner, 0)
				if err != nil {
					_, ok := err.(*SegmentPoolExhaustedError)
					return ok && i == 64
				}
				if prev, dup := seen[vni]; dup {
					t.Logf("segment %d assigned to %s and %s", vni, prev, owner)
					return false
				}
				seen[vni] = owner
			}
			return true
		},
		gen.IntRange(1, 80),
	))

	properties.TestingRun(t)
}

// TestProperty_SegmentStableUntilRelease verifies that repeated assignment
// returns the same VNI and release makes it reusable.
func TestProperty_SegmentStableUntilRelease(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("segment is stable until released", prop.ForAll(
		func(owner string, repeats int) bool {
			a := NewSegmentAllocator(1, 16)
			first, err := a.Assign(owner, 0)
			if err != nil {
				return false
			}
			for i := 0; i < repeats; i++ {
				vni, err := a.Assign(owner, 0)
				if err != nil || vni != first {
					return false
				}
			}
			released, ok := a.Release(owner)
			if !ok || released != first {
				return false
			}
			again, err := a.Assign("other-"+owner, 0)
			return err == nil && again == first
		},
		gen.AlphaString(),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_RequestedSegmentReserved verifies that an orchestrator chosen
// VNI is never handed out by the pool.
func TestProperty_RequestedSegmentReserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("requested segment is skipped by the pool", prop.ForAll(
		func(requested int) bool {
			a := NewSegmentAllocator(1, 32)
			if _, err := a.Assign("fixed", uint32(requested)); err != nil {
				return false
			}
			for i := 0; i < 31; i++ {
				vni, err := a.Assign(fmt.Sprintf("net-%d", i), 0)
				if err != nil || vni == uint32(requested) {
					return false
				}
			}
			_, err := a.Assign("overflow", 0)
			_, exhausted := err.(*SegmentPoolExhaustedError)
			return exhausted
		},
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}

func TestSegmentAllocator_FirstSegmentIsBase(t *testing.T) {
	a := NewSegmentAllocator(1, 8)
	vni, err := a.Assign("net-1", 0)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if vni != 1 {
		t.Errorf("first segment = %d, want 1", vni)
	}
}

func TestSegmentAllocator_Conflicts(t *testing.T) {
	a := NewSegmentAllocator(1, 8)
	if _, err := a.Assign("net-1", 100); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	tests := []struct {
		name      string
		owner     string
		requested uint32
		check     func(error) bool
	}{
		{
			name:      "in use",
			owner:     "net-2",
			requested: 100,
			check: func(err error) bool {
				e, ok := err.(*SegmentInUseError)
				return ok && e.Owner == "net-1"
			},
		},
		{
			name:      "out of range",
			owner:     "net-3",
			requested: 1 << 24,
			check: func(err error) bool {
				_, ok := err.(*SegmentOutOfRangeError)
				return ok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Assign(tt.owner, tt.requested)
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestSegmentAllocator_Reset(t *testing.T) {
	a := NewSegmentAllocator(1, 4)
	for i := 0; i < 4; i++ {
		if _, err := a.Assign(fmt.Sprintf("net-%d", i), 0); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
	}
	a.Reset()
	if a.Assigned() != 0 {
		t.Errorf("Assigned() = %d after reset", a.Assigned())
	}
	if vni, err := a.Assign("net-9", 0); err != nil || vni != 1 {
		t.Errorf("Assign after reset = %d, %v", vni, err)
	}
}

func TestBitmap_FindFirstClear(t *testing.T) {
	b := NewBitmap(130)
	for i := 0; i < 129; i++ {
		if err := b.Set(i); err != nil {
			t.Fatalf("Set(%d) failed: %v", i, err)
		}
	}
	if got := b.FindFirstClear(); got != 129 {
		t.Errorf("FindFirstClear() = %d, want 129", got)
	}
	if err := b.Set(129); err != nil {
		t.Fatalf("Set(129) failed: %v", err)
	}
	if got := b.FindFirstClear(); got != -1 {
		t.Errorf("FindFirstClear() on full bitmap = %d, want -1", got)
	}
	if err := b.Set(5); err == nil {
		t.Error("Set on an allocated bit should fail")
	}
	_ = b.Clear(64)
	if got := b.FindFirstClear(); got != 64 {
		t.Errorf("FindFirstClear() = %d, want 64", got)
	}
	if b.Available() != 1 {
		t.Errorf("Available() = %d, want 1", b.Available())
	}
}
