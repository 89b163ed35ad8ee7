package allocator

import (
	"sync"

	"github.com/jiayi-1994/zstack-vtn/pkg/types"
)

// SegmentAllocator assigns one VNI per network.
//
// Thread Safety: All methods are thread-safe.
//
// Allocation Rules:
//   - A network keeps its VNI until Release is called for it
//   - An explicitly requested VNI is reserved as is, inside or outside the pool
//   - Otherwise the lowest free VNI of the pool is assigned
type SegmentAllocator struct {
	mu sync.Mutex

	// base is the VNI represented by bit 0 of the pool
	base uint32

	// pool tracks VNIs in [base, base+size)
	pool *Bitmap

	// owners maps network id to its VNI
	owners map[string]uint32

	// holders maps a VNI back to its network id
	holders map[uint32]string
}

// NewSegmentAllocator creates an allocator handing out VNIs starting at base.
//
// Parameters:
//   - base: First VNI of the pool (clamped to types.MinSegmentID)
//   - size: Number of VNIs in the pool (clamped so the pool stays below types.MaxSegmentID)
func NewSegmentAllocator(base, size uint32) *SegmentAllocator {
	if base < types.MinSegmentID {
		base = types.MinSegmentID
	}
	if base > types.MaxSegmentID {
		base = types.MaxSegmentID
	}
	if uint64(base)+uint64(size) > uint64(types.MaxSegmentID)+1 {
		size = types.MaxSegmentID - base + 1
	}
	return &SegmentAllocator{
		base:    base,
		pool:    NewBitmap(int(size)),
		owners:  make(map[string]uint32),
		holders: make(map[uint32]string),
	}
}

// Assign returns the VNI of owner, assigning one if it has none yet.
//
// Parameters:
//   - owner: Network id
//   - requested: VNI chosen by the orchestrator, 0 to let the pool choose
//
// Returns:
//   - uint32: The VNI now held by owner
//   - error: SegmentInUseError, SegmentOutOfRangeError or SegmentPoolExhaustedError
func (a *SegmentAllocator) Assign(owner string, requested uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if vni, ok := a.owners[owner]; ok {
		return vni, nil
	}

	if requested != 0 {
		if requested < types.MinSegmentID || requested > types.MaxSegmentID {
			return 0, &SegmentOutOfRangeError{Segment: requested}
		}
		if holder, ok := a.holders[requested]; ok {
			return 0, &SegmentInUseError{Segment: requested, Owner: holder}
		}
		if a.inPool(requested) {
			if err := a.pool.Set(int(requested - a.base)); err != nil {
				return 0, err
			}
		}
		a.bind(owner, requested)
		return requested, nil
	}

	// Walk past pool bits whose VNI was reserved out of band
	for {
		index := a.pool.FindFirstClear()
		if index < 0 {
			return 0, &SegmentPoolExhaustedError{Min: a.base, Max: a.base + uint32(a.pool.Size()) - 1}
		}
		if err := a.pool.Set(index); err != nil {
			return 0, err
		}
		vni := a.base + uint32(index)
		if _, taken := a.holders[vni]; taken {
			continue
		}
		a.bind(owner, vni)
		return vni, nil
	}
}

// Release frees the VNI held by owner
//
// Returns:
//   - uint32: The released VNI
//   - bool: False if owner held nothing
func (a *SegmentAllocator) Release(owner string) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	vni, ok := a.owners[owner]
	if !ok {
		return 0, false
	}
	delete(a.owners, owner)
	delete(a.holders, vni)
	if a.inPool(vni) {
		_ = a.pool.Clear(int(vni - a.base))
	}
	return vni, true
}

// Lookup returns the VNI held by owner
func (a *SegmentAllocator) Lookup(owner string) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vni, ok := a.owners[owner]
	return vni, ok
}

// Holder returns the network holding vni
func (a *SegmentAllocator) Holder(vni uint32) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.holders[vni]
	return owner, ok
}

// Assigned returns the number of networks holding a VNI
func (a *SegmentAllocator) Assigned() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owners)
}

// Reset releases every VNI
func (a *SegmentAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pool.Reset()
	a.owners = make(map[string]uint32)
	a.holders = make(map[uint32]string)
}

func (a *SegmentAllocator) inPool(vni uint32) bool {
	return vni >= a.base && vni-a.base < uint32(a.pool.Size())
}

func (a *SegmentAllocator) bind(owner string, vni uint32) {
	a.owners[owner] = vni
	a.holders[vni] = owner
}
