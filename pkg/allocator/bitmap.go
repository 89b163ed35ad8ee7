// Package allocator provides segment id (VNI) allocation.
//
// Segment ids are tracked in a bitmap:
// - Each bit represents one VNI of the pool
// - Bit value 1 = assigned, 0 = free
// - Allocation returns the lowest free VNI, so ids are reused after release
//
// Reference: OVN-Kubernetes pkg/allocator/bitmap/bitmap.go
package allocator

import (
	"fmt"
	"math/bits"
)

const wordSize = 64

// Bitmap is a fixed size bit set. It is not safe for concurrent use;
// SegmentAllocator serializes access to it.
type Bitmap struct {
	words     []uint64
	size      int
	allocated int
}

// NewBitmap creates a new bitmap with the specified number of bits
func NewBitmap(size int) *Bitmap {
	if size < 0 {
		size = 0
	}
	return &Bitmap{
		words: make([]uint64, (size+wordSize-1)/wordSize),
		size:  size,
	}
}

// Set marks a bit as allocated
//
// Returns:
//   - error: Error if index is out of range or already set
func (b *Bitmap) Set(index int) error {
	if index < 0 || index >= b.size {
		return fmt.Errorf("index %d out of range [0, %d)", index, b.size)
	}
	w, mask := index/wordSize, uint64(1)<<uint(index%wordSize)
	if b.words[w]&mask != 0 {
		return fmt.Errorf("bit %d is already set", index)
	}
	b.words[w] |= mask
	b.allocated++
	return nil
}

// Clear marks a bit as available. Clearing a free bit is a no-op.
func (b *Bitmap) Clear(index int) error {
	if index < 0 || index >= b.size {
		return fmt.Errorf("index %d out of range [0, %d)", index, b.size)
	}
	w, mask := index/wordSize, uint64(1)<<uint(index%wordSize)
	if b.words[w]&mask != 0 {
		b.words[w] &^= mask
		b.allocated--
	}
	return nil
}

// IsSet checks if a bit is allocated
func (b *Bitmap) IsSet(index int) bool {
	if index < 0 || index >= b.size {
		return false
	}
	return b.words[index/wordSize]&(uint64(1)<<uint(index%wordSize)) != 0
}

// FindFirstClear returns the index of the first free bit, or -1 if none
func (b *Bitmap) FindFirstClear() int {
	for w, word := range b.words {
		if word == ^uint64(0) {
			continue
		}
		index := w*wordSize + bits.TrailingZeros64(^word)
		if index >= b.size {
			return -1
		}
		return index
	}
	return -1
}

// Reset frees every bit
func (b *Bitmap) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
	b.allocated = 0
}

// Size returns the total number of bits
func (b *Bitmap) Size() int {
	return b.size
}

// Allocated returns the number of allocated bits
func (b *Bitmap) Allocated() int {
	return b.allocated
}

// Available returns the number of available bits
func (b *Bitmap) Available() int {
	return b.size - b.allocated
}
