package allocator

import "fmt"

// SegmentPoolExhaustedError indicates that no VNI is left in the pool.
type SegmentPoolExhaustedError struct {
	Min uint32
	Max uint32
}

func (e *SegmentPoolExhaustedError) Error() string {
	return fmt.Sprintf("segment pool [%d, %d] has no available ids", e.Min, e.Max)
}

// SegmentInUseError indicates that a VNI is already held by another network.
type SegmentInUseError struct {
	Segment uint32
	Owner   string
}

func (e *SegmentInUseError) Error() string {
	return fmt.Sprintf("segment %d is already assigned to network %s", e.Segment, e.Owner)
}

// SegmentOutOfRangeError indicates that a VNI is outside the valid VXLAN range.
type SegmentOutOfRangeError struct {
	Segment uint32
}

func (e *SegmentOutOfRangeError) Error() string {
	return fmt.Sprintf("segment %d is outside the valid range", e.Segment)
}
