// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"

	"hendkernel/kernel/mem"
)

// Frame describes a physical memory page index at 4 KiB granularity. Frame
// numbers for 2 MiB allocations are always superframe-aligned, i.e. a
// multiple of FramesPerSuperframe; the allocator that handed them out is the
// authority on which granularity a given Frame was allocated at (see
// kernel/mem/pmm/allocator).
type Frame uint64

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)

	// FramesPerSuperframe is the number of contiguous 4 KiB frames that
	// make up one 2 MiB superframe (2 MiB / 4 KiB).
	FramesPerSuperframe = 512
)

// IsValid returns true if this is a valid frame.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// Superframe returns the index of the 2 MiB superframe that contains f.
func (f Frame) Superframe() uint64 {
	return uint64(f) / FramesPerSuperframe
}

// SuperframeBase returns the first 4 KiB frame belonging to superframe s.
func SuperframeBase(s uint64) Frame {
	return Frame(s * FramesPerSuperframe)
}
