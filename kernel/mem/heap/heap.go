// Package heap implements the kernel's general-purpose allocator: a
// first-fit, singly-linked free list with no coalescing, backed by pages
// faulted in from the PMM as the free list runs dry (spec.md 4.3).
package heap

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// ErrOutOfMemory is returned when the heap cannot grow any further (the PMM
// is exhausted).
var ErrOutOfMemory = errors.New("heap", kernel.KindAllocationFailure, "heap allocator out of memory")

const (
	alignment = 8

	// growChunk is the number of pages mapped in at a time when the
	// free list cannot satisfy a request.
	growChunk = 16
)

// blockHeader precedes every block, free or allocated, known to the heap.
// size is the usable payload size (not including the header); next is only
// meaningful while the block sits on the free list.
type blockHeader struct {
	size mem.Size
	next *blockHeader
}

const headerSize = mem.Size(unsafe.Sizeof(blockHeader{}))

// Allocator is a first-fit, non-coalescing heap carved out of a
// contiguous virtual region. The zero value is not usable; call Init.
type Allocator struct {
	base       uintptr
	brk        uintptr
	limit      uintptr
	freeList   *blockHeader
	allocFrame func() (pmm.Frame, *kernel.Error)
	mapRange   func(vmm.Table, uintptr, pmm.Frame, uint64, mem.Size, vmm.PageTableEntryFlag) *kernel.Error
}

// Kernel is the heap instance backing the kernel's own general-purpose
// allocations.
var Kernel Allocator

// Init prepares the kernel heap to start growing at vmm.KernelHeapBase, up
// to limitPages pages. allocFrame is the physical frame source (normally
// allocator.FrameAllocator.Allocate4K, wired by kmain once the bitmap
// allocator is live).
func Init(limitPages uint64, allocFrame func() (pmm.Frame, *kernel.Error)) *kernel.Error {
	Kernel = Allocator{
		base:       vmm.KernelHeapBase,
		brk:        vmm.KernelHeapBase,
		limit:      vmm.KernelHeapBase + uintptr(limitPages)*uintptr(mem.PageSize),
		allocFrame: allocFrame,
		mapRange:   vmm.MapRange,
	}
	return nil
}

// grow maps count additional pages at the end of the heap's current brk,
// advancing brk and returning the address of the first new page.
func (a *Allocator) grow(count uint64) (uintptr, *kernel.Error) {
	if a.brk+uintptr(count)*uintptr(mem.PageSize) > a.limit {
		return 0, ErrOutOfMemory
	}

	start := a.brk
	for i := uint64(0); i < count; i++ {
		frame, err := a.allocFrame()
		if err != nil {
			return 0, err
		}
		page := vmm.PageFromAddress(a.brk)
		if err := a.mapRange(vmm.ActiveTable(), page.Address(), frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return 0, err
		}
		a.brk += uintptr(mem.PageSize)
	}
	return start, nil
}

// Alloc returns a pointer to a freshly allocated, zero-initialized block of
// at least n usable bytes, rounded up to an 8-byte boundary.
func (a *Allocator) Alloc(n mem.Size) (unsafe.Pointer, *kernel.Error) {
	if n == 0 {
		n = alignment
	}
	n = (n + alignment - 1) &^ (alignment - 1)

	var prev *blockHeader
	for blk := a.freeList; blk != nil; prev, blk = blk, blk.next {
		if blk.size < n {
			continue
		}
		a.unlink(prev, blk)
		a.splitIfWorthwhile(blk, n)
		mem.Memset(uintptr(payloadOf(blk)), 0, n)
		return payloadOf(blk), nil
	}

	// Free list exhausted; grow the heap by whole pages and carve the
	// new block out of the freshly mapped region.
	needed := n + headerSize
	pages := (mem.Size(needed) + mem.PageSize - 1) / mem.PageSize
	if pages < growChunk {
		pages = growChunk
	}

	regionStart, err := a.grow(uint64(pages))
	if err != nil {
		// Retry with the exact size before giving up.
		pages = (mem.Size(needed) + mem.PageSize - 1) / mem.PageSize
		regionStart, err = a.grow(uint64(pages))
		if err != nil {
			return nil, err
		}
	}

	blk := (*blockHeader)(unsafe.Pointer(regionStart))
	blk.size = mem.Size(pages)*mem.PageSize - headerSize
	blk.next = nil
	a.splitIfWorthwhile(blk, n)
	mem.Memset(uintptr(payloadOf(blk)), 0, n)
	return payloadOf(blk), nil
}

// splitIfWorthwhile shrinks blk to exactly n bytes and pushes the
// remainder back onto the free list, provided the remainder is large
// enough to hold a header and at least one alignment unit.
func (a *Allocator) splitIfWorthwhile(blk *blockHeader, n mem.Size) {
	if blk.size < n+headerSize+alignment {
		return
	}

	remainderAddr := uintptr(payloadOf(blk)) + uintptr(n)
	remainder := (*blockHeader)(unsafe.Pointer(remainderAddr))
	remainder.size = blk.size - n - headerSize
	remainder.next = a.freeList
	a.freeList = remainder

	blk.size = n
}

func (a *Allocator) unlink(prev, blk *blockHeader) {
	if prev == nil {
		a.freeList = blk.next
	} else {
		prev.next = blk.next
	}
	blk.next = nil
}

// Free returns p, previously obtained from Alloc, to the free list. No
// coalescing is performed: per spec.md 4.3 the design assumes long-lived
// allocations dominate and accepts fragmentation as a known limitation.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	blk := headerOf(p)
	blk.next = a.freeList
	a.freeList = blk
}

// Realloc resizes the allocation at p to n bytes, reusing the existing
// block in place if it is already large enough and copying to a fresh
// block otherwise. A nil p behaves like Alloc.
func (a *Allocator) Realloc(p unsafe.Pointer, n mem.Size) (unsafe.Pointer, *kernel.Error) {
	if p == nil {
		return a.Alloc(n)
	}

	n = (n + alignment - 1) &^ (alignment - 1)
	blk := headerOf(p)
	if blk.size >= n {
		return p, nil
	}

	newPtr, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	mem.Memcopy(uintptr(p), uintptr(newPtr), blk.size)
	a.Free(p)
	return newPtr, nil
}

// AlignedAlloc returns a block of n bytes whose address is a multiple of
// align, which must be a power of two. It over-allocates, stores the raw
// block pointer in the machine word immediately preceding the aligned
// address, and returns the interior aligned pointer. Use FreeAligned (not
// Free) to release the result.
func (a *Allocator) AlignedAlloc(n mem.Size, align uintptr) (unsafe.Pointer, *kernel.Error) {
	if align == 0 || align&(align-1) != 0 {
		return nil, errors.New("heap", kernel.KindInvalidArgument, "alignment must be a power of two")
	}
	if align < unsafe.Sizeof(uintptr(0)) {
		align = unsafe.Sizeof(uintptr(0))
	}

	raw, err := a.Alloc(n + mem.Size(align) + mem.Size(unsafe.Sizeof(uintptr(0))))
	if err != nil {
		return nil, err
	}

	addr := uintptr(raw) + unsafe.Sizeof(uintptr(0))
	aligned := (addr + align - 1) &^ (align - 1)
	*(*uintptr)(unsafe.Pointer(aligned - unsafe.Sizeof(uintptr(0)))) = uintptr(raw)
	return unsafe.Pointer(aligned), nil
}

// FreeAligned releases a pointer previously returned by AlignedAlloc.
func (a *Allocator) FreeAligned(p unsafe.Pointer) {
	if p == nil {
		return
	}
	raw := *(*uintptr)(unsafe.Pointer(uintptr(p) - unsafe.Sizeof(uintptr(0))))
	a.Free(unsafe.Pointer(raw))
}

func payloadOf(blk *blockHeader) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(blk)) + uintptr(headerSize))
}

func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(p) - uintptr(headerSize)))
}
