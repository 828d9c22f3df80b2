// Package pool implements fixed-size object pools: each pool reserves a
// 1 TiB virtual window, bumps an allocation pointer through it faulting in
// frames as needed, and recycles freed objects on a stack that grows
// downward from the top of the window (spec.md 4.3).
package pool

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// ErrOutOfMemory is returned once a pool's 1 TiB window is exhausted or the
// backing PMM cannot supply another frame.
var ErrOutOfMemory = errors.New("pool", kernel.KindAllocationFailure, "pool exhausted")

// ErrWrongPool is returned by Of when an address does not belong to any
// registered pool.
var ErrWrongPool = errors.New("pool", kernel.KindInvalidArgument, "address does not belong to a known pool")

// maxPools bounds how many 1 TiB windows can be carved out of
// vmm.PoolReservationBase before colliding with the next fixed region
// (vmm.IDMapArenaBase, 3 TiB further up).
const maxPools = 3

// registry maps a pool index (address >> 40 relative to the reservation
// base) to its header, so Of can recover the owning Pool from any object
// address in O(1).
var registry [maxPools]*Pool

// mapRangeFn is mocked by tests; automatically inlined by the compiler when
// building the kernel image.
var mapRangeFn = vmm.MapRange

// Header is embedded at the bottom of every object allocated from a pool so
// that, given any live object's address, aligning down to the pool's 1 TiB
// window recovers this struct. It currently carries no per-object state;
// its role is purely to anchor Pool.Of's address arithmetic contract from
// spec.md 4.3 ("an object address uniquely identifies its owning pool").
type Header struct{}

// Pool is a bump allocator over a 1 TiB virtual window with a downward
// growing freelist stack for reclaimed objects.
type Pool struct {
	index      int
	base       uintptr
	objectSize uintptr

	allocPtr  uintptr // next never-used object slot
	mappedEnd uintptr // one past the highest page currently mapped from the bottom

	freeTop   uintptr // address of the most recently pushed free slot (grows down from base+1TiB)
	freeMapLo uintptr // lowest currently-mapped address in the free-stack region

	allocFrame func() (pmm.Frame, *kernel.Error)
}

// New reserves the poolIndex'th 1 TiB window (poolIndex must be unique and
// less than maxPools) and prepares it to hand out objects of objectSize
// bytes, 8-byte aligned.
func New(poolIndex int, objectSize uintptr, allocFrame func() (pmm.Frame, *kernel.Error)) (*Pool, *kernel.Error) {
	if poolIndex < 0 || poolIndex >= maxPools {
		return nil, errors.New("pool", kernel.KindInvalidArgument, "pool index out of range")
	}

	objectSize = (objectSize + 7) &^ 7
	base := vmm.PoolReservationBase + uintptr(poolIndex)*vmm.PoolReservationSize

	p := &Pool{
		index:      poolIndex,
		base:       base,
		objectSize: objectSize,
		allocPtr:   base,
		mappedEnd:  base,
		freeTop:    base + vmm.PoolReservationSize,
		freeMapLo:  base + vmm.PoolReservationSize,
		allocFrame: allocFrame,
	}
	registry[poolIndex] = p
	return p, nil
}

// ensureMappedForAlloc maps whichever additional pages are needed so that
// [p.allocPtr, p.allocPtr+p.objectSize) is backed by real frames.
func (p *Pool) ensureMappedForAlloc() *kernel.Error {
	end := p.allocPtr + p.objectSize
	for p.mappedEnd < end {
		if p.mappedEnd >= p.freeMapLo {
			return ErrOutOfMemory
		}

		frame, err := p.allocFrame()
		if err != nil {
			return err
		}
		if err := mapRangeFn(vmm.ActiveTable(), p.mappedEnd, frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		mem.Memset(p.mappedEnd, 0, mem.PageSize)
		p.mappedEnd += uintptr(mem.PageSize)
	}
	return nil
}

// ensureMappedForFreeSlot maps whichever additional pages are needed, going
// downward, so that the slot one objectSize below the current freeTop is
// backed by a real frame.
func (p *Pool) ensureMappedForFreeSlot(slotAddr uintptr) *kernel.Error {
	for p.freeMapLo > slotAddr {
		if p.freeMapLo <= p.mappedEnd {
			return ErrOutOfMemory
		}

		pageAddr := p.freeMapLo - uintptr(mem.PageSize)
		frame, err := p.allocFrame()
		if err != nil {
			return err
		}
		if err := mapRangeFn(vmm.ActiveTable(), pageAddr, frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		mem.Memset(pageAddr, 0, mem.PageSize)
		p.freeMapLo = pageAddr
	}
	return nil
}

// freeSlot is the layout of a recycled object: just the next link, reusing
// the object's own storage (it is dead at this point).
type freeSlot struct {
	next uintptr
}

// Alloc returns a zeroed object from the pool, reusing a reclaimed slot if
// one is available (LIFO) and otherwise bumping the allocation pointer.
func (p *Pool) Alloc() (unsafe.Pointer, *kernel.Error) {
	if p.freeTop < p.base+vmm.PoolReservationSize {
		top := (*freeSlot)(unsafe.Pointer(p.freeTop))
		addr := p.freeTop
		p.freeTop = top.next
		mem.Memset(addr, 0, mem.Size(p.objectSize))
		return unsafe.Pointer(addr), nil
	}

	if err := p.ensureMappedForAlloc(); err != nil {
		return nil, err
	}

	addr := p.allocPtr
	p.allocPtr += p.objectSize
	return unsafe.Pointer(addr), nil
}

// Free pushes obj back onto the pool's reclaim stack, which grows downward
// from the top of the pool's 1 TiB window.
func (p *Pool) Free(obj unsafe.Pointer) *kernel.Error {
	addr := uintptr(obj)
	newTop := p.freeTop - p.objectSize
	if newTop < p.allocPtr {
		return errors.New("pool", kernel.KindInvalidArgument, "free-stack would overrun the allocation cursor")
	}

	if err := p.ensureMappedForFreeSlot(newTop); err != nil {
		return err
	}

	slot := (*freeSlot)(unsafe.Pointer(newTop))
	slot.next = p.freeTop
	p.freeTop = newTop
	_ = addr // obj's own contents are irrelevant once freed
	return nil
}

// Of returns the Pool that owns addr, recovered by aligning addr down to a
// 1 TiB boundary relative to the pool reservation base.
func Of(addr uintptr) (*Pool, *kernel.Error) {
	if addr < vmm.PoolReservationBase {
		return nil, ErrWrongPool
	}
	idx := int((addr - vmm.PoolReservationBase) / vmm.PoolReservationSize)
	if idx < 0 || idx >= maxPools || registry[idx] == nil {
		return nil, ErrWrongPool
	}
	return registry[idx], nil
}

// Index returns the pool's registered index.
func (p *Pool) Index() int { return p.index }
