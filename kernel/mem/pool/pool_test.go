package pool

import (
	"testing"
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// hostBackedFrames hands out sequential frames backed by real host memory,
// and a mapRangeFn stand-in that treats "mapping" a page as a no-op since
// the returned frame address already aliases host memory 1:1 in these
// tests (no translation through vmm.DirectMap is exercised here).
func hostBackedFrames(t *testing.T, pages int) func() (pmm.Frame, *kernel.Error) {
	t.Helper()
	backing := make([]byte, pages*int(mem.PageSize))
	next := 0
	return func() (pmm.Frame, *kernel.Error) {
		if next >= pages {
			return pmm.InvalidFrame, ErrOutOfMemory
		}
		addr := uintptr(unsafe.Pointer(&backing[next*int(mem.PageSize)]))
		next++
		return pmm.Frame(addr >> mem.PageShift), nil
	}
}

func withNoopMapRange(t *testing.T) func() {
	t.Helper()
	orig := mapRangeFn
	mapRangeFn = func(vmm.Table, uintptr, pmm.Frame, uint64, mem.Size, vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}
	return func() { mapRangeFn = orig }
}

// newHostPool builds a Pool whose window is a real, page-aligned host
// buffer instead of the fixed 141 TiB+ virtual constant, so Alloc/Free can
// be exercised against real, dereferenceable memory.
func newHostPool(t *testing.T, objectSize uintptr, windowPages int) *Pool {
	t.Helper()

	// Allocate an aligned window directly: the frame addresses returned
	// by hostBackedFrames are already page-aligned, but p.base/p.freeTop
	// need to be a coherent page-aligned span too so ensureMappedFor*
	// never observes fractional pages. We simply give the pool a base
	// equal to the first frame it will be handed, which is what kmain
	// effectively does for a real 1 TiB window.
	frames := hostBackedFrames(t, windowPages)
	firstFrame, err := frames()
	if err != nil {
		t.Fatalf("unexpected error reserving base frame: %v", err)
	}

	base := firstFrame.Address()
	return &Pool{
		objectSize: (objectSize + 7) &^ 7,
		base:       base,
		allocPtr:   base,
		mappedEnd:  base,
		freeTop:    base + uintptr(windowPages-1)*uintptr(mem.PageSize),
		freeMapLo:  base + uintptr(windowPages-1)*uintptr(mem.PageSize),
		allocFrame: frames,
	}
}

func TestPoolAllocBumpsAndZeroes(t *testing.T) {
	defer withNoopMapRange(t)()

	p := newHostPool(t, 64, 4)

	obj1, err := p.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj2, err := p.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if uintptr(obj2)-uintptr(obj1) != p.objectSize {
		t.Fatalf("expected consecutive allocations to be objectSize apart; got %d", uintptr(obj2)-uintptr(obj1))
	}

	buf := unsafe.Slice((*byte)(obj1), p.objectSize)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected freshly allocated object to be zeroed; byte %d = %d", i, b)
		}
	}
}

func TestPoolFreeThenAllocReuses(t *testing.T) {
	defer withNoopMapRange(t)()

	p := newHostPool(t, 32, 4)

	obj1, err := p.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Free(obj1); err != nil {
		t.Fatalf("unexpected error freeing: %v", err)
	}

	obj2, err := p.Alloc()
	if err != nil {
		t.Fatalf("unexpected error re-allocating: %v", err)
	}

	if obj2 != obj1 {
		t.Fatalf("expected the freed slot to be reused (LIFO); got a fresh bump allocation instead")
	}
}

func TestOfRecoversOwningPool(t *testing.T) {
	allocFrame := func() (pmm.Frame, *kernel.Error) { return pmm.InvalidFrame, ErrOutOfMemory }

	p0, err := New(0, 48, allocFrame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p1, err := New(1, 96, allocFrame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	probe0 := p0.base + 5*p0.objectSize
	probe1 := p1.base + vmm.PoolReservationSize - 8

	got0, err := Of(probe0)
	if err != nil || got0 != p0 {
		t.Errorf("expected Of(%x) to resolve to pool 0; got %v, err=%v", probe0, got0, err)
	}

	got1, err := Of(probe1)
	if err != nil || got1 != p1 {
		t.Errorf("expected Of(%x) to resolve to pool 1; got %v, err=%v", probe1, got1, err)
	}

	if _, err := Of(vmm.PoolReservationBase - 1); err != ErrWrongPool {
		t.Errorf("expected an address below the reservation base to report ErrWrongPool")
	}
}

func TestNewRejectsOutOfRangeIndex(t *testing.T) {
	allocFrame := func() (pmm.Frame, *kernel.Error) { return pmm.InvalidFrame, ErrOutOfMemory }
	if _, err := New(-1, 8, allocFrame); err == nil {
		t.Error("expected New(-1, ...) to fail")
	}
	if _, err := New(maxPools, 8, allocFrame); err == nil {
		t.Error("expected New(maxPools, ...) to fail")
	}
}
