package allocator

import (
	"testing"
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/hal/multiboot"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// fixedFrameSource hands out sequential frames from a host-owned backing
// array, standing in for the early bootstrap allocator while bitmap
// allocator storage is being mapped in tests.
func fixedFrameSource(backing []byte) func() (pmm.Frame, *kernel.Error) {
	next := 0
	pagesAvail := len(backing) / int(mem.PageSize)
	return func() (pmm.Frame, *kernel.Error) {
		if next >= pagesAvail {
			return pmm.InvalidFrame, ErrOutOfMemory
		}
		addr := uintptr(unsafe.Pointer(&backing[next*int(mem.PageSize)]))
		next++
		return pmm.Frame(addr >> mem.PageShift), nil
	}
}

func withStubbedAllocatorEnv(t *testing.T, storage []byte) func() {
	t.Helper()

	origMapRangeFn, origEarlyAllocFn, origStorageBase := mapRangeFn, earlyAllocFrameFn, storageBaseAddr

	mapRangeFn = func(vmm.Table, uintptr, pmm.Frame, uint64, mem.Size, vmm.PageTableEntryFlag) *kernel.Error {
		return nil
	}
	earlyAllocFrameFn = fixedFrameSource(storage)
	storageBaseAddr = uintptr(unsafe.Pointer(&storage[0]))

	return func() {
		mapRangeFn, earlyAllocFrameFn, storageBaseAddr = origMapRangeFn, origEarlyAllocFn, origStorageBase
	}
}

func TestBitmapAllocatorSetupStorage(t *testing.T) {
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	var alloc BitmapAllocator
	alloc.totalFrames = detectTotalFrames()

	// Backing store for the captured memory map, which reaches frame
	// 0xFFFFF: the free-4K stack alone takes one 8-byte entry per frame
	// (8 MiB), plus both bitmaps and the free-2M stack, rounded up to
	// whole pages by setupStorage itself (about 8.2 MiB in all).
	storage := make([]byte, 9*int(mem.Mb))
	restore := withStubbedAllocatorEnv(t, storage)
	defer restore()

	if err := alloc.setupStorage(); err != nil {
		t.Fatalf("unexpected error from setupStorage: %v", err)
	}

	superCount := (alloc.totalFrames + pmm.FramesPerSuperframe - 1) / pmm.FramesPerSuperframe
	if exp, got := int((alloc.totalFrames+63)/64), len(alloc.frameBits); got != exp {
		t.Errorf("expected frameBits to have %d words; got %d", exp, got)
	}
	if exp, got := int((superCount+63)/64), len(alloc.superBits); got != exp {
		t.Errorf("expected superBits to have %d words; got %d", exp, got)
	}
	if exp, got := int(alloc.totalFrames), len(alloc.free4K.frames); got != exp {
		t.Errorf("expected free4K backing array to have %d slots; got %d", exp, got)
	}
	if exp, got := int(superCount), len(alloc.free2M.frames); got != exp {
		t.Errorf("expected free2M backing array to have %d slots; got %d", exp, got)
	}
}

func newTestAllocator(t *testing.T) (*BitmapAllocator, func()) {
	t.Helper()

	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&multibootMemoryMap[0])))

	alloc := &BitmapAllocator{}
	alloc.totalFrames = detectTotalFrames()

	storage := make([]byte, 9*int(mem.Mb))
	restore := withStubbedAllocatorEnv(t, storage)

	if err := alloc.setupStorage(); err != nil {
		t.Fatalf("setupStorage: %v", err)
	}

	alloc.reserveUnavailableRegions()
	alloc.buildFreeStacks()

	return alloc, restore
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	alloc, restore := newTestAllocator(t)
	defer restore()

	free4KBefore := alloc.free4K.top
	frame, err := alloc.Allocate(mem.PageSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alloc.frameBits.test(uint64(frame)) {
		t.Fatalf("expected frame %d bit to be set after Allocate", frame)
	}
	if alloc.free4K.top != free4KBefore-1 {
		t.Fatalf("expected free4K stack to shrink by one")
	}

	alloc.Free(frame, mem.PageSize)
	if alloc.frameBits.test(uint64(frame)) {
		t.Fatalf("expected frame %d bit to be cleared after Free", frame)
	}
	if alloc.free4K.top != free4KBefore {
		t.Fatalf("expected free4K stack to be restored to its pre-allocation depth")
	}
}

func TestAllocate2MRefusedWhileSubframeUsed(t *testing.T) {
	alloc, restore := newTestAllocator(t)
	defer restore()

	super, ok := alloc.free2M.pop()
	if !ok {
		t.Skip("no free superframe available in the captured memory map")
	}
	alloc.free2M.push(super)

	// Mark one subordinate 4 KiB frame used without updating the
	// superframe bit, simulating the inconsistency the allocator must
	// defend against.
	sub := uint64(super) + 3
	alloc.frameBits.set(sub)

	frame, err := alloc.Allocate(mem.Mb * 2)
	if err == nil {
		if frame.Superframe() == super.Superframe() {
			t.Fatalf("expected the inconsistent superframe to be skipped, got it back")
		}
	}

	alloc.frameBits.clear(sub)
}

func TestAllocateExhaustion(t *testing.T) {
	alloc, restore := newTestAllocator(t)
	defer restore()

	for {
		if _, err := alloc.Allocate(mem.PageSize); err != nil {
			if err != ErrOutOfMemory {
				t.Fatalf("expected ErrOutOfMemory once exhausted; got %v", err)
			}
			break
		}
	}

	if _, err := alloc.Allocate(mem.PageSize); err != ErrOutOfMemory {
		t.Fatalf("expected further allocations to keep failing with ErrOutOfMemory")
	}
}

func TestSuperframeBitInvariant(t *testing.T) {
	alloc, restore := newTestAllocator(t)
	defer restore()

	superCount := (alloc.totalFrames + pmm.FramesPerSuperframe - 1) / pmm.FramesPerSuperframe
	for s := uint64(0); s < superCount; s++ {
		base := s * pmm.FramesPerSuperframe
		end := base + pmm.FramesPerSuperframe
		if end > alloc.totalFrames {
			end = alloc.totalFrames
		}

		anyUsed := false
		for f := base; f < end; f++ {
			if alloc.frameBits.test(f) {
				anyUsed = true
				break
			}
		}

		if anyUsed != alloc.superBits.test(s) {
			t.Errorf("superframe %d: bit=%v but anyUsed=%v", s, alloc.superBits.test(s), anyUsed)
		}
	}
}
