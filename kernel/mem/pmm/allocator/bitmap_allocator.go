package allocator

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/hal/multiboot"
	"hendkernel/kernel/kfmt/early"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

var (
	// FrameAllocator is the BitmapAllocator instance that serves as the
	// kernel's primary allocator once the early bootstrap allocator is
	// decommissioned.
	FrameAllocator BitmapAllocator

	// ErrOutOfMemory is returned by allocate when the free stack for the
	// requested granularity is empty (for 2 MiB requests, also once every
	// candidate popped from it has turned out to have a used subframe).
	ErrOutOfMemory = errors.New("bitmap_alloc", kernel.KindAllocationFailure, "no free frames available")

	// mapRangeFn and earlyAllocFrameFn are mocked by tests; automatically
	// inlined by the compiler when building the kernel image.
	mapRangeFn        = vmm.MapRange
	earlyAllocFrameFn = earlyAllocFrame

	// storageBaseAddr is the virtual address where the allocator's own
	// bitmaps and free stacks are mapped. Tests override it to point at
	// host-process memory they own.
	storageBaseAddr uintptr = vmm.PageAllocTablesBase
)

// frameBitmap is a flat, word-packed bitset addressed by a plain frame or
// superframe index.
type frameBitmap []uint64

func (b frameBitmap) test(i uint64) bool { return b[i>>6]&(1<<(i&63)) != 0 }
func (b frameBitmap) set(i uint64)       { b[i>>6] |= 1 << (i & 63) }
func (b frameBitmap) clear(i uint64)     { b[i>>6] &^= 1 << (i & 63) }

// frameStack is a fixed-capacity LIFO of frame indices. Its backing array is
// sized for the worst case (every tracked frame free) at setup time, so
// push/pop never need to grow it.
type frameStack struct {
	frames []pmm.Frame
	top    int
}

func (s *frameStack) push(f pmm.Frame) {
	if s.top >= len(s.frames) {
		return
	}
	s.frames[s.top] = f
	s.top++
}

func (s *frameStack) pop() (pmm.Frame, bool) {
	if s.top == 0 {
		return pmm.InvalidFrame, false
	}
	s.top--
	return s.frames[s.top], true
}

// BitmapAllocator tracks physical frame reservations using two bitmaps, one
// per 4 KiB frame and one per 2 MiB superframe, plus a free-list stack for
// each granularity. The invariant maintained throughout is: a superframe's
// bit is set if and only if at least one of its 512 constituent 4 KiB
// frames is in use.
type BitmapAllocator struct {
	totalFrames    uint64
	reservedFrames uint64

	frameBits frameBitmap
	superBits frameBitmap

	free4K frameStack
	free2M frameStack
}

// reserve marks count frames (or superframes, when size is 2 MiB) starting
// at frameStart as permanently reserved. It only mutates the bitmaps; the
// free stacks are populated afterwards by buildFreeStacks.
func (alloc *BitmapAllocator) reserve(frameStart pmm.Frame, count uint64, size mem.Size) {
	if size >= mem.Mb*2 {
		startSuper := frameStart.Superframe()
		for i := uint64(0); i < count; i++ {
			super := startSuper + i
			alloc.superBits.set(super)
			base := super * pmm.FramesPerSuperframe
			for f := base; f < base+pmm.FramesPerSuperframe && f < alloc.totalFrames; f++ {
				alloc.frameBits.set(f)
			}
		}
		return
	}

	for i := uint64(0); i < count; i++ {
		frame := uint64(frameStart) + i
		if frame >= alloc.totalFrames {
			return
		}
		alloc.frameBits.set(frame)
		alloc.superBits.set(frame / pmm.FramesPerSuperframe)
	}
}

// buildFreeStacks must be called once, after every reserve call has run. It
// walks both bitmaps and pushes every fully-free superframe onto the 2 MiB
// stack, and every free 4 KiB frame belonging to a non-fully-free superframe
// onto the 4 KiB stack. Any frame whose accounting disagrees with its
// superframe's bit (a free superframe containing a used frame, or vice
// versa) is resolved conservatively by marking the whole superframe used.
func (alloc *BitmapAllocator) buildFreeStacks() {
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
			alloc.superBits.set(s)
			anyUsed = true
		}

		if !anyUsed && end-base == pmm.FramesPerSuperframe {
			alloc.free2M.push(pmm.Frame(base))
			continue
		}

		for f := base; f < end; f++ {
			if !alloc.frameBits.test(f) {
				alloc.free4K.push(pmm.Frame(f))
			}
		}
	}
}

// allocate pops a free frame (or superframe, for size >= 2 MiB) and marks it
// used. It never blocks; ErrOutOfMemory is returned once the matching stack
// is exhausted.
func (alloc *BitmapAllocator) allocate(size mem.Size) (pmm.Frame, *kernel.Error) {
	if size >= mem.Mb*2 {
		const maxDirtyCandidates = 3
		for attempt := 0; attempt < maxDirtyCandidates; attempt++ {
			frame, ok := alloc.free2M.pop()
			if !ok {
				return pmm.InvalidFrame, ErrOutOfMemory
			}

			base := frame.Superframe() * pmm.FramesPerSuperframe
			clean := true
			for f := base; f < base+pmm.FramesPerSuperframe; f++ {
				if alloc.frameBits.test(f) {
					clean = false
					break
				}
			}
			if !clean {
				// Accounting drifted since this entry was pushed;
				// discard it and try the next candidate.
				continue
			}

			for f := base; f < base+pmm.FramesPerSuperframe; f++ {
				alloc.frameBits.set(f)
			}
			alloc.superBits.set(frame.Superframe())
			alloc.reservedFrames += pmm.FramesPerSuperframe
			return frame, nil
		}
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	frame, ok := alloc.free4K.pop()
	if !ok {
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	alloc.frameBits.set(uint64(frame))
	alloc.superBits.set(frame.Superframe())
	alloc.reservedFrames++
	return frame, nil
}

// free clears the bits for frame (and, for a 2 MiB region, every subordinate
// 4 KiB frame) and pushes the released indices back onto the matching
// stack(s). Freeing an already-free region is a no-op.
func (alloc *BitmapAllocator) free(frame pmm.Frame, size mem.Size) {
	if size >= mem.Mb*2 {
		base := frame.Superframe() * pmm.FramesPerSuperframe
		for f := base; f < base+pmm.FramesPerSuperframe; f++ {
			if !alloc.frameBits.test(f) {
				continue
			}
			alloc.frameBits.clear(f)
			alloc.free4K.push(pmm.Frame(f))
		}
		alloc.superBits.clear(frame.Superframe())
		alloc.free2M.push(pmm.Frame(base))
		alloc.reservedFrames -= pmm.FramesPerSuperframe
		return
	}

	if !alloc.frameBits.test(uint64(frame)) {
		return
	}

	alloc.frameBits.clear(uint64(frame))
	alloc.reservedFrames--
	alloc.free4K.push(frame)

	super := frame.Superframe()
	base := super * pmm.FramesPerSuperframe
	anyUsed := false
	for f := base; f < base+pmm.FramesPerSuperframe; f++ {
		if alloc.frameBits.test(f) {
			anyUsed = true
			break
		}
	}
	if !anyUsed {
		alloc.superBits.clear(super)
		alloc.free2M.push(pmm.Frame(base))
	}
}

// Allocate reserves and returns one free physical region of the requested
// size (mem.PageSize for a 4 KiB frame, mem.Mb*2 for a 2 MiB superframe).
func (alloc *BitmapAllocator) Allocate(size mem.Size) (pmm.Frame, *kernel.Error) {
	return alloc.allocate(size)
}

// Free releases a region previously returned by Allocate.
func (alloc *BitmapAllocator) Free(frame pmm.Frame, size mem.Size) {
	alloc.free(frame, size)
}

// Allocate4K satisfies vmm.FrameAllocatorFn; it is the allocator function
// registered with the VMM once the bitmap allocator takes over from the
// early bootstrap allocator.
func (alloc *BitmapAllocator) Allocate4K() (pmm.Frame, *kernel.Error) {
	return alloc.allocate(mem.PageSize)
}

// AllocFrame is the package-level single-4K-frame allocator kernel/goruntime's
// Go runtime bootstrap hooks use to back freshly reserved address space,
// once FrameAllocator has taken over from the early bootstrap allocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return FrameAllocator.Allocate4K()
}

// init brings the bitmap allocator online: it sizes and maps storage for
// its own bitmaps and free stacks, reserves everything that must never be
// handed out (non-available memory regions, the kernel image, and whatever
// the early allocator already gave away), builds the free stacks and
// registers itself as the VMM's frame source from that point on.
func (alloc *BitmapAllocator) init(kernelStart, kernelEnd uintptr) *kernel.Error {
	alloc.totalFrames = detectTotalFrames()

	if err := alloc.setupStorage(); err != nil {
		return err
	}

	alloc.reserveUnavailableRegions()
	alloc.reserveKernelFrames(kernelStart, kernelEnd)
	alloc.reserveEarlyAllocatorFrames()
	alloc.buildFreeStacks()
	alloc.printStats()

	vmm.SetFrameAllocator(alloc.Allocate4K)
	vmm.SetSizedFrameAllocator(alloc.Allocate)
	return nil
}

// setupStorage maps enough freshly allocated frames at vmm.PageAllocTablesBase
// to hold both bitmaps and both free stacks (sized for the worst case, every
// frame free), then overlays Go slices on top of that virtual range.
func (alloc *BitmapAllocator) setupStorage() *kernel.Error {
	superCount := (alloc.totalFrames + pmm.FramesPerSuperframe - 1) / pmm.FramesPerSuperframe

	frameBitsWords := (alloc.totalFrames + 63) / 64
	superBitsWords := (superCount + 63) / 64

	frameBitsBytes := mem.Size(frameBitsWords * 8)
	superBitsBytes := mem.Size(superBitsWords * 8)
	free4KBytes := mem.Size(alloc.totalFrames * 8)
	free2MBytes := mem.Size(superCount * 8)

	totalBytes := frameBitsBytes + superBitsBytes + free4KBytes + free2MBytes
	pageCount := totalBytes.Pages()

	vaddr := storageBaseAddr
	for i := uint32(0); i < pageCount; i++ {
		frame, err := earlyAllocFrameFn()
		if err != nil {
			return err
		}

		pageAddr := vaddr + uintptr(i)*uintptr(mem.PageSize)
		if err := mapRangeFn(vmm.ActiveTable(), pageAddr, frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
		mem.Memset(pageAddr, 0, mem.PageSize)
	}

	cursor := vaddr
	alloc.frameBits = sliceU64(cursor, frameBitsWords)
	cursor += uintptr(frameBitsBytes)
	alloc.superBits = sliceU64(cursor, superBitsWords)
	cursor += uintptr(superBitsBytes)
	alloc.free4K.frames = sliceFrame(cursor, alloc.totalFrames)
	cursor += uintptr(free4KBytes)
	alloc.free2M.frames = sliceFrame(cursor, superCount)

	return nil
}

func sliceU64(addr uintptr, words uint64) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(addr)), int(words))
}

func sliceFrame(addr uintptr, count uint64) []pmm.Frame {
	return unsafe.Slice((*pmm.Frame)(unsafe.Pointer(addr)), int(count))
}

// detectTotalFrames returns one past the highest frame number described by
// any reported memory region, available or not; this is the span the
// bitmaps need to cover.
func detectTotalFrames() uint64 {
	var maxFrame uint64
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		_, endFrame := regionFrameRange(region)
		if f := uint64(endFrame) + 1; f > maxFrame {
			maxFrame = f
		}
		return true
	})
	return maxFrame
}

// regionFrameRange converts a memory-map entry's byte range into an
// inclusive frame range, rounding the start up and the end down to whole
// frames (reported addresses are not guaranteed to be page-aligned).
func regionFrameRange(region *multiboot.MemoryMapEntry) (pmm.Frame, pmm.Frame) {
	pageSizeMinus1 := uint64(mem.PageSize - 1)
	startFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
	endFrame := pmm.Frame(((region.PhysAddress+region.Length) &^ pageSizeMinus1) >> mem.PageShift)
	if endFrame > 0 {
		endFrame--
	}
	return startFrame, endFrame
}

// reserveUnavailableRegions starts from "everything reserved" and then
// clears the bits covering each region the UEFI/multiboot memory map
// reports as available, so that unmapped holes between regions stay
// reserved by default rather than by omission.
func (alloc *BitmapAllocator) reserveUnavailableRegions() {
	for i := range alloc.frameBits {
		alloc.frameBits[i] = ^uint64(0)
	}
	for i := range alloc.superBits {
		alloc.superBits[i] = ^uint64(0)
	}

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		startFrame, endFrame := regionFrameRange(region)
		for f := uint64(startFrame); f <= uint64(endFrame) && f < alloc.totalFrames; f++ {
			alloc.frameBits.clear(f)
		}
		return true
	})

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
		if anyUsed {
			alloc.superBits.set(s)
		} else {
			alloc.superBits.clear(s)
		}
	}
}

// reserveKernelFrames flags the frames occupied by the kernel image as
// reserved. The kernel is assumed to occupy a single contiguous range.
func (alloc *BitmapAllocator) reserveKernelFrames(kernelStart, kernelEnd uintptr) {
	startFrame := pmm.Frame(kernelStart >> mem.PageShift)
	endFrame := pmm.Frame(kernelEnd >> mem.PageShift)
	alloc.reserve(startFrame, uint64(endFrame-startFrame)+1, mem.PageSize)
}

// reserveEarlyAllocatorFrames flags every frame the early bootstrap
// allocator already gave out as reserved. The early allocator tracks only a
// count of allocations, not the individual frames, so its internal cursor
// is reset and the allocation sequence is replayed to recover them.
func (alloc *BitmapAllocator) reserveEarlyAllocatorFrames() {
	allocCount := EarlyAllocator.allocCount
	EarlyAllocator.allocCount, EarlyAllocator.lastAllocIndex = 0, -1
	for i := uint64(0); i < allocCount; i++ {
		frame, _ := EarlyAllocator.AllocFrame(0)
		alloc.reserve(frame, 1, mem.PageSize)
	}
}

func (alloc *BitmapAllocator) printStats() {
	early.Printf(
		"[bitmap_alloc] frame stats: free: %d/%d (%d reserved)\n",
		alloc.totalFrames-alloc.reservedFrames,
		alloc.totalFrames,
		alloc.reservedFrames,
	)
}

// earlyAllocFrame delegates a single-frame allocation request to the early
// bootstrap allocator. It is passed to vmm.SetFrameAllocator instead of
// EarlyAllocator.AllocFrame directly, since the latter's method value
// confuses escape analysis into thinking the allocator itself escapes to
// the heap.
func earlyAllocFrame() (pmm.Frame, *kernel.Error) {
	return EarlyAllocator.AllocFrame(0)
}

// Init sets up the kernel's physical memory allocation subsystem: the early
// bootstrap allocator first, then the VMM's own bootstrap state (which
// needs a frame source to reserve its zeroed COW page), and finally the
// permanent bitmap allocator, which takes over as the VMM's frame source
// once it is built.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	EarlyAllocator.Init()

	vmm.SetFrameAllocator(earlyAllocFrame)

	if err := vmm.Init(); err != nil {
		return err
	}

	return FrameAllocator.init(kernelStart, kernelEnd)
}
