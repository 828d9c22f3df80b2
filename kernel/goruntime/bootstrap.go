// Package goruntime bootstraps the Go runtime's memory allocator on top of
// this kernel's own VMM/PMM, before any scheduler or process exists to own
// a page table: every mapping these hooks install lands in the currently
// active (boot) table, which every later process table inherits verbatim
// through its shared kernel half.
package goruntime

import (
	"unsafe"

	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm/allocator"
	"hendkernel/kernel/mem/vmm"
)

var (
	mapPageFn            = vmm.MapPage
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	allocFrameFn         = allocator.AllocFrame
)

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

func pageRound(size uintptr) mem.Size {
	return (mem.Size(size) + mem.PageSize - 1) &^ (mem.PageSize - 1)
}

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionStart, err := earlyReserveRegionFn(pageRound(size))
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStart)
}

// sysMap establishes a copy-on-write mapping for a particular memory region
// that has been reserved previously via a call to sysReserve.
//
// This function replaces runtime.sysMap and is required for initializing the
// Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	regionStart := (uintptr(virtAddr) + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	regionSize := pageRound(size)

	flags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagCopyOnWrite
	page := vmm.PageFromAddress(regionStart)
	for remaining := regionSize >> mem.PageShift; remaining > 0; remaining-- {
		if err := mapPageFn(page, vmm.ReservedZeroedFrame, flags); err != nil {
			return nil
		}
		page++
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStart)
}

// sysAlloc reserves enough physical frames to satisfy the allocation
// request and establishes a contiguous virtual page mapping for them,
// returning a pointer to the start of the mapped region.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := pageRound(size)
	regionStart, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return nil
	}

	flags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagRW
	page := vmm.PageFromAddress(regionStart)
	for remaining := regionSize >> mem.PageShift; remaining > 0; remaining-- {
		frame, err := allocFrameFn()
		if err != nil {
			return nil
		}
		if err := mapPageFn(page, frame, flags); err != nil {
			return nil
		}
		page++
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStart)
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file; the real callers are wired in via //go:redirect-from at
	// link time.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
}
