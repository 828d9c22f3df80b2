package vmm

import (
	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
)

// TiB is one tebibyte, used throughout the fixed kernel virtual memory
// layout below.
const TiB = 1 << 40

// Fixed virtual memory regions, expressed as an offset from the start of
// the canonical high half. All of them sit in the kernel's half of the
// address space (the top 256 PML4 entries) and are therefore identical
// across every process, since every PML4 shares that half verbatim (see
// Fork).
const (
	// KernelDirectMapBase is where all physical memory is mapped 1:1 so
	// that any VMM operation can dereference a page table belonging to
	// any process's table, active or not, "via its physical address" as
	// required by spec.md 4.2, without temporary mapping dances.
	KernelDirectMapBase = 1 * TiB

	KernelCodeBase       = 128 * TiB
	KernelStacksBase     = 129 * TiB
	KernelHeapBase       = 130 * TiB
	PageAllocTablesBase  = 131 * TiB
	GlobalVarsBase       = 134 * TiB
	FramebufferBase      = 135 * TiB
	PoolReservationBase  = 141 * TiB
	PoolReservationSize  = TiB
	IDMapArenaBase       = 144 * TiB

	// tempMappingAddr is a single reserved page used by MapTemporary to
	// splice an arbitrary physical frame into the kernel's own address
	// space (e.g. to zero a freshly allocated page table before it is
	// linked in).
	tempMappingAddr = PageAllocTablesBase - mem.PageSize
)

// earlyReserveNext is the next unreserved address EarlyReserveRegion will
// hand out, bumped upward through the KernelHeapBase..PageAllocTablesBase
// span as the Go runtime's allocator carves out address space for itself
// during boot, before the permanent heap/pool machinery exists.
var earlyReserveNext uintptr = KernelHeapBase

var errEarlyReserveExhausted = errors.New("vmm", kernel.KindAllocationFailure, "early reserve region exhausted the kernel heap span")

// EarlyReserveRegion reserves a page-aligned, page-rounded span of size
// bytes of virtual address space in the kernel heap span and returns its
// start address, without establishing any mapping. It is only safe to call
// during early kernel bootstrap (the Go runtime's sysReserve/sysAlloc,
// wired in kernel/goruntime), before the permanent allocator takes over.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)
	if earlyReserveNext+uintptr(size) > PageAllocTablesBase {
		return 0, errEarlyReserveExhausted
	}
	addr := earlyReserveNext
	earlyReserveNext += uintptr(size)
	return addr, nil
}

// DirectMap translates a physical address into the kernel virtual address
// that maps it 1:1.
func DirectMap(physAddr uintptr) uintptr {
	return KernelDirectMapBase + physAddr
}

// KernelMirrorOf maps a user virtual address belonging to the process whose
// kernel-memory-index is kernelIndex into the kernel's per-process mirror
// window, per spec.md 4.2's "kernel virtual-address helper": the kernel
// pre-maps each running process's user pages at u + sectionSize*(2+i) so
// that after validating a user pointer it can be dereferenced without
// switching CR3.
func KernelMirrorOf(userAddr uintptr, kernelIndex int) uintptr {
	const sectionSize = 512 * TiB / 256 // one slot per possible mirror index within the high half's remaining span
	return userAddr + sectionSize*uintptr(2+kernelIndex)
}
