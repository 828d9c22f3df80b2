package vmm

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
)

var (
	// frameAllocator points to a frame allocator function registered via
	// SetFrameAllocator. Missing intermediate page tables are allocated
	// from it.
	frameAllocator FrameAllocatorFn

	// the following are mocked by tests and automatically inlined by the
	// compiler when building the kernel image.
	flushTLBEntryFn = flushTLBEntry
	activePDTFn     = activePDT
	switchPDTFn     = switchPDT

	errNoHugePageSupport = errors.New("vmm", kernel.KindNotSupported, "huge pages are not supported for this operation")
	errBadTableWalk      = errors.New("vmm", kernel.KindInvalidArgument, "page table walk hit a missing intermediate table")

	// ErrInvalidMapping is returned by Unmap for addresses that
	// are not currently mapped.
	ErrInvalidMapping = errors.New("vmm", kernel.KindNotFound, "address is not mapped")
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// FrameAllocatorSizedFn allocates a physical region of exactly size bytes
// (mem.PageSize or mem.Mb*2), for callers that must match a huge-page leaf.
type FrameAllocatorSizedFn func(size mem.Size) (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used
// whenever a VMM operation needs to allocate a new 4K physical frame (page
// table frames, ...).
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

// sizedFrameAllocator points to a frame allocator function registered via
// SetSizedFrameAllocator, able to hand back regions larger than a single 4K
// frame. It stays nil until the bitmap allocator takes over from the early
// bootstrap allocator, which only ever hands out 4K frames.
var sizedFrameAllocator FrameAllocatorSizedFn

// SetSizedFrameAllocator registers the allocator function used to satisfy
// huge-page-sized frame requests, such as copy-on-write resolution of a
// 2 MiB or 1 GiB leaf.
func SetSizedFrameAllocator(allocFn FrameAllocatorSizedFn) {
	sizedFrameAllocator = allocFn
}

// allocFrameOfSize returns a fresh physical region of exactly size, routing
// through the sized allocator for anything larger than a single 4K frame so
// callers matching a huge-page leaf never get back an undersized frame.
func allocFrameOfSize(size mem.Size) (pmm.Frame, *kernel.Error) {
	if size <= mem.PageSize {
		return frameAllocator()
	}
	if sizedFrameAllocator == nil {
		return pmm.InvalidFrame, errNoHugePageSupport
	}
	return sizedFrameAllocator(size)
}

// Table identifies an address space by the physical frame holding its PML4.
type Table struct {
	PML4 pmm.Frame
}

// ActiveTable returns the Table currently loaded into CR3.
func ActiveTable() Table {
	return Table{PML4: pmm.Frame(activePDTFn() >> mem.PageShift)}
}

// Activate loads t as the active address space and flushes the TLB.
func (t Table) Activate() {
	switchPDTFn(t.PML4.Address())
}

// tableView returns a pointer to the 512-entry page table stored in frame f,
// using the kernel's direct physical map so any table (belonging to any
// process, active or not) can be read or written in place.
func tableView(f pmm.Frame) *[512]pageTableEntry {
	return (*[512]pageTableEntry)(unsafe.Pointer(DirectMap(f.Address())))
}

// entryAt walks table starting at its PML4 down to (level, index-at-level)
// for vaddr, allocating and zeroing missing intermediate tables along the
// way when alloc is true. It returns the entry at the requested level and
// the frame of the table that owns it.
func entryAt(table Table, vaddr uintptr, stopLevel uint8, alloc bool) (*pageTableEntry, pmm.Frame, *kernel.Error) {
	frame := table.PML4
	for level := uint8(0); level < stopLevel; level++ {
		tv := tableView(frame)
		idx := pageLevelIndex(level, vaddr)
		pte := &tv[idx]

		if !pte.HasFlags(FlagPresent) {
			if !alloc {
				return nil, 0, errBadTableWalk
			}

			newFrame, err := frameAllocator()
			if err != nil {
				return nil, 0, err
			}

			mem.Memset(DirectMap(newFrame.Address()), 0, mem.PageSize)

			*pte = 0
			pte.SetFrame(newFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUser)
		} else if pte.HasFlags(FlagHugePage) {
			return nil, 0, errNoHugePageSupport
		} else if alloc {
			// Pre-existing intermediate entries get FlagRW|FlagUser
			// OR'd in, whatever flags the caller is establishing
			// for the leaf; no flag is ever cleared.
			pte.SetFlags(FlagRW | FlagUser)
		}

		frame = pte.Frame()
	}

	tv := tableView(frame)
	idx := pageLevelIndex(stopLevel, vaddr)
	return &tv[idx], frame, nil
}

// MapRange establishes a mapping for count pages of pageSize starting at
// vaddr to count physical frames starting at frameStart, in table. Missing
// intermediate tables are allocated from the PMM and zeroed. A page_size of
// mem.Mb*2 or mem.Gb short-circuits to a PD/PDPT huge-page leaf.
func MapRange(table Table, vaddr uintptr, frameStart pmm.Frame, count uint64, pageSize mem.Size, flags PageTableEntryFlag) *kernel.Error {
	stopLevel, step := leafLevelFor(pageSize)

	for i := uint64(0); i < count; i++ {
		va := vaddr + uintptr(i)*step
		frame := frameStart + pmm.Frame(i)*pmm.Frame(step/mem.PageSize)

		pte, _, err := entryAt(table, va, stopLevel, true)
		if err != nil {
			return err
		}

		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | flags)
		if stopLevel < pageLevels-1 {
			pte.SetFlags(FlagHugePage)
		}

		if table == ActiveTable() {
			flushTLBEntryFn(va)
		}
	}

	return nil
}

// leafLevelFor returns the paging level whose leaf matches pageSize and the
// byte stride between consecutive pages of that size.
func leafLevelFor(pageSize mem.Size) (uint8, uintptr) {
	switch {
	case pageSize >= mem.Gb:
		return 1, 1 << 30
	case pageSize >= mem.Mb*2:
		return 2, 1 << 21
	default:
		return 3, 1 << 12
	}
}

// LookupResult describes the outcome of a Lookup call.
type LookupResult struct {
	Frame   pmm.Frame
	Flags   PageTableEntryFlag
	Present bool
}

// Lookup walks table stopping at the first present large-page or 4 KiB
// leaf for vaddr and returns its raw entry information plus the page size
// it maps.
func Lookup(table Table, vaddr uintptr) (LookupResult, mem.Size) {
	frame := table.PML4
	for level := uint8(0); level < pageLevels; level++ {
		tv := tableView(frame)
		idx := pageLevelIndex(level, vaddr)
		pte := tv[idx]

		if !pte.HasFlags(FlagPresent) {
			return LookupResult{}, 0
		}

		if level == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			return LookupResult{Frame: pte.Frame(), Flags: pte.flagBits(), Present: true}, mem.Size(leafSizeForLevel(level))
		}

		frame = pte.Frame()
	}

	return LookupResult{}, 0
}

// flagBits returns every flag bit set on pte (used by Lookup to report the
// raw entry flags back to the caller).
func (pte pageTableEntry) flagBits() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) &^ addrMask)
}

// Unmap removes a mapping previously installed via MapRange.
func Unmap(table Table, vaddr uintptr) *kernel.Error {
	pte, _, err := entryAt(table, vaddr, pageLevels-1, false)
	if err != nil {
		return ErrInvalidMapping
	}

	pte.ClearFlags(FlagPresent)
	if table == ActiveTable() {
		flushTLBEntryFn(vaddr)
	}

	return nil
}

// MapPage establishes a single 4 KiB mapping in the active table, the
// one-page-at-a-time shape kernel/goruntime's Go runtime allocator hooks
// need while carving out their own heap before any process exists to own
// a Table of its own.
func MapPage(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return MapRange(ActiveTable(), page.Address(), frame, 1, mem.PageSize, flags)
}

// MapTemporary establishes a temporary RW mapping of frame at a single
// reserved virtual page in the active table, overwriting any previous
// temporary mapping. Used to initialize a frame (e.g. zero a fresh page
// table) before it is linked into any table.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	if err := MapRange(ActiveTable(), tempMappingAddr, frame, 1, mem.PageSize, FlagRW); err != nil {
		return 0, err
	}

	return PageFromAddress(tempMappingAddr), nil
}

// UnmapTemporary removes the mapping established by MapTemporary.
func UnmapTemporary(page Page) *kernel.Error {
	return Unmap(ActiveTable(), page.Address())
}
