package vmm

import (
	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem"
)

// ErrNotCopyOnWrite is returned by ResolveCOW when the faulting mapping is
// not eligible for copy-on-write resolution (present but writable already,
// or not present at all). The caller (the page-fault dispatcher in
// kernel/irq) is expected to raise SIGBUS/SIGSEGV in that case.
var ErrNotCopyOnWrite = errors.New("vmm", kernel.KindInvalidArgument, "faulting page is not a copy-on-write mapping")

// ResolveCOW handles a write fault on table for faultingVaddr that hit a
// present page whose COW bit is set: it allocates a fresh frame of the
// same size as the faulting leaf, copies the original frame's contents
// into it, and replaces the mapping with writable=true, cow=false pointing
// at the new frame. The source frame is left untouched and remains
// readable (and, if still shared, writable-after-its-own-COW) by other
// sharers.
func ResolveCOW(table Table, faultingVaddr uintptr) *kernel.Error {
	pte, _, err := entryAt(table, faultingVaddr, pageLevels-1, false)
	level := uint8(pageLevels - 1)
	if err != nil {
		// Might be a huge-page leaf one level up; retry shallower.
		for l := uint8(0); l < pageLevels-1; l++ {
			if p, _, e := entryAt(table, faultingVaddr, l, false); e == nil && (l == pageLevels-1 || p.HasFlags(FlagHugePage)) {
				pte, level, err = p, l, nil
				break
			}
		}
		if err != nil {
			return ErrNotCopyOnWrite
		}
	}

	if !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagRW) || !pte.HasFlags(FlagCopyOnWrite) {
		return ErrNotCopyOnWrite
	}

	pageSize := mem.Size(leafSizeForLevel(level))

	newFrame, ferr := allocFrameOfSize(pageSize)
	if ferr != nil {
		return ferr
	}

	mem.Memcopy(DirectMap(pte.Frame().Address()), DirectMap(newFrame.Address()), pageSize)

	pte.ClearFlags(FlagCopyOnWrite)
	pte.SetFlags(FlagPresent | FlagRW)
	pte.SetFrame(newFrame)

	if table == ActiveTable() {
		flushTLBEntryFn(faultingVaddr)
	}

	return nil
}
