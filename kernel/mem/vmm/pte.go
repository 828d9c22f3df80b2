package vmm

import "hendkernel/kernel/mem/pmm"

// PageTableEntryFlag describes the flag bits that can be set on a page table
// entry at any of the four paging levels.
type PageTableEntryFlag uint64

// The subset of x86_64 page-table-entry flags this kernel interprets. Bit 9
// (one of the three bits the CPU ignores on every entry) is repurposed as
// the software copy-on-write marker, per spec.
const (
	FlagPresent PageTableEntryFlag = 1 << 0
	FlagRW      PageTableEntryFlag = 1 << 1
	FlagUser    PageTableEntryFlag = 1 << 2
	// FlagHugePage is the PS bit; at the PDPT level it selects a 1 GiB
	// leaf, at the PD level a 2 MiB leaf.
	FlagHugePage PageTableEntryFlag = 1 << 7
	// FlagCopyOnWrite is a software-only bit: present && !writable &&
	// copy-on-write means the page must be privately copied before a
	// write may proceed.
	FlagCopyOnWrite PageTableEntryFlag = 1 << 9
	FlagNoExecute   PageTableEntryFlag = 1 << 63

	addrMask = 0x000ffffffffff000
)

type pageTableEntry uint64

func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uint64(pte)&uint64(flags) == uint64(flags)
}

func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uint64(pte) & addrMask) >> 12)
}

func (pte *pageTableEntry) SetFrame(f pmm.Frame) {
	*pte = pageTableEntry((uint64(*pte) &^ addrMask) | (uint64(f) << 12 & addrMask))
}

// pageLevels is the number of levels in the x86_64 paging radix (PML4, PDPT,
// PD, PT).
const pageLevels = 4

// pageLevelShift returns the bit offset of the index for paging level
// (0=PML4 .. 3=PT) inside a virtual address.
func pageLevelShift(level uint8) uint {
	return uint(39 - 9*level)
}

// pageLevelIndex extracts the 9-bit index for paging level from a virtual
// address.
func pageLevelIndex(level uint8, vaddr uintptr) int {
	return int((vaddr >> pageLevelShift(level)) & 0x1ff)
}

// leafSizeForLevel returns the mapping granularity a present leaf at this
// level represents (the PT level always maps 4 KiB; PD/PDPT may map a huge
// page).
func leafSizeForLevel(level uint8) uintptr {
	switch level {
	case 1:
		return 1 << 30 // PDPT huge page: 1 GiB
	case 2:
		return 1 << 21 // PD huge page: 2 MiB
	default:
		return 1 << 12 // PT leaf: 4 KiB
	}
}
