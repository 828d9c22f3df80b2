package vmm

import (
	"hendkernel/kernel"
	"hendkernel/kernel/mem"
)

// kernelHalfStart is the first PML4 index belonging to the kernel half of
// the address space. The top 256 entries (indices 256..511) are shared
// verbatim by every address space.
const kernelHalfStart = 256

// NewTable allocates a fresh address space with an empty user half and the
// kernel half shared verbatim with the currently active table, the minimal
// piece of Fork's kernel-half-copy step a brand new address space (one with
// no prior user mappings to clone, e.g. a fresh execve image) needs.
func NewTable() (Table, *kernel.Error) {
	frame, err := frameAllocator()
	if err != nil {
		return Table{}, err
	}
	mem.Memset(DirectMap(frame.Address()), 0, mem.PageSize)
	table := Table{PML4: frame}

	activeView := tableView(ActiveTable().PML4)
	view := tableView(frame)
	for i := kernelHalfStart; i < 512; i++ {
		view[i] = activeView[i]
	}
	return table, nil
}

// Fork produces a child page table that shares every present leaf frame in
// ref's user half with ref: for each such leaf that was writable, both the
// parent's and the child's mapping have their writable bit cleared and
// their copy-on-write bit set. Non-leaf tables in the user half are freshly
// allocated and recursed into. The kernel half is shared by copying the
// top 256 PML4 entries verbatim.
func Fork(ref Table) (Table, *kernel.Error) {
	childFrame, err := frameAllocator()
	if err != nil {
		return Table{}, err
	}
	mem.Memset(DirectMap(childFrame.Address()), 0, mem.PageSize)
	child := Table{PML4: childFrame}

	refPML4 := tableView(ref.PML4)
	childPML4 := tableView(child.PML4)

	// Kernel half: share verbatim.
	for i := kernelHalfStart; i < 512; i++ {
		childPML4[i] = refPML4[i]
	}

	// User half: recursively clone, establishing COW on shared leaves. We
	// walk by pointer into ref's tables so that the parent's own leaf
	// entries are demoted to read-only alongside the child's, per the
	// shared-mapping invariant.
	for i := 0; i < kernelHalfStart; i++ {
		if !refPML4[i].HasFlags(FlagPresent) {
			continue
		}

		childEntry, err := forkLevel(&refPML4[i], 0)
		if err != nil {
			return Table{}, err
		}
		childPML4[i] = childEntry
	}

	return child, nil
}

// forkLevel clones one present non-root entry reachable through refEntry,
// mutating refEntry itself when it demotes a shared leaf to read-only so
// that the parent's own mapping loses write access too. level identifies
// the paging level the entry lives at (0=PML4, 1=PDPT, 2=PD, 3=PT); level 3 entries
// (and any huge-page leaf at a shallower level) are shared leaves subject
// to COW, everything else is a table that needs a fresh frame and
// recursion.
func forkLevel(refEntry *pageTableEntry, level uint8) (pageTableEntry, *kernel.Error) {
	isLeaf := level == pageLevels-1 || refEntry.HasFlags(FlagHugePage)

	if isLeaf {
		if refEntry.HasFlags(FlagRW) {
			refEntry.ClearFlags(FlagRW)
			refEntry.SetFlags(FlagCopyOnWrite)
		}
		return *refEntry, nil
	}

	newFrame, err := frameAllocator()
	if err != nil {
		return 0, err
	}
	mem.Memset(DirectMap(newFrame.Address()), 0, mem.PageSize)

	refChild := tableView(refEntry.Frame())
	newChild := tableView(newFrame)

	for i := 0; i < 512; i++ {
		if !refChild[i].HasFlags(FlagPresent) {
			continue
		}

		entry, err := forkLevel(&refChild[i], level+1)
		if err != nil {
			return 0, err
		}
		newChild[i] = entry
	}

	var out pageTableEntry
	out.SetFrame(newFrame)
	out.SetFlags(refEntry.flagBits() &^ FlagCopyOnWrite)
	return out, nil
}
