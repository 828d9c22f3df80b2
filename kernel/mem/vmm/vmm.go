// Package vmm implements the 4-level x86_64 virtual memory manager: mapping,
// lookup, copy-on-write fork and page-fault resolution. All of its
// operations accept an explicit Table so they can freely manipulate any
// process's page table (active or not) through the kernel's direct physical
// memory map, per spec.md 4.2.
package vmm

import (
	"hendkernel/kernel"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
)

// ReservedZeroedFrame is a single physical frame, permanently zeroed, that
// every lazily-faulted-in anonymous page is mapped to with FlagCopyOnWrite
// set until the first write triggers ResolveCOW and gives the writer a
// private copy.
var ReservedZeroedFrame pmm.Frame

// Init sets up the VMM's own bootstrap state: it reserves and zeroes the
// single physical frame used to back lazily-faulted anonymous pages.
// Registering the page-fault and general-protection exception handlers is
// kernel/irq's responsibility, since the policy for what happens on a
// non-recoverable fault (raise a signal vs. halt) belongs to the interrupt
// dispatch component, not the VMM itself.
func Init() *kernel.Error {
	frame, err := frameAllocator()
	if err != nil {
		return err
	}

	mem.Memset(DirectMap(frame.Address()), 0, mem.PageSize)
	ReservedZeroedFrame = frame
	return nil
}
