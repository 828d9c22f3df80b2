package irq

import (
	"hendkernel/kernel/mem/vmm"
	"hendkernel/kernel/proc"
)

// Page-fault error code bits (Intel SDM Vol. 3A, 4.7).
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
)

// pageFaultHandler implements spec.md 4.6's #PF policy: a write fault on a
// present, copy-on-write page resolves via vmm.ResolveCOW and returns
// normally; a present fault that isn't COW-eligible raises SIGBUS; a
// not-present fault raises SIGSEGV.
func pageFaultHandler(code uint64, _ *Frame, _ *Regs) {
	cur := sched.Current()
	faultAddr := faultingAddress()

	if code&pfWrite != 0 && code&pfPresent != 0 {
		if err := vmm.ResolveCOW(cur.Table, faultAddr); err == nil {
			return
		}
	}

	sched.Signal(cur, classifyPageFault(code))
}

// classifyPageFault maps a #PF error code that did not resolve via COW to
// the signal it raises.
func classifyPageFault(code uint64) proc.Signal {
	if code&pfPresent == 0 {
		return proc.SigSegv
	}
	return proc.SigBus
}

// faultingAddress reads CR2, the faulting linear address. Backed by
// assembly; declared here so classifyPageFault/pageFaultHandler's policy
// stays testable without it.
func faultingAddress() uintptr

// gpfHandler implements spec.md 4.6's #GP policy: error code 0 signals a
// non-segment-related general protection fault (SIGILL); a non-zero code
// whose external or LDT/IDT bit is set, or with a null selector, means a
// bad segment reference from outside the immediate instruction (SIGSEGV);
// anything else is treated as SIGILL.
func gpfHandler(code uint64, _ *Frame, _ *Regs) {
	sched.Signal(sched.Current(), classifyGPF(code))
}

// classifyGPF decodes a #GP error code's selector, external and LDT/IDT
// bits per the Intel SDM's description of the GP fault error code format.
func classifyGPF(code uint64) proc.Signal {
	if code == 0 {
		return proc.SigIll
	}

	external := code&(1<<0) != 0
	ldtOrIDT := code&(1<<1|1<<2) != 0
	selector := uint16(code>>3) & 0x1FFF

	if external || ldtOrIDT || selector == 0 {
		return proc.SigSegv
	}
	return proc.SigIll
}
