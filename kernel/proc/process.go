// Package proc implements process records, groups, sessions and the
// round-robin scheduler run ring described in spec.md 4.5. A process is
// Runnable, Blocking or Zombie; transitions are driven exclusively through
// this package's Block/Unblock/Exit/Fork entry points so the run
// ring invariant (every scheduled, non-terminated process appears exactly
// once) always holds.
package proc

import (
	"hendkernel/kernel/fd"
	"hendkernel/kernel/mem/vmm"
)

// State is one of the three process lifecycle states from spec.md 4.5.
type State uint8

const (
	Runnable State = iota
	Blocking
	Zombie
)

// TrapFrame is the saved register/processor state restored by the iret
// stub on every context switch; it mirrors the layout kernel/irq pushes
// onto the interrupt stack (general registers plus the CPU-pushed
// rip/cs/rflags/rsp/ss quintet).
type TrapFrame struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	RIP, CS, RFlags, RSP, SS uint64
}

// PendingSignal is a sum type for the at-most-one-queued pending signal
// slot, replacing the original's bare integer re-interpreted at delivery
// time (spec.md 9, "Signals as a pending integer slot").
type PendingSignal struct {
	Kind SignalKind
	Sig  Signal
}

// SignalKind classifies what a pending signal will do to its target when
// delivered.
type SignalKind uint8

const (
	SigNone SignalKind = iota
	SigTerminate
	SigStop
	SigContinue
	SigIgnore
)

// Process is a single schedulable unit of execution: its saved trap frame,
// owning page table, membership in the PID/group/session maps, and the
// resources it owns (file descriptors, cwd).
type Process struct {
	Frame TrapFrame
	Table vmm.Table

	PID, PPID, PGID, SID uint64

	// KernelIndex is this process's slot in the kernel's per-process
	// user-memory mirror window (vmm.KernelMirrorOf's second argument).
	KernelIndex int

	State State

	// prev/next form this process's intrusive membership in the
	// scheduler's run ring; meaningless while State == Zombie.
	prev, next *Process

	Group   *Group
	Session *Session

	Cwd  interface{} // *vfs.Entry; kept as interface{} to avoid an import cycle with kernel/fs/vfs
	FDs  fd.Table
	Pending PendingSignal

	ExitStatus int

	// HeapEnd/SharedEnd are the watermarks sbrk-like heap extension and
	// shared-mapping syscalls advance.
	HeapEnd   uintptr
	SharedEnd uintptr

	// WaitingFor is the pid argument of a blocked waitpid call (0 means
	// "any child", matching waitpid(-1) semantics mapped down to this
	// single-CPU kernel's lack of negative-pid process groups beyond
	// plain "any").
	WaitingFor uint64
	WaitAny    bool

	// exited is set by Exit and consumed by the parent's Wait so
	// a waitpid blocked on this exact pid can be unblocked without a
	// separate notification channel.
	exited bool
}

// Group is a POSIX-style process group: the set of processes sharing a
// pgid, used for signal fan-out and controlling-terminal association.
type Group struct {
	PGID      uint64
	Processes []*Process

	// ForegroundOf, if non-nil, is the console device this group is the
	// foreground group of (spec.md 4.12).
	ForegroundOf interface{}
}

// Session is a POSIX-style session: the set of processes sharing a sid.
type Session struct {
	SID       uint64
	Processes []*Process
}

// Add appends p to the group's process array.
func (g *Group) Add(p *Process) {
	g.Processes = append(g.Processes, p)
}

// Remove drops p from the group's process array.
func (g *Group) Remove(p *Process) {
	for i, q := range g.Processes {
		if q == p {
			g.Processes = append(g.Processes[:i], g.Processes[i+1:]...)
			return
		}
	}
}

// Add appends p to the session's process array.
func (s *Session) Add(p *Process) {
	s.Processes = append(s.Processes, p)
}

// Remove drops p from the session's process array.
func (s *Session) Remove(p *Process) {
	for i, q := range s.Processes {
		if q == p {
			s.Processes = append(s.Processes[:i], s.Processes[i+1:]...)
			return
		}
	}
}
