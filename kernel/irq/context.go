package irq

import "hendkernel/kernel/proc"

// activeFrame is the trap frame the assembly common interrupt-return stub
// restores once the Go handler it was called from returns, the Go side of
// the {cr3, rsp} info region spec.md 4.6 describes and the original's
// CURRENT_PROCESS-driven context_switch.S handoff.
var activeFrame *proc.TrapFrame

// SwitchTo activates next's page table and publishes its trap frame as
// the one the next iret restores, handing the CPU to it once the calling
// handler returns. Used by the timer tick and by any syscall that cannot
// simply return to its caller (exit, a blocking waitpid).
func SwitchTo(next *proc.Process) {
	next.Table.Activate()
	activeFrame = &next.Frame
}
