// Package irq installs the IDT and routes CPU exceptions, the timer and
// device interrupts, and the syscall gate to their handlers (spec.md 4.6).
// The common entry stub (pushed trap frame, IDT load, gate install) is
// assembly, declared here as bodiless functions in the manner of
// kernel/cpu's register accessors; the dispatch and exception-to-signal
// policy is ordinary Go so it can be unit tested independently of a live
// IDT.
package irq

import "hendkernel/kernel/proc"

// ExceptionNum identifies one of the CPU's fixed 32 exception vectors.
type ExceptionNum uint8

const (
	DivideByZero       = ExceptionNum(0)
	Debug              = ExceptionNum(1)
	NMI                = ExceptionNum(2)
	Breakpoint         = ExceptionNum(3)
	Overflow           = ExceptionNum(4)
	BoundRangeExceeded = ExceptionNum(5)
	InvalidOpcode      = ExceptionNum(6)
	DeviceNotAvailable = ExceptionNum(7)
	DoubleFault        = ExceptionNum(8)
	InvalidTSS         = ExceptionNum(10)
	SegmentNotPresent  = ExceptionNum(11)
	StackSegmentFault  = ExceptionNum(12)
	GPFException       = ExceptionNum(13)
	PageFaultException = ExceptionNum(14)
	FPUException       = ExceptionNum(16)
	AlignmentCheck     = ExceptionNum(17)
	MachineCheck       = ExceptionNum(18)
	SIMDFPException    = ExceptionNum(19)
)

// IRQ base and reserved gates, per spec.md 4.6.
const (
	gateCount   = 256
	irqBase     = 0x20
	timerIRQ    = 0x20
	keyboardIRQ = 0x21
	mouseIRQ    = 0x2C
	syscallGate = 0x80
)

// Regs is the snapshot of general-purpose registers the common entry stub
// pushes onto the interrupt stack before calling into Go.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Frame is the CPU-pushed return frame every interrupt gate receives.
type Frame struct {
	RIP, CS, RFlags, RSP, SS uint64
}

// ExceptionHandler handles an exception that pushes no error code.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that pushes an error code.
type ExceptionHandlerWithCode func(code uint64, frame *Frame, regs *Regs)

// HandleException registers handler for an exception vector that carries
// no error code.
func HandleException(num ExceptionNum, handler ExceptionHandler)

// HandleExceptionWithCode registers handler for an exception vector that
// carries an error code.
func HandleExceptionWithCode(num ExceptionNum, handler ExceptionHandlerWithCode)

// HandleIRQ registers handler for a hardware interrupt vector (>= irqBase).
func HandleIRQ(vector uint8, handler func(*Frame, *Regs))

// installIDT populates all 256 gate descriptors and loads the IDT register.
// Every gate is initially absent; Init below installs the handlers this
// package understands before any interrupt can legally occur.
func installIDT()

// sched is the scheduler instance irq dispatches timer ticks and signals
// against; wired by Init.
var sched *proc.Scheduler

// Init installs the IDT and registers every handler this kernel knows
// about: exception-to-signal translation, the page-fault COW fast path,
// the timer tick, and the keyboard/mouse ISRs. s is the live scheduler.
func Init(s *proc.Scheduler) {
	sched = s
	installIDT()

	HandleException(DivideByZero, signalingHandler(proc.SigFpe))
	HandleException(Debug, signalingHandler(proc.SigTrap))
	HandleException(Breakpoint, signalingHandler(proc.SigTrap))
	HandleException(Overflow, signalingHandler(proc.SigSegv))
	HandleException(BoundRangeExceeded, signalingHandler(proc.SigSegv))
	HandleException(InvalidOpcode, signalingHandler(proc.SigIll))
	HandleException(DeviceNotAvailable, signalingHandler(proc.SigSegv))
	HandleExceptionWithCode(InvalidTSS, codedSignalingHandler(proc.SigBus))
	HandleExceptionWithCode(SegmentNotPresent, codedSignalingHandler(proc.SigSegv))
	HandleExceptionWithCode(StackSegmentFault, codedSignalingHandler(proc.SigSegv))
	HandleExceptionWithCode(GPFException, gpfHandler)
	HandleExceptionWithCode(PageFaultException, pageFaultHandler)
	HandleException(FPUException, signalingHandler(proc.SigFpe))
	HandleExceptionWithCode(AlignmentCheck, codedSignalingHandler(proc.SigBus))
	HandleException(SIMDFPException, signalingHandler(proc.SigFpe))

	HandleIRQ(timerIRQ, timerHandler)
	HandleIRQ(keyboardIRQ, keyboardHandler)
	HandleIRQ(mouseIRQ, mouseHandler)
	HandleIRQ(syscallGate, syscallHandler)
}

// syscallDispatch is invoked on every INT 0x80 trap; wired by
// SetSyscallHandler once kernel/syscall builds its dispatch table. It is a
// hook rather than a direct call because kernel/syscall already imports
// kernel/irq (for SwitchTo), so the reverse import would cycle.
var syscallDispatch func(p *proc.Process)

// SetSyscallHandler registers the function invoked on every syscall gate
// trap, passed the process that issued it.
func SetSyscallHandler(fn func(p *proc.Process)) {
	syscallDispatch = fn
}

func syscallHandler(*Frame, *Regs) {
	if syscallDispatch != nil {
		syscallDispatch(sched.Current())
	}
}

// signalingHandler builds an ExceptionHandler that delivers sig to the
// currently scheduled process and otherwise ignores the trap frame.
func signalingHandler(sig proc.Signal) ExceptionHandler {
	return func(*Frame, *Regs) {
		sched.Signal(sched.Current(), sig)
	}
}

// codedSignalingHandler is the error-code-bearing equivalent of
// signalingHandler, for vectors that always carry a selector/error code but
// whose disposition does not depend on its value.
func codedSignalingHandler(sig proc.Signal) ExceptionHandlerWithCode {
	return func(uint64, *Frame, *Regs) {
		sched.Signal(sched.Current(), sig)
	}
}

// timerHandler advances the scheduler's run-ring cursor on every PIT tick,
// delivers any pending signal the next process in line is carrying, and
// hands control to the first candidate that is both past delivery and
// still Runnable (spec.md 4.5/4.6). Delivery can itself block or terminate
// a candidate (SigStop, a terminating signal), in which case the search
// continues to the next candidate.
func timerHandler(*Frame, *Regs) {
	for next := sched.NextRunnable(); next != nil; next = sched.NextRunnable() {
		if terminated := sched.Deliver(next); !terminated && next.State == proc.Runnable {
			SwitchTo(next)
			return
		}
	}
}

// keyboardHandler drains the keyboard scancode queue into the foreground
// virtual console's line discipline. The actual scancode source is device
// driver state outside this package; keyboardDrain is wired by whichever
// driver owns IRQ1.
var keyboardDrain = func() {}

func keyboardHandler(*Frame, *Regs) {
	keyboardDrain()
}

// mouseDrain is the equivalent hook for IRQ12.
var mouseDrain = func() {}

func mouseHandler(*Frame, *Regs) {
	mouseDrain()
}

// SetKeyboardDrain registers the function invoked on every keyboard IRQ.
func SetKeyboardDrain(fn func()) { keyboardDrain = fn }

// SetMouseDrain registers the function invoked on every mouse IRQ.
func SetMouseDrain(fn func()) { mouseDrain = fn }
