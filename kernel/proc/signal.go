package proc

// Signal enumerates the subset of POSIX signals this kernel recognizes,
// mirroring sig_t from the original process header. Delivery never reaches
// a userland handler (spec.md Non-goals) — every signal either terminates,
// stops, continues or is ignored, per the table in Deliver.
type Signal uint8

const (
	SigNone Signal = iota
	SigHup
	SigInt
	SigQuit
	SigIll
	SigTrap
	SigAbrt
	SigBus
	SigFpe
	SigKill
	SigUsr1
	SigSegv
	SigUsr2
	SigPipe
	SigAlrm
	SigTerm
	SigStkflt
	SigChld
	SigCont
	SigStop
	SigTstp
	SigTtin
	SigTtou
	SigUrg
	SigXcpu
	SigXfsz
	SigVtalrm
	SigProf
	SigWinch
	SigIo
	SigPwr
	SigSys
)

// coreDumpBit is ORed into the exit status of a process terminated by one
// of the signals whose original disposition in a POSIX shell dumps core.
const coreDumpBit = 0x80

// coreDumping is the set of signals that terminate a process with status =
// signal | coreDumpBit, per spec.md 4.5.
var coreDumping = map[Signal]bool{
	SigKill: true, SigSegv: true, SigBus: true, SigIll: true,
	SigFpe: true, SigAbrt: true, SigQuit: true, SigSys: true,
	SigTrap: true, SigXcpu: true, SigXfsz: true,
}

// plainTerminating is the set of signals that terminate a process with
// status = signal, unencoded.
var plainTerminating = map[Signal]bool{
	SigTerm: true, SigHup: true, SigInt: true, SigPipe: true,
	SigStkflt: true, SigAlrm: true, SigUsr1: true, SigUsr2: true,
	SigIo: true, SigPwr: true, SigProf: true, SigVtalrm: true,
}

// ignored is the set of signals that have no effect when delivered.
var ignored = map[Signal]bool{
	SigChld: true, SigUrg: true, SigWinch: true,
}

// stopping is the set of signals that put the target into Blocking until
// it receives SigCont.
var stopping = map[Signal]bool{
	SigStop: true, SigTstp: true, SigTtin: true, SigTtou: true,
}

// classify determines what Deliver does for sig.
func classify(sig Signal) SignalKind {
	switch {
	case sig == SigCont:
		return SigContinue
	case stopping[sig]:
		return SigStop
	case coreDumping[sig], plainTerminating[sig]:
		return SigTerminate
	default:
		return SigIgnore
	}
}

// Signal sets p's pending-signal slot, replacing any sentinel-free signal
// previously pending (spec.md 4.5's signal(process, sig)). A second
// delivery of the same signal while one is already pending is idempotent:
// SigChld in particular has no additional effect beyond the first (spec.md
// 8, "signal(P, SIGCHLD) is idempotent").
func (s *Scheduler) Signal(p *Process, sig Signal) {
	if p.Pending.Sig == sig && p.Pending.Kind != SigNone {
		return
	}
	p.Pending = PendingSignal{Kind: classify(sig), Sig: sig}
}

// GroupSignal delivers sig to every process in g, per spec.md 4.5's "Group
// signals iterate the group's process array."
func (s *Scheduler) GroupSignal(g *Group, sig Signal) {
	for _, p := range g.Processes {
		s.Signal(p, sig)
	}
}

// Deliver interprets p's pending signal slot at the return-to-userland
// boundary, applying the termination/stop/ignore/continue disposition and
// clearing the slot. It returns true if p was terminated (the caller must
// not resume it).
func (s *Scheduler) Deliver(p *Process) (terminated bool) {
	pending := p.Pending
	if pending.Kind == SigNone {
		return false
	}
	p.Pending = PendingSignal{}

	switch pending.Kind {
	case SigTerminate:
		status := int(pending.Sig)
		if coreDumping[pending.Sig] {
			status |= coreDumpBit
		}
		s.Exit(p, status)
		return true
	case SigStop:
		s.Block(p)
	case SigContinue:
		s.Unblock(p)
	case SigIgnore:
	}
	return false
}
