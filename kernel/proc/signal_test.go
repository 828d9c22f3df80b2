package proc

import (
	"testing"

	"hendkernel/kernel/mem/vmm"
)

func TestClassifyCoreDumping(t *testing.T) {
	for _, sig := range []Signal{SigKill, SigSegv, SigBus, SigIll, SigFpe, SigAbrt, SigQuit, SigSys, SigTrap, SigXcpu, SigXfsz} {
		if got := classify(sig); got != SigTerminate {
			t.Errorf("expected signal %d to classify as SigTerminate; got %v", sig, got)
		}
		if !coreDumping[sig] {
			t.Errorf("expected signal %d to be in the core-dumping set", sig)
		}
	}
}

func TestClassifyPlainTerminating(t *testing.T) {
	for _, sig := range []Signal{SigTerm, SigHup, SigInt, SigPipe, SigStkflt, SigAlrm, SigUsr1, SigUsr2, SigIo, SigPwr, SigProf, SigVtalrm} {
		if got := classify(sig); got != SigTerminate {
			t.Errorf("expected signal %d to classify as SigTerminate; got %v", sig, got)
		}
		if coreDumping[sig] {
			t.Errorf("signal %d must not be in the core-dumping set", sig)
		}
	}
}

func TestClassifyIgnored(t *testing.T) {
	for _, sig := range []Signal{SigChld, SigUrg, SigWinch} {
		if got := classify(sig); got != SigIgnore {
			t.Errorf("expected signal %d to classify as SigIgnore; got %v", sig, got)
		}
	}
}

func TestClassifyStopping(t *testing.T) {
	for _, sig := range []Signal{SigStop, SigTstp, SigTtin, SigTtou} {
		if got := classify(sig); got != SigStop {
			t.Errorf("expected signal %d to classify as SigStop; got %v", sig, got)
		}
	}
}

func TestDeliverCoreDumpingSetsStatusBit(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Signal(child, SigSegv)
	if terminated := s.Deliver(child); !terminated {
		t.Fatalf("expected Deliver to report termination")
	}

	want := int(SigSegv) | coreDumpBit
	if child.ExitStatus != want {
		t.Fatalf("expected exit status %d (SIGSEGV | 0x80); got %d", want, child.ExitStatus)
	}
	if child.State != Zombie {
		t.Fatalf("expected Zombie state after a terminating signal is delivered")
	}
}

func TestDeliverPlainTerminatingDoesNotSetStatusBit(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Signal(child, SigTerm)
	s.Deliver(child)

	if child.ExitStatus != int(SigTerm) {
		t.Fatalf("expected exit status %d; got %d", int(SigTerm), child.ExitStatus)
	}
}

func TestDeliverIgnoredHasNoEffect(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Signal(child, SigChld)
	if terminated := s.Deliver(child); terminated {
		t.Fatalf("SigChld must never terminate its target")
	}
	if child.State != Runnable {
		t.Fatalf("expected state to remain Runnable after an ignored signal")
	}
}

func TestDeliverStopThenContinue(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Signal(child, SigTstp)
	s.Deliver(child)
	if child.State != Blocking {
		t.Fatalf("expected SigTstp to block the target")
	}

	s.Signal(child, SigCont)
	s.Deliver(child)
	if child.State != Runnable {
		t.Fatalf("expected SigCont to unblock the target")
	}
}

func TestSignalIdempotentWhilePending(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Signal(child, SigChld)
	first := child.Pending
	s.Signal(child, SigChld)

	if child.Pending != first {
		t.Fatalf("expected a second identical pending signal to be a no-op")
	}
}

func TestGroupSignalReachesEveryMember(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	a := childProcess(s, boot)
	b := childProcess(s, boot)

	s.GroupSignal(boot.Group, SigInt)

	for _, p := range []*Process{boot, a, b} {
		if p.Pending.Sig != SigInt {
			t.Errorf("expected pid %d to have SigInt pending; got %v", p.PID, p.Pending.Sig)
		}
	}
}
