package proc

import (
	"testing"
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/mem/vmm"
)

// fakeIDTable is a plain in-memory stand-in for *idmap.Table, satisfying
// idTable. idmap.Table's own chaining/freelist behavior is exercised by
// kernel/idmap's tests; the scheduler only needs something that behaves
// like a map for these tests, since its real node arena lives at a fixed
// virtual address this hosted test process never maps.
type fakeIDTable map[uint32]unsafe.Pointer

func (f fakeIDTable) Insert(key uint32, val unsafe.Pointer) *kernel.Error {
	if _, ok := f[key]; ok {
		return errors.New("idmap", kernel.KindAlreadyExists, "key already present")
	}
	f[key] = val
	return nil
}

func (f fakeIDTable) Lookup(key uint32) (unsafe.Pointer, *kernel.Error) {
	v, ok := f[key]
	if !ok {
		return nil, errors.New("idmap", kernel.KindNotFound, "key not present")
	}
	return v, nil
}

func (f fakeIDTable) Delete(key uint32) *kernel.Error {
	if _, ok := f[key]; !ok {
		return errors.New("idmap", kernel.KindNotFound, "key not present")
	}
	delete(f, key)
	return nil
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return &Scheduler{
		pids:     fakeIDTable{},
		pgids:    fakeIDTable{},
		sids:     fakeIDTable{},
		nextPID:  1,
		children: map[uint64][]*Process{},
	}
}

// childProcess builds a Process the way Scheduler.Fork would, minus the
// vmm.Fork call (which requires a live page-table/frame-allocator
// environment this hosted test does not have), and splices it into the
// scheduler's bookkeeping exactly as Fork does.
func childProcess(s *Scheduler, parent *Process) *Process {
	child := &Process{
		PID:     s.nextPID,
		PPID:    parent.PID,
		PGID:    parent.PGID,
		SID:     parent.SID,
		State:   Runnable,
		Group:   parent.Group,
		Session: parent.Session,
	}
	s.nextPID++
	s.pids.Insert(uint32(child.PID), unsafe.Pointer(child))
	child.Group.Add(child)
	child.Session.Add(child)
	s.children[parent.PID] = append(s.children[parent.PID], child)
	s.insertRing(parent, child)
	return child
}

func TestInitBootSingleMemberRing(t *testing.T) {
	s := newTestScheduler(t)
	boot, err := s.InitBoot(vmm.Table{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.NextRunnable(); got != boot {
		t.Fatalf("expected the sole ring member to be scheduled again; got %p want %p", got, boot)
	}
}

func TestRunRingSkipsBlockedProcesses(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	a := childProcess(s, boot)
	b := childProcess(s, boot)

	s.Block(b)

	s.current = boot
	first := s.NextRunnable()
	if first.State == Blocking {
		t.Fatalf("NextRunnable must never return a Blocking process")
	}

	// Ring order is boot -> b -> a (each child is spliced in right after
	// its parent); since b is blocked the very next runnable process from
	// boot must be a.
	if first != a {
		t.Fatalf("expected a to be the next runnable process; got pid %d", first.PID)
	}
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	a := childProcess(s, boot)

	s.Block(a)
	if a.State != Blocking {
		t.Fatalf("expected Blocking state")
	}

	s.Unblock(a)
	if a.State != Runnable {
		t.Fatalf("expected Runnable state after Unblock")
	}
}

func TestExitRemovesFromRunRingAndUnblocksWaitingParent(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	boot.WaitAny = true
	s.Block(boot)

	s.Exit(child, 7)

	if child.State != Zombie {
		t.Fatalf("expected Zombie state after Exit")
	}
	if boot.State != Runnable {
		t.Fatalf("expected waiting parent to be unblocked by child Exit")
	}
	if s.ringLen != 1 {
		t.Fatalf("expected exited child removed from run ring; ringLen=%d", s.ringLen)
	}
}

func TestWaitReapsMatchingZombieChild(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	child := childProcess(s, boot)

	s.Exit(child, 3)

	pid, status, err := s.Wait(boot, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != child.PID || status != 3 {
		t.Fatalf("expected (pid=%d, status=3); got (pid=%d, status=%d)", child.PID, pid, status)
	}

	if _, err := s.Lookup(child.PID); err == nil {
		t.Fatalf("expected reaped child's pid entry to be gone")
	}
}

func TestWaitNoChildrenReturnsErrNoChildren(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})

	if _, _, err := s.Wait(boot, 0); err != ErrNoChildren {
		t.Fatalf("expected ErrNoChildren; got %v", err)
	}
}

func TestWaitSpecificPidIgnoresOtherZombies(t *testing.T) {
	s := newTestScheduler(t)
	boot, _ := s.InitBoot(vmm.Table{})
	a := childProcess(s, boot)
	b := childProcess(s, boot)

	s.Exit(a, 1)

	pid, _, err := s.Wait(boot, b.PID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != 0 {
		t.Fatalf("expected no matching zombie for b's pid yet; got pid=%d", pid)
	}

	s.Exit(b, 2)
	pid, status, err := s.Wait(boot, b.PID)
	if err != nil || pid != b.PID || status != 2 {
		t.Fatalf("expected (pid=%d, status=2); got (pid=%d, status=%d, err=%v)", b.PID, pid, status, err)
	}
}
