package proc

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/idmap"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
)

// ErrNoChildren is returned by Wait when the calling process has none,
// mapped from the original's ECHILD per SPEC_FULL.md 6.5.
var ErrNoChildren = errors.New("proc", kernel.KindNotFound, "no child processes")

// idMapArenaStride separates the three idmap.Table node arenas within
// vmm.IDMapArenaBase so their page-mapping cursors never collide.
const idMapArenaStride = 16 * vmm.TiB

// idTable is the subset of *idmap.Table the scheduler needs. Keeping it as
// an interface rather than a concrete type lets hosted tests substitute a
// plain in-memory map, since idmap.Table's real node arena lives at a fixed
// huge virtual address that only exists once the kernel's own page tables
// are live.
type idTable interface {
	Insert(key uint32, val unsafe.Pointer) *kernel.Error
	Lookup(key uint32) (unsafe.Pointer, *kernel.Error)
	Delete(key uint32) *kernel.Error
}

// Scheduler owns the run ring's head cursor and the pid/pgid/sid maps, and
// is the sole mutator of process state transitions (spec.md 4.5).
type Scheduler struct {
	current *Process
	ringLen int

	pids  idTable
	pgids idTable
	sids  idTable

	nextPID uint64

	// children indexes each live/zombie process's children by parent pid.
	// idmap.Table has no iteration primitive (its buckets are keyed by
	// pid, not ppid), so Fork and reap maintain this side index purely so
	// Wait(pid=0) can find "any child" without scanning every bucket.
	children map[uint64][]*Process
}

// New constructs a Scheduler and its three id maps. allocFrame is the
// physical frame source the id maps use to grow their node arenas.
func New(allocFrame func() (pmm.Frame, *kernel.Error)) *Scheduler {
	return &Scheduler{
		pids:     idmap.New(vmm.IDMapArenaBase, allocFrame),
		pgids:    idmap.New(vmm.IDMapArenaBase+idMapArenaStride, allocFrame),
		sids:     idmap.New(vmm.IDMapArenaBase+2*idMapArenaStride, allocFrame),
		nextPID:  1,
		children: map[uint64][]*Process{},
	}
}

// InitBoot creates the boot/init process (pid 1) directly, never via Fork,
// and makes it the run ring's sole member, per SPEC_FULL.md 6.5(a).
func (s *Scheduler) InitBoot(table vmm.Table) (*Process, *kernel.Error) {
	p := &Process{
		PID:  1,
		PPID: 0,
		Table: table,
		State: Runnable,
	}
	p.prev, p.next = p, p

	grp := &Group{PGID: 1}
	grp.Add(p)
	p.PGID, p.Group = 1, grp

	sess := &Session{SID: 1}
	sess.Add(p)
	p.SID, p.Session = 1, sess

	if err := s.register(p); err != nil {
		return nil, err
	}

	s.current = p
	s.ringLen = 1
	s.nextPID = 2
	return p, nil
}

func (s *Scheduler) register(p *Process) *kernel.Error {
	if err := s.pids.Insert(uint32(p.PID), unsafe.Pointer(p)); err != nil {
		return err
	}
	if _, err := s.pgids.Lookup(uint32(p.PGID)); err != nil {
		s.pgids.Insert(uint32(p.PGID), unsafe.Pointer(p.Group))
	}
	if _, err := s.sids.Lookup(uint32(p.SID)); err != nil {
		s.sids.Insert(uint32(p.SID), unsafe.Pointer(p.Session))
	}
	return nil
}

// Current returns the process the scheduler is presently running.
func (s *Scheduler) Current() *Process { return s.current }

// Lookup returns the process registered under pid.
func (s *Scheduler) Lookup(pid uint64) (*Process, *kernel.Error) {
	v, err := s.pids.Lookup(uint32(pid))
	if err != nil {
		return nil, err
	}
	return (*Process)(v), nil
}

// insertRing splices p into the run ring immediately after anchor.
func (s *Scheduler) insertRing(anchor, p *Process) {
	p.next = anchor.next
	p.prev = anchor
	anchor.next.prev = p
	anchor.next = p
	s.ringLen++
}

// removeRing unlinks p from the run ring. p must not be the scheduler's
// last remaining member (the boot process is never removed while alive).
func (s *Scheduler) removeRing(p *Process) {
	if s.ringLen <= 1 {
		return
	}
	p.prev.next = p.next
	p.next.prev = p.prev
	if s.current == p {
		s.current = p.next
	}
	p.prev, p.next = nil, nil
	s.ringLen--
}

// NextRunnable advances the cursor to current.next and continues past any
// Blocking process until a Runnable one is found (spec.md 4.5). The ring
// always contains at least the boot process, which is never blocked, so
// this loop is guaranteed to terminate.
func (s *Scheduler) NextRunnable() *Process {
	if s.current == nil {
		return nil
	}
	n := s.current.next
	for n.State == Blocking {
		n = n.next
	}
	s.current = n
	return s.current
}

// Block transitions p to Blocking. p remains in the run ring (skipped by
// NextRunnable) so it can be found again once Unblock fires.
func (s *Scheduler) Block(p *Process) {
	p.State = Blocking
}

// Unblock transitions p back to Runnable.
func (s *Scheduler) Unblock(p *Process) {
	if p.State == Blocking {
		p.State = Runnable
	}
}

// Fork allocates a new process record, clones parent's trap frame and
// file-descriptor table, clones the page table via vmm.Fork (establishing
// copy-on-write on both sides), sets the child's saved rax to 0 and the
// parent's to the new pid, and splices the child into the run ring right
// after the parent.
func (s *Scheduler) Fork(parent *Process) (*Process, *kernel.Error) {
	childTable, err := vmm.Fork(parent.Table)
	if err != nil {
		return nil, err
	}

	child := &Process{
		Frame: parent.Frame,
		Table: childTable,
		PID:   s.nextPID,
		PPID:  parent.PID,
		PGID:  parent.PGID,
		SID:   parent.SID,
		State: Runnable,
		Group: parent.Group,
		Session: parent.Session,
		Cwd:       parent.Cwd,
		FDs:       parent.FDs,
		HeapEnd:   parent.HeapEnd,
		SharedEnd: parent.SharedEnd,
	}
	s.nextPID++

	child.Frame.RAX = 0
	parent.Frame.RAX = child.PID

	if err := s.pids.Insert(uint32(child.PID), unsafe.Pointer(child)); err != nil {
		return nil, err
	}
	child.Group.Add(child)
	child.Session.Add(child)

	s.children[parent.PID] = append(s.children[parent.PID], child)

	s.insertRing(parent, child)
	return child, nil
}

// Exit marks p Zombie, records status, removes it from the run ring, and —
// if its parent is blocked in Wait for exactly this pid or for "any child"
// — unblocks the parent and hands the status back via the parent/child
// handshake described in spec.md 4.5.
func (s *Scheduler) Exit(p *Process, status int) {
	p.State = Zombie
	p.ExitStatus = status
	p.exited = true
	p.FDs.CloseAll()

	p.Group.Remove(p)
	p.Session.Remove(p)

	s.removeRing(p)

	if parent, err := s.Lookup(p.PPID); err == nil {
		if parent.State == Blocking && (parent.WaitAny || parent.WaitingFor == p.PID) {
			s.Unblock(parent)
		}
	}
}

// Wait reaps the first zombie child matching pid (0 meaning "any child"),
// returning its pid and exit status. If no matching child has exited yet
// the caller is expected to have already called Block and is returning
// from having been unblocked by the matching child's Exit.
func (s *Scheduler) Wait(parent *Process, pid uint64) (uint64, int, *kernel.Error) {
	children := s.childrenOf(parent.PID)
	if len(children) == 0 {
		return 0, 0, ErrNoChildren
	}

	for _, c := range children {
		if c.exited && (pid == 0 || c.PID == pid) {
			s.reap(c)
			return c.PID, c.ExitStatus, nil
		}
	}

	return 0, 0, nil // caller blocks and retries after being unblocked
}

// reap destroys a zombie's record once its parent has collected its exit
// status, per spec.md 3's "Zombie → destroyed when the parent reaps".
func (s *Scheduler) reap(p *Process) {
	s.pids.Delete(uint32(p.PID))

	siblings := s.children[p.PPID]
	for i, c := range siblings {
		if c == p {
			s.children[p.PPID] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

// childrenOf returns the live/zombie children of ppid.
func (s *Scheduler) childrenOf(ppid uint64) []*Process {
	return s.children[ppid]
}

// Setpgid moves p into the group identified by pgid, creating that group
// the first time it is referenced, per setpgid(2) (restricted to this
// kernel's single-session model: no cross-session ownership checks).
func (s *Scheduler) Setpgid(p *Process, pgid uint64) *kernel.Error {
	if pgid == 0 {
		pgid = p.PID
	}

	v, err := s.pgids.Lookup(uint32(pgid))
	var grp *Group
	if err != nil {
		grp = &Group{PGID: pgid}
		if err := s.pgids.Insert(uint32(pgid), unsafe.Pointer(grp)); err != nil {
			return err
		}
	} else {
		grp = (*Group)(v)
	}

	p.Group.Remove(p)
	grp.Add(p)
	p.PGID, p.Group = pgid, grp
	return nil
}

// GroupByPGID returns the process group registered under pgid, used by a
// console device to resolve the group a Ctrl-C/Ctrl-\/Ctrl-Z needs to
// signal (spec.md 4.12).
func (s *Scheduler) GroupByPGID(pgid uint64) (*Group, *kernel.Error) {
	v, err := s.pgids.Lookup(uint32(pgid))
	if err != nil {
		return nil, err
	}
	return (*Group)(v), nil
}
