// Package syscall implements the INT 0x80 entry point described in
// spec.md 4.6: a fixed 512-entry table indexed by rax, with arguments in
// rdi, rsi, rdx, r10, r8, r9 and the result (or a negative errno) left
// in rax. The table's shape and the four lowest-numbered entries (exit,
// execve, read, write) are carried verbatim from syscalls.c/syscalls.h;
// everything above them is this kernel's supplement (getcwd, chdir,
// open/close/dup2, setpgid/getpgid/getsid, waitpid, tcsetpgrp/tcgetpgrp,
// sbrk).
package syscall

import (
	"hendkernel/kernel"
	"hendkernel/kernel/fd"
	"hendkernel/kernel/irq"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
	"hendkernel/kernel/proc"
)

// TableSize is the fixed width of the syscall dispatch table.
const TableSize = 512

// Syscall numbers. The first four match SYSCALL_EXIT/EXECVE/INPUT/WRITE
// from syscalls.c exactly; the rest are this kernel's additions to reach
// the minimal set spec.md 4.6 names.
const (
	SysExit      = 1
	SysExecve    = 2
	SysRead      = 3
	SysWrite     = 4
	SysOpen      = 5
	SysClose     = 6
	SysDup2      = 7
	SysFork      = 8
	SysWaitpid   = 9
	SysGetcwd    = 10
	SysChdir     = 11
	SysSetpgid   = 12
	SysGetpgid   = 13
	SysGetsid    = 14
	SysTcsetpgrp = 15
	SysTcgetpgrp = 16
	SysSbrk      = 17
)

// maxPathLen bounds how far userCString scans for a NUL terminator, since
// a malicious or buggy caller might never supply one.
const maxPathLen = 256

// FileSystem is the subset of kernel/fs/vfs's path resolver the syscall
// layer needs. It is an interface, not a concrete *vfs.VFS, because vfs
// is built on top of this package's fd/open contract rather than the
// other way around; wiring a concrete type here would cycle.
type FileSystem interface {
	Open(cwd interface{}, path string, mode fd.AccessMode) (*fd.File, *kernel.Error)
	Getcwd(cwd interface{}) string
	Chdir(cwd interface{}, path string) (interface{}, *kernel.Error)
}

// Loader replaces a process's image for execve (spec.md 4.10): it loads
// an ELF binary into a fresh page table and resets the caller's trap
// frame and heap/shared watermarks. Implemented by kernel/exec/elf.
type Loader interface {
	Exec(p *proc.Process, path string) *kernel.Error
}

// Handler services one syscall number; sc gives access to the shared
// scheduler/filesystem/loader, p is the calling process.
type Handler func(sc *Syscalls, p *proc.Process) int64

// Syscalls owns the dispatch table and the subsystem handles its
// handlers call into.
type Syscalls struct {
	sched      *proc.Scheduler
	fs         FileSystem
	exec       Loader
	allocFrame func() (pmm.Frame, *kernel.Error)

	table [TableSize]Handler
}

// New builds a Syscalls with every slot defaulting to a no-op (mirroring
// syscall_init's "fill with sys_do_nothing" pass) before installing the
// syscalls this kernel implements.
func New(sched *proc.Scheduler, fs FileSystem, exec Loader, allocFrame func() (pmm.Frame, *kernel.Error)) *Syscalls {
	sc := &Syscalls{sched: sched, fs: fs, exec: exec, allocFrame: allocFrame}
	for i := range sc.table {
		sc.table[i] = sysNoop
	}

	sc.table[SysExit] = sysExit
	sc.table[SysExecve] = sysExecve
	sc.table[SysRead] = sysRead
	sc.table[SysWrite] = sysWrite
	sc.table[SysOpen] = sysOpen
	sc.table[SysClose] = sysClose
	sc.table[SysDup2] = sysDup2
	sc.table[SysFork] = sysFork
	sc.table[SysWaitpid] = sysWaitpid
	sc.table[SysGetcwd] = sysGetcwd
	sc.table[SysChdir] = sysChdir
	sc.table[SysSetpgid] = sysSetpgid
	sc.table[SysGetpgid] = sysGetpgid
	sc.table[SysGetsid] = sysGetsid
	sc.table[SysTcsetpgrp] = sysTcsetpgrp
	sc.table[SysTcgetpgrp] = sysTcgetpgrp
	sc.table[SysSbrk] = sysSbrk

	return sc
}

func sysNoop(*Syscalls, *proc.Process) int64 { return 0 }

// Dispatch services the current process's pending INT 0x80 trap: it reads
// the syscall number from rax, invokes the matching handler, and writes
// the result back into rax. kmain registers it with
// kernel/irq.SetSyscallHandler; kernel/irq's handler for the 0x80 syscall
// gate then calls it.
func (sc *Syscalls) Dispatch(p *proc.Process) {
	num := p.Frame.RAX
	if num >= TableSize {
		p.Frame.RAX = uint64(errno(kernel.KindInvalidArgument))
		return
	}
	p.Frame.RAX = uint64(sc.table[num](sc, p))
}

// errno maps a kernel.Kind to the negative result a syscall returns on
// failure, per spec.md 4.6's "errors caused by user syscalls produce a
// signed negative result in rax".
func errno(k kernel.Kind) int64 {
	switch k {
	case kernel.KindInvalidArgument:
		return -22 // EINVAL
	case kernel.KindNotFound:
		return -2 // ENOENT
	case kernel.KindAlreadyExists:
		return -17 // EEXIST
	case kernel.KindPermissionDenied:
		return -13 // EACCES
	case kernel.KindWouldBlock:
		return -11 // EAGAIN
	case kernel.KindIoFailure:
		return -5 // EIO
	case kernel.KindAllocationFailure:
		return -12 // ENOMEM
	case kernel.KindNotSupported:
		return -38 // ENOSYS
	default:
		return -1 // EPERM
	}
}

// userBytes translates a user-space range belonging to p into a slice
// backed by the kernel's mirror of that process's pages, per spec.md
// 4.6's "kernel_address_of_user" user-pointer-safety rule.
func userBytes(p *proc.Process, userAddr uintptr, length uint64) []byte {
	if length == 0 {
		return nil
	}
	kernAddr := vmm.KernelMirrorOf(userAddr, p.KernelIndex)
	return unsafeSlice(kernAddr, int(length))
}

// userCString reads a NUL-terminated string out of p's user memory,
// scanning at most maxPathLen bytes.
func userCString(p *proc.Process, userAddr uintptr) string {
	raw := userBytes(p, userAddr, uint64(maxPathLen))
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

// sysRead dispatches through the descriptor's Ops, with one exception to
// the usual synchronous result: a KindWouldBlock error (a vcon with no
// buffered line yet, spec.md 4.12) rewinds rip and blocks the caller
// exactly like sysWaitpid does for an absent zombie child, so the process
// re-issues this same read once the device unblocks it.
func sysRead(sc *Syscalls, p *proc.Process) int64 {
	f, err := p.FDs.Get(int(p.Frame.RDI))
	if err != nil {
		return errno(err.Kind)
	}
	buf := userBytes(p, uintptr(p.Frame.RSI), p.Frame.RDX)
	n, err := f.Ops.Read(f, buf)
	if err != nil {
		if err.Kind == kernel.KindWouldBlock {
			p.Frame.RIP -= syscallInstrLen
			sc.sched.Block(p)
			if next := sc.sched.NextRunnable(); next != nil {
				irq.SwitchTo(next)
			}
			return 0
		}
		return errno(err.Kind)
	}
	return int64(n)
}

func sysWrite(sc *Syscalls, p *proc.Process) int64 {
	f, err := p.FDs.Get(int(p.Frame.RDI))
	if err != nil {
		return errno(err.Kind)
	}
	buf := userBytes(p, uintptr(p.Frame.RSI), p.Frame.RDX)
	n, err := f.Ops.Write(f, buf)
	if err != nil {
		return errno(err.Kind)
	}
	return int64(n)
}

func sysOpen(sc *Syscalls, p *proc.Process) int64 {
	path := userCString(p, uintptr(p.Frame.RDI))
	mode := fd.AccessMode(p.Frame.RSI)

	f, err := sc.fs.Open(p.Cwd, path, mode)
	if err != nil {
		return errno(err.Kind)
	}
	num, err := p.FDs.Install(f)
	if err != nil {
		return errno(err.Kind)
	}
	return int64(num)
}

func sysClose(sc *Syscalls, p *proc.Process) int64 {
	if err := p.FDs.Close(int(p.Frame.RDI)); err != nil {
		return errno(err.Kind)
	}
	return 0
}

func sysDup2(sc *Syscalls, p *proc.Process) int64 {
	oldNum, newNum := int(p.Frame.RDI), int(p.Frame.RSI)
	if err := p.FDs.Dup2(oldNum, newNum); err != nil {
		return errno(err.Kind)
	}
	return int64(newNum)
}

func sysFork(sc *Syscalls, p *proc.Process) int64 {
	child, err := sc.sched.Fork(p)
	if err != nil {
		return errno(err.Kind)
	}
	return int64(child.PID)
}

func sysExecve(sc *Syscalls, p *proc.Process) int64 {
	path := userCString(p, uintptr(p.Frame.RDI))
	if err := sc.exec.Exec(p, path); err != nil {
		return errno(err.Kind)
	}
	return 0
}

// sysExit implements the path sys_exit follows in syscalls.c: mark the
// caller Zombie, then hand the CPU straight to whatever the scheduler
// picks next rather than waiting for the next timer tick, since this
// process will never return to userland to be preempted from.
func sysExit(sc *Syscalls, p *proc.Process) int64 {
	sc.sched.Exit(p, int(p.Frame.RDI))
	if next := sc.sched.NextRunnable(); next != nil {
		irq.SwitchTo(next)
	}
	return 0
}

// syscallInstrLen is the byte length of the `int 0x80` instruction that
// traps into Dispatch.
const syscallInstrLen = 2

// sysWaitpid implements waitpid(2) restricted to this kernel's "any
// child" (pid 0) or exact-pid forms. When no zombie child is ready yet it
// rewinds rip by syscallInstrLen so the blocked process re-executes this
// same syscall once a child's exit unblocks it, then switches away.
func sysWaitpid(sc *Syscalls, p *proc.Process) int64 {
	pid := p.Frame.RDI
	p.WaitingFor = pid
	p.WaitAny = pid == 0

	gotPID, status, err := sc.sched.Wait(p, pid)
	if err != nil {
		return errno(err.Kind)
	}
	if gotPID == 0 {
		p.Frame.RIP -= syscallInstrLen
		sc.sched.Block(p)
		if next := sc.sched.NextRunnable(); next != nil {
			irq.SwitchTo(next)
		}
		return 0
	}

	status32 := int32(status)
	copy(userBytes(p, uintptr(p.Frame.RSI), 4), (*[4]byte)(unsafeBytesOf(&status32))[:])
	return int64(gotPID)
}

func sysGetcwd(sc *Syscalls, p *proc.Process) int64 {
	cwd := sc.fs.Getcwd(p.Cwd)
	buf := userBytes(p, uintptr(p.Frame.RDI), p.Frame.RSI)
	n := copy(buf, cwd)
	if uint64(n) < p.Frame.RSI {
		buf[n] = 0
	}
	return int64(n)
}

func sysChdir(sc *Syscalls, p *proc.Process) int64 {
	path := userCString(p, uintptr(p.Frame.RDI))
	newCwd, err := sc.fs.Chdir(p.Cwd, path)
	if err != nil {
		return errno(err.Kind)
	}
	p.Cwd = newCwd
	return 0
}

func sysSetpgid(sc *Syscalls, p *proc.Process) int64 {
	target, err := resolvePid(sc, p, p.Frame.RDI)
	if err != nil {
		return errno(err.Kind)
	}
	if err := sc.sched.Setpgid(target, p.Frame.RSI); err != nil {
		return errno(err.Kind)
	}
	return 0
}

func sysGetpgid(sc *Syscalls, p *proc.Process) int64 {
	target, err := resolvePid(sc, p, p.Frame.RDI)
	if err != nil {
		return errno(err.Kind)
	}
	return int64(target.PGID)
}

func sysGetsid(sc *Syscalls, p *proc.Process) int64 {
	target, err := resolvePid(sc, p, p.Frame.RDI)
	if err != nil {
		return errno(err.Kind)
	}
	return int64(target.SID)
}

// resolvePid maps a pid argument of 0 to the calling process, matching
// the setpgid(2)/getpgid(2)/getsid(2) "0 means self" convention.
func resolvePid(sc *Syscalls, p *proc.Process, pid uint64) (*proc.Process, *kernel.Error) {
	if pid == 0 {
		return p, nil
	}
	return sc.sched.Lookup(pid)
}

// TTY is the subset of a controlling-terminal device's job-control
// surface tcsetpgrp/tcgetpgrp need (spec.md 4.12). A File's Private field
// holds the console device implementing it for any fd opened against a
// vcon.
type TTY interface {
	SetForeground(pgid uint64)
	Foreground() uint64
}

func sysTcsetpgrp(sc *Syscalls, p *proc.Process) int64 {
	tty, err := ttyOf(p, int(p.Frame.RDI))
	if err != nil {
		return errno(err.Kind)
	}
	tty.SetForeground(p.Frame.RSI)
	return 0
}

func sysTcgetpgrp(sc *Syscalls, p *proc.Process) int64 {
	tty, err := ttyOf(p, int(p.Frame.RDI))
	if err != nil {
		return errno(err.Kind)
	}
	return int64(tty.Foreground())
}

func ttyOf(p *proc.Process, num int) (TTY, *kernel.Error) {
	f, err := p.FDs.Get(num)
	if err != nil {
		return nil, err
	}
	tty, ok := f.Private.(TTY)
	if !ok {
		return nil, errInvalidFD
	}
	return tty, nil
}

// sysSbrk extends the caller's heap by rdi bytes (which may be negative
// to shrink it) and returns the previous break, mapping freshly needed
// pages on demand the way the EXPAND region of spec.md 4.2 describes.
func sysSbrk(sc *Syscalls, p *proc.Process) int64 {
	delta := int64(p.Frame.RDI)
	old := p.HeapEnd

	if delta > 0 {
		if err := sc.growHeap(p, old, uint64(delta)); err != nil {
			return errno(err.Kind)
		}
	}
	p.HeapEnd = uintptr(int64(old) + delta)
	return int64(old)
}

func (sc *Syscalls) growHeap(p *proc.Process, from uintptr, length uint64) *kernel.Error {
	pageSize := uint64(mem.PageSize)
	start := (uint64(from) + pageSize - 1) &^ (pageSize - 1)
	end := (uint64(from) + length + pageSize - 1) &^ (pageSize - 1)

	for vaddr := start; vaddr < end; vaddr += pageSize {
		frame, err := sc.allocFrame()
		if err != nil {
			return err
		}
		if err := vmm.MapRange(p.Table, uintptr(vaddr), frame, 1, mem.PageSize, vmm.FlagRW|vmm.FlagUser); err != nil {
			return err
		}
	}
	return nil
}
