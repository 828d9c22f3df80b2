package elf

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/fd"
	"hendkernel/kernel/fs/ext2"
	"hendkernel/kernel/mem"
	"hendkernel/kernel/mem/pmm"
	"hendkernel/kernel/mem/vmm"
	"hendkernel/kernel/proc"
)

// FileSystem is the subset of kernel/fs/vfs's path resolver Exec needs to
// open the image by path; an interface rather than *vfs.VFS to avoid a
// dependency cycle (vfs depends on fd, fd's Ops are implemented by ext2
// files this package also reads directly).
type FileSystem interface {
	Open(cwd interface{}, path string, mode fd.AccessMode) (*fd.File, *kernel.Error)
}

// Fixed user-space addresses every loaded process gets, mirroring
// elfLoader_load's hardcoded process layout; this kernel has no ASLR.
const (
	userStackVaddr  = 0x600000
	userStackSize   = mem.Mb * 2
	userInitialRSP  = 0x7FFF00       // 256 bytes below the top of the stack segment
	userHeapStart   = 0x40000000     // 1 GiB
	userSharedStart = 0x2000000000   // 128 GiB
	userRFlags      = (1 << 9) | 0x2 // IF plus the reserved-1 bit
	userCS          = 0x1B           // user code segment selector
	userSS          = 0x23           // user data segment selector
)

var userLeafFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUser
var kernelMirrorFlags = vmm.FlagPresent | vmm.FlagRW

// Loader implements kernel/syscall.Loader.
type Loader struct {
	fs      FileSystem
	alloc4K func() (pmm.Frame, *kernel.Error)
	alloc2M func() (pmm.Frame, *kernel.Error)
}

// New builds a Loader that opens images through fs and draws page frames
// from alloc4K (PT_LOAD segment pages) and alloc2M (the user stack).
func New(fs FileSystem, alloc4K, alloc2M func() (pmm.Frame, *kernel.Error)) *Loader {
	return &Loader{fs: fs, alloc4K: alloc4K, alloc2M: alloc2M}
}

func pageBytes(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// Exec loads the ELF executable at path into a fresh address space and
// resets p's trap frame to start it at the image's entry point, per
// elfLoader_load. The caller's previous address space and trap frame
// content are discarded, matching execve's replace-the-image semantics.
func (l *Loader) Exec(p *proc.Process, path string) *kernel.Error {
	f, err := l.fs.Open(p.Cwd, path, fd.ReadOnly)
	if err != nil {
		return err
	}
	ef, ok := f.Private.(*ext2.File)
	if !ok {
		return ErrNotExecutable
	}
	defer ef.Close()

	if err := ef.Seek(0, ext2.SeekSet); err != nil {
		return err
	}
	var hdrBuf [headerSize]byte
	n, err := ef.Read(hdrBuf[:])
	if err != nil {
		return err
	}
	if n != headerSize {
		return ErrTruncated
	}
	h := decodeHeader(hdrBuf[:])
	if verr := validate(h); verr != nil {
		return verr
	}

	if err := ef.Seek(int64(h.Phoff), ext2.SeekSet); err != nil {
		return err
	}
	phBuf := make([]byte, int(h.Phnum)*programHeaderSize)
	n, err = ef.Read(phBuf)
	if err != nil {
		return err
	}
	if n != len(phBuf) {
		return ErrTruncated
	}

	table, terr := vmm.NewTable()
	if terr != nil {
		return terr
	}

	for i := 0; i < int(h.Phnum); i++ {
		ph := decodeProgramHeader(phBuf[i*programHeaderSize:])
		switch ph.Type {
		case ptLoad:
			if err := l.mapSegment(table, p.KernelIndex, ef, ph); err != nil {
				return err
			}
		case ptInterp:
			return ErrDynamicLinking
		}
	}

	if err := l.mapStack(table, p.KernelIndex); err != nil {
		return err
	}

	p.Table = table
	p.HeapEnd = userHeapStart
	p.SharedEnd = userSharedStart
	p.Frame = proc.TrapFrame{
		RIP:    h.Entry,
		CS:     userCS,
		RFlags: userRFlags,
		RSP:    userInitialRSP,
		SS:     userSS,
	}
	return nil
}

// mapSegment maps one PT_LOAD segment's pages into table, zero-filling
// each page before copying in its file-backed portion so that a segment
// whose p_memsz exceeds p_filesz (the BSS tail) reads as zero rather than
// leaking former pool contents, per elfLoader_load's per-page kmemset
// before the conditional ext2_file_read.
func (l *Loader) mapSegment(table vmm.Table, kernelIndex int, ef *ext2.File, ph programHeader) *kernel.Error {
	if err := ef.Seek(int64(ph.Offset), ext2.SeekSet); err != nil {
		return err
	}

	memEnd := alignUp(ph.Vaddr+ph.Memsz, uint64(mem.PageSize))
	memStart := alignDown(ph.Vaddr, uint64(mem.PageSize))
	pageCount := (memEnd - memStart) / uint64(mem.PageSize)

	dataLeft := ph.Filesz
	for i := uint64(0); i < pageCount; i++ {
		frame, err := l.alloc4K()
		if err != nil {
			return err
		}
		dst := vmm.DirectMap(frame.Address())
		mem.Memset(dst, 0, mem.PageSize)

		if dataLeft > 0 {
			toRead := min64(uint64(mem.PageSize), dataLeft)
			buf := pageBytes(dst, int(toRead))
			n, rerr := ef.Read(buf)
			if rerr != nil {
				return rerr
			}
			if uint64(n) != toRead {
				return ErrTruncated
			}
			dataLeft -= toRead
		}

		vaddr := memStart + i*uint64(mem.PageSize)
		if err := vmm.MapRange(table, uintptr(vaddr), frame, 1, mem.PageSize, userLeafFlags); err != nil {
			return err
		}
		mirror := vmm.KernelMirrorOf(uintptr(vaddr), kernelIndex)
		if err := vmm.MapRange(vmm.ActiveTable(), mirror, frame, 1, mem.PageSize, kernelMirrorFlags); err != nil {
			return err
		}
	}
	return nil
}

// mapStack allocates and maps the fixed-address user stack segment, per
// elfLoader_load's single 2 MiB stackPage mapping.
func (l *Loader) mapStack(table vmm.Table, kernelIndex int) *kernel.Error {
	frame, err := l.alloc2M()
	if err != nil {
		return err
	}
	mem.Memset(vmm.DirectMap(frame.Address()), 0, userStackSize)

	if err := vmm.MapRange(table, userStackVaddr, frame, 1, userStackSize, userLeafFlags); err != nil {
		return err
	}
	mirror := vmm.KernelMirrorOf(uintptr(userStackVaddr), kernelIndex)
	return vmm.MapRange(vmm.ActiveTable(), mirror, frame, 1, userStackSize, kernelMirrorFlags)
}
