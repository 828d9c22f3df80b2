// Package elf implements the ELF64 loader spec.md 4.10 describes: it
// validates a little-endian x86_64 ET_EXEC image, maps its PT_LOAD
// segments into a fresh address space, and resets a process's trap frame
// to start execution at the image's entry point, per
// original_source/src/boot/elfLoader.c's elfLoader_load.
package elf

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
)

// Segment types from elfLoader.c's PT_* defines.
const (
	ptNull    = 0
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
)

// e_type/e_machine/EI_DATA values validate checks for (EI_CLASS is not
// checked).
const (
	etExec      = 2
	emX86_64    = 0x3E
	elfData2LSB = 1
)

// header mirrors ELFHeader's on-disk layout: 16 bytes of e_ident followed
// by the fixed info fields, natural field alignment giving the same 64
// bytes a packed C struct would.
type header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const headerSize = 64

// programHeader mirrors ELFProgramHeader: 56 bytes, natural alignment.
type programHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const programHeaderSize = 56

var (
	ErrTruncated       = errors.New("elf", kernel.KindInvalidArgument, "truncated ELF image")
	ErrBadMagic        = errors.New("elf", kernel.KindInvalidArgument, "not an ELF file")
	ErrBigEndian       = errors.New("elf", kernel.KindNotSupported, "big endian ELF not supported")
	ErrUnsupportedArch = errors.New("elf", kernel.KindNotSupported, "architecture not supported")
	ErrNotExecutable   = errors.New("elf", kernel.KindInvalidArgument, "not an executable")
	ErrDynamicLinking  = errors.New("elf", kernel.KindNotSupported, "dynamically linked executables are not supported")
)

func decodeHeader(buf []byte) header {
	return *(*header)(unsafe.Pointer(&buf[0]))
}

func decodeProgramHeader(buf []byte) programHeader {
	return *(*programHeader)(unsafe.Pointer(&buf[0]))
}

// validate checks the fields elfLoader_load checks, in the same order.
func validate(h header) *kernel.Error {
	if h.Ident[0] != 0x7F || h.Ident[1] != 'E' || h.Ident[2] != 'L' || h.Ident[3] != 'F' {
		return ErrBadMagic
	}
	if h.Ident[5] != elfData2LSB {
		return ErrBigEndian
	}
	if h.Machine != emX86_64 {
		return ErrUnsupportedArch
	}
	if h.Type != etExec {
		return ErrNotExecutable
	}
	return nil
}

func alignDown(v, align uint64) uint64 { return v &^ (align - 1) }
func alignUp(v, align uint64) uint64   { return alignDown(v+align-1, align) }

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
