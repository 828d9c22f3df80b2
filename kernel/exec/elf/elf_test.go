package elf

import "testing"

func validHeaderBytes() []byte {
	buf := make([]byte, headerSize)
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = elfData2LSB
	h := header{
		Type:    etExec,
		Machine: emX86_64,
		Entry:   0x401000,
		Phoff:   headerSize,
		Phnum:   2,
	}
	encodeHeaderInto(buf, h)
	return buf
}

// encodeHeaderInto writes h's non-ident fields into buf at the same
// offsets decodeHeader reads them from, used only by tests to build
// fixtures without depending on decodeHeader's unsafe cast round-tripping.
func encodeHeaderInto(buf []byte, h header) {
	putU16(buf[16:], h.Type)
	putU16(buf[18:], h.Machine)
	putU32(buf[20:], h.Version)
	putU64(buf[24:], h.Entry)
	putU64(buf[32:], h.Phoff)
	putU64(buf[40:], h.Shoff)
	putU32(buf[48:], h.Flags)
	putU16(buf[52:], h.Ehsize)
	putU16(buf[54:], h.Phentsize)
	putU16(buf[56:], h.Phnum)
	putU16(buf[58:], h.Shentsize)
	putU16(buf[60:], h.Shnum)
	putU16(buf[62:], h.Shstrndx)
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putU64(b []byte, v uint64) {
	putU32(b, uint32(v))
	putU32(b[4:], uint32(v>>32))
}

func TestDecodeHeaderRoundTrips(t *testing.T) {
	buf := validHeaderBytes()
	h := decodeHeader(buf)
	if h.Entry != 0x401000 || h.Phnum != 2 || h.Phoff != headerSize {
		t.Fatalf("decodeHeader = %+v", h)
	}
}

func TestValidateAcceptsWellFormedHeader(t *testing.T) {
	h := decodeHeader(validHeaderBytes())
	if err := validate(h); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	buf := validHeaderBytes()
	buf[0] = 0
	if err := validate(decodeHeader(buf)); err != ErrBadMagic {
		t.Fatalf("validate = %v, want ErrBadMagic", err)
	}
}

func TestValidateRejectsBigEndian(t *testing.T) {
	buf := validHeaderBytes()
	buf[5] = 2 // ELFDATA2MSB
	if err := validate(decodeHeader(buf)); err != ErrBigEndian {
		t.Fatalf("validate = %v, want ErrBigEndian", err)
	}
}

func TestValidateRejectsUnsupportedArch(t *testing.T) {
	buf := validHeaderBytes()
	putU16(buf[18:], 0x03) // EM_386
	if err := validate(decodeHeader(buf)); err != ErrUnsupportedArch {
		t.Fatalf("validate = %v, want ErrUnsupportedArch", err)
	}
}

func TestValidateRejectsNonExecutable(t *testing.T) {
	buf := validHeaderBytes()
	putU16(buf[16:], 3) // ET_DYN
	if err := validate(decodeHeader(buf)); err != ErrNotExecutable {
		t.Fatalf("validate = %v, want ErrNotExecutable", err)
	}
}

func TestDecodeProgramHeaderRoundTrips(t *testing.T) {
	buf := make([]byte, programHeaderSize)
	putU32(buf[0:], ptLoad)
	putU32(buf[4:], 5)
	putU64(buf[8:], 0x1000)  // offset
	putU64(buf[16:], 0x1000) // vaddr
	putU64(buf[32:], 0x200)  // filesz
	putU64(buf[40:], 0x400)  // memsz

	ph := decodeProgramHeader(buf)
	if ph.Type != ptLoad || ph.Offset != 0x1000 || ph.Vaddr != 0x1000 {
		t.Fatalf("decodeProgramHeader = %+v", ph)
	}
	if ph.Filesz != 0x200 || ph.Memsz != 0x400 {
		t.Fatalf("decodeProgramHeader sizes = %+v", ph)
	}
}

func TestAlignHelpers(t *testing.T) {
	if got := alignDown(0x1234, 0x1000); got != 0x1000 {
		t.Fatalf("alignDown = %#x", got)
	}
	if got := alignUp(0x1234, 0x1000); got != 0x2000 {
		t.Fatalf("alignUp = %#x", got)
	}
	if got := alignUp(0x1000, 0x1000); got != 0x1000 {
		t.Fatalf("alignUp of an already-aligned value = %#x", got)
	}
}

func TestMin64(t *testing.T) {
	if got := min64(3, 5); got != 3 {
		t.Fatalf("min64(3,5) = %d", got)
	}
	if got := min64(9, 2); got != 2 {
		t.Fatalf("min64(9,2) = %d", got)
	}
}
