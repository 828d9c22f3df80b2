package blockdev

import (
	"unsafe"

	"hendkernel/kernel"
	"hendkernel/kernel/errors"
)

// ErrBadGPT is returned when the disk's protective MBR/GPT header does not
// carry the expected signature.
var ErrBadGPT = errors.New("blockdev", kernel.KindIoFailure, "missing or corrupt GPT header")

const gptSignature = 0x5452415020494645 // "EFI PART", little-endian

// gptHeader mirrors the on-disk GPT header (UEFI spec 5.3.2) field for
// field, so a sector buffer can be reinterpreted in place without a
// decode step, matching how the rest of this kernel treats raw memory
// (heap's blockHeader, idmap's node records).
type gptHeader struct {
	Signature                uint64
	Revision                 uint32
	HeaderSize               uint32
	HeaderCRC32              uint32
	reserved                 uint32
	MyLBA                    uint64
	AlternateLBA             uint64
	FirstUsableLBA           uint64
	LastUsableLBA            uint64
	DiskGUID                 [16]byte
	PartitionEntryLBA        uint64
	NumPartitionEntries      uint32
	PartitionEntrySize       uint32
	PartitionEntryArrayCRC32 uint32
}

// gptEntry mirrors one on-disk partition entry.
type gptEntry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       [72]byte
}

// Partition is the sector extent of one resolved GPT partition.
type Partition struct {
	StartLBA uint64
	EndLBA   uint64
}

// isNullGUID reports whether g is the all-zero GUID GPT uses to mark an
// unused partition entry.
func isNullGUID(g [16]byte) bool {
	for _, b := range g {
		if b != 0 {
			return false
		}
	}
	return true
}

// ReadPartition1 reads the GPT header at LBA 1 and its partition entry
// array off d, and returns the first non-empty partition's extent — the
// VFS root, per spec.md 6.9.
func ReadPartition1(d *Disk) (Partition, *kernel.Error) {
	hdrBuf := make([]byte, SectorSize)
	if err := d.ReadSectors(1, 1, hdrBuf); err != nil {
		return Partition{}, err
	}

	hdr := (*gptHeader)(unsafe.Pointer(&hdrBuf[0]))
	if hdr.Signature != gptSignature {
		return Partition{}, ErrBadGPT
	}

	entryBytes := uint64(hdr.NumPartitionEntries) * uint64(hdr.PartitionEntrySize)
	entrySectors := uint8((entryBytes + SectorSize - 1) / SectorSize)
	entryBuf := make([]byte, uint32(entrySectors)*SectorSize)
	if err := d.ReadSectors(uint32(hdr.PartitionEntryLBA), entrySectors, entryBuf); err != nil {
		return Partition{}, err
	}

	for i := uint32(0); i < hdr.NumPartitionEntries; i++ {
		off := uint64(i) * uint64(hdr.PartitionEntrySize)
		if off+uint64(hdr.PartitionEntrySize) > uint64(len(entryBuf)) {
			break
		}
		e := (*gptEntry)(unsafe.Pointer(&entryBuf[off]))
		if isNullGUID(e.TypeGUID) {
			continue
		}
		return Partition{StartLBA: e.StartLBA, EndLBA: e.EndLBA}, nil
	}

	return Partition{}, ErrBadGPT
}
