package blockdev

import "hendkernel/kernel"

// PartitionDisk rebases sector numbers onto a single GPT partition's
// extent, so filesystem code above it never needs to know the disk's
// absolute layout.
type PartitionDisk struct {
	disk *Disk
	part Partition
}

// NewPartitionDisk returns a PartitionDisk restricted to part's extent.
func NewPartitionDisk(disk *Disk, part Partition) *PartitionDisk {
	return &PartitionDisk{disk: disk, part: part}
}

func (pd *PartitionDisk) bounds(lba uint32, count uint8) bool {
	end := pd.part.StartLBA + uint64(lba) + uint64(count)
	return pd.part.StartLBA+uint64(lba) >= pd.part.StartLBA && end <= pd.part.EndLBA+1
}

// ReadSectors reads count sectors starting at the partition-relative lba.
func (pd *PartitionDisk) ReadSectors(lba uint32, count uint8, buf []byte) *kernel.Error {
	if !pd.bounds(lba, count) {
		return ErrIO
	}
	return pd.disk.ReadSectors(uint32(pd.part.StartLBA)+lba, count, buf)
}

// WriteSectors writes count sectors starting at the partition-relative lba.
func (pd *PartitionDisk) WriteSectors(lba uint32, count uint8, buf []byte) *kernel.Error {
	if !pd.bounds(lba, count) {
		return ErrIO
	}
	return pd.disk.WriteSectors(uint32(pd.part.StartLBA)+lba, count, buf)
}

// ReadBlock reads the blockNum'th blockSize-sized block, always as a
// single multi-sector burst rather than one read per sector, per
// src/drivers/ext2.c's read_block.
func (pd *PartitionDisk) ReadBlock(blockNum, blockSize uint32) ([]byte, *kernel.Error) {
	sectorsPerBlock := uint8(blockSize / SectorSize)
	buf := make([]byte, blockSize)
	if err := pd.ReadSectors(blockNum*uint32(sectorsPerBlock), sectorsPerBlock, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes data as the blockNum'th blockSize-sized block.
func (pd *PartitionDisk) WriteBlock(blockNum, blockSize uint32, data []byte) *kernel.Error {
	sectorsPerBlock := uint8(blockSize / SectorSize)
	return pd.WriteSectors(blockNum*uint32(sectorsPerBlock), sectorsPerBlock, data)
}
