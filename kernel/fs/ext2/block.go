package ext2

import (
	"hendkernel/kernel"
)

// readIndirect reads one block of pointers and decodes it as a uint32
// array at this filesystem's block size.
func (fs *FS) readIndirect(blockNum uint32) ([]uint32, *kernel.Error) {
	raw, err := fs.readBlock(blockNum)
	if err != nil {
		return nil, err
	}
	ptrs := make([]uint32, fs.ptrsPerBlockN())
	for i := range ptrs {
		ptrs[i] = uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
	}
	return ptrs, nil
}

func encodeIndirect(ptrs []uint32) []byte {
	raw := make([]byte, len(ptrs)*4)
	for i, p := range ptrs {
		raw[i*4] = byte(p)
		raw[i*4+1] = byte(p >> 8)
		raw[i*4+2] = byte(p >> 16)
		raw[i*4+3] = byte(p >> 24)
	}
	return raw
}

// ReadBlockPointers resolves count logical block numbers starting at
// blockIdx into the inode's direct/single-indirect/double-indirect
// pointer tree, per read_block_pointers. A zero in the result means
// that logical block has never been written (a hole). Triple-indirect
// (logical block index >= 12 + ptrsPerBlock + ptrsPerBlock^2) is never
// reached by any file this kernel serves and returns early with
// whatever was resolved so far, matching the original's own
// "simplified" double-indirect-only handling. Likewise, when the
// double-indirect block itself is unallocated the result ends at the
// single-indirect range.
func (fs *FS) ReadBlockPointers(inode Inode, blockIdx, count uint32) ([]uint32, *kernel.Error) {
	ptrsPerBlock := fs.ptrsPerBlockN()
	result := make([]uint32, 0, count)

	if blockIdx < 12 && count > 0 {
		n := min32(count, 12-blockIdx)
		for i := uint32(0); i < n; i++ {
			result = append(result, inode.Block[blockIdx+i])
		}
		blockIdx += n
		count -= n
	}

	if count > 0 && blockIdx < 12+ptrsPerBlock && inode.Block[12] != 0 {
		indirect, err := fs.readIndirect(inode.Block[12])
		if err != nil {
			return nil, err
		}
		start := blockIdx - 12
		n := min32(count, ptrsPerBlock-start)
		result = append(result, indirect[start:start+n]...)
		blockIdx += n
		count -= n
	} else if count > 0 && blockIdx < 12+ptrsPerBlock {
		n := min32(count, 12+ptrsPerBlock-blockIdx)
		for i := uint32(0); i < n; i++ {
			result = append(result, 0)
		}
		blockIdx += n
		count -= n
	}

	doubleLimit := 12 + ptrsPerBlock + ptrsPerBlock*ptrsPerBlock
	for count > 0 && blockIdx < doubleLimit && inode.Block[13] != 0 {
		start := blockIdx - 12 - ptrsPerBlock
		firstLevel := start / ptrsPerBlock
		secondLevel := start % ptrsPerBlock
		n := min32(count, ptrsPerBlock-secondLevel)

		firstIndirect, err := fs.readIndirect(inode.Block[13])
		if err != nil {
			return nil, err
		}
		if firstIndirect[firstLevel] == 0 {
			for i := uint32(0); i < n; i++ {
				result = append(result, 0)
			}
		} else {
			secondIndirect, err := fs.readIndirect(firstIndirect[firstLevel])
			if err != nil {
				return nil, err
			}
			result = append(result, secondIndirect[secondLevel:secondLevel+n]...)
		}
		blockIdx += n
		count -= n
	}

	return result, nil
}

// WriteBlockPointers stores count block numbers starting at blockIdx
// into the inode's pointer tree, lazily allocating the single- and
// double-indirect blocks the first time they're needed, per
// write_block_pointers. inode is mutated in place; the caller still
// owns writing it back with WriteInode.
func (fs *FS) WriteBlockPointers(inode *Inode, blockIdx uint32, blocks []uint32) *kernel.Error {
	ptrsPerBlock := fs.ptrsPerBlockN()
	count := uint32(len(blocks))
	written := uint32(0)

	if blockIdx < 12 && count > 0 {
		n := min32(count, 12-blockIdx)
		copy(inode.Block[blockIdx:blockIdx+n], blocks[:n])
		written += n
		blockIdx += n
		count -= n
	}

	if count > 0 && blockIdx < 12+ptrsPerBlock {
		if inode.Block[12] == 0 {
			b, err := fs.AllocateBlock()
			if err != nil {
				return err
			}
			inode.Block[12] = b
			if err := fs.writeBlock(b, make([]byte, fs.blockSize)); err != nil {
				return err
			}
		}
		indirect, err := fs.readIndirect(inode.Block[12])
		if err != nil {
			return err
		}
		start := blockIdx - 12
		n := min32(count, ptrsPerBlock-start)
		copy(indirect[start:start+n], blocks[written:written+n])
		if err := fs.writeBlock(inode.Block[12], encodeIndirect(indirect)); err != nil {
			return err
		}
		written += n
		blockIdx += n
		count -= n
	}

	doubleLimit := 12 + ptrsPerBlock + ptrsPerBlock*ptrsPerBlock
	for count > 0 && blockIdx < doubleLimit {
		if inode.Block[13] == 0 {
			b, err := fs.AllocateBlock()
			if err != nil {
				return err
			}
			inode.Block[13] = b
			if err := fs.writeBlock(b, make([]byte, fs.blockSize)); err != nil {
				return err
			}
		}
		firstIndirect, err := fs.readIndirect(inode.Block[13])
		if err != nil {
			return err
		}

		start := blockIdx - 12 - ptrsPerBlock
		firstLevel := start / ptrsPerBlock
		secondLevel := start % ptrsPerBlock

		if firstIndirect[firstLevel] == 0 {
			b, err := fs.AllocateBlock()
			if err != nil {
				return err
			}
			firstIndirect[firstLevel] = b
			if err := fs.writeBlock(b, make([]byte, fs.blockSize)); err != nil {
				return err
			}
			if err := fs.writeBlock(inode.Block[13], encodeIndirect(firstIndirect)); err != nil {
				return err
			}
		}

		secondIndirect, err := fs.readIndirect(firstIndirect[firstLevel])
		if err != nil {
			return err
		}
		n := min32(count, ptrsPerBlock-secondLevel)
		copy(secondIndirect[secondLevel:secondLevel+n], blocks[written:written+n])
		if err := fs.writeBlock(firstIndirect[firstLevel], encodeIndirect(secondIndirect)); err != nil {
			return err
		}
		written += n
		blockIdx += n
		count -= n
	}

	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
