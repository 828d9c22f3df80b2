package ext2

import "hendkernel/kernel"

// blocksInGroup returns how many blocks group actually spans; the last
// group may be short of a full blocksPerGroup.
func (fs *FS) blocksInGroup(group uint32) uint32 {
	if group == fs.groupsCount-1 {
		return fs.totalBlocks - group*fs.blocksPerGroup
	}
	return fs.blocksPerGroup
}

// AllocateBlock scans each group's block bitmap for the first free bit,
// marks it used, and returns the absolute block number, per
// allocate_block. Returns ErrNoSpace if every group is full.
func (fs *FS) AllocateBlock() (uint32, *kernel.Error) {
	for group := uint32(0); group < fs.groupsCount; group++ {
		desc, err := fs.groupDescriptor(group)
		if err != nil {
			return 0, err
		}
		if desc.FreeBlocksCount == 0 {
			continue
		}

		bitmap, err := fs.readBlock(desc.BlockBitmap)
		if err != nil {
			return 0, err
		}

		count := fs.blocksInGroup(group)
		for i := uint32(0); i < count; i++ {
			if bitmap[i/8]&(1<<(i%8)) != 0 {
				continue
			}
			bitmap[i/8] |= 1 << (i % 8)
			if err := fs.writeBlock(desc.BlockBitmap, bitmap); err != nil {
				return 0, err
			}

			desc.FreeBlocksCount--
			if err := fs.writeGroupDescriptor(group, desc); err != nil {
				return 0, err
			}

			return group*fs.blocksPerGroup + i + fs.firstDataBlock, nil
		}
	}
	return 0, ErrNoSpace
}

// FreeBlock clears blockNum's bitmap bit. Freeing an already-free block
// is a no-op, matching free_block's idempotent check.
func (fs *FS) FreeBlock(blockNum uint32) *kernel.Error {
	if blockNum < fs.firstDataBlock || blockNum >= fs.totalBlocks {
		return ErrInvalidInode
	}
	idx := blockNum - fs.firstDataBlock
	group := idx / fs.blocksPerGroup
	index := idx % fs.blocksPerGroup

	desc, err := fs.groupDescriptor(group)
	if err != nil {
		return err
	}
	bitmap, err := fs.readBlock(desc.BlockBitmap)
	if err != nil {
		return err
	}
	if bitmap[index/8]&(1<<(index%8)) == 0 {
		return nil
	}
	bitmap[index/8] &^= 1 << (index % 8)
	if err := fs.writeBlock(desc.BlockBitmap, bitmap); err != nil {
		return err
	}

	desc.FreeBlocksCount++
	return fs.writeGroupDescriptor(group, desc)
}

// AllocateInode scans each group's inode bitmap for the first free bit
// (inode index 0 within every group is always reserved/skipped), marks
// it used, bumps the group's directory count when isDirectory, and
// returns the 1-based absolute inode number, per allocate_inode.
func (fs *FS) AllocateInode(isDirectory bool) (uint32, *kernel.Error) {
	for group := uint32(0); group < fs.groupsCount; group++ {
		desc, err := fs.groupDescriptor(group)
		if err != nil {
			return 0, err
		}
		if desc.FreeInodesCount == 0 {
			continue
		}

		bitmap, err := fs.readBlock(desc.InodeBitmap)
		if err != nil {
			return 0, err
		}

		for i := uint32(0); i < fs.inodesPerGroup; i++ {
			if i == 0 {
				continue
			}
			if bitmap[i/8]&(1<<(i%8)) != 0 {
				continue
			}
			bitmap[i/8] |= 1 << (i % 8)
			if err := fs.writeBlock(desc.InodeBitmap, bitmap); err != nil {
				return 0, err
			}

			desc.FreeInodesCount--
			if isDirectory {
				desc.UsedDirsCount++
			}
			if err := fs.writeGroupDescriptor(group, desc); err != nil {
				return 0, err
			}

			return group*fs.inodesPerGroup + i + 1, nil
		}
	}
	return 0, ErrNoSpace
}

// FreeInode clears inodeNum's bitmap bit. Freeing an already-free inode
// is a no-op, matching free_inode's idempotent check.
func (fs *FS) FreeInode(inodeNum uint32) *kernel.Error {
	if inodeNum < 1 || inodeNum > fs.totalInodes {
		return ErrInvalidInode
	}
	idx := inodeNum - 1
	group := idx / fs.inodesPerGroup
	index := idx % fs.inodesPerGroup

	desc, err := fs.groupDescriptor(group)
	if err != nil {
		return err
	}
	bitmap, err := fs.readBlock(desc.InodeBitmap)
	if err != nil {
		return err
	}
	if bitmap[index/8]&(1<<(index%8)) == 0 {
		return nil
	}
	bitmap[index/8] &^= 1 << (index % 8)
	if err := fs.writeBlock(desc.InodeBitmap, bitmap); err != nil {
		return err
	}

	desc.FreeInodesCount++
	return fs.writeGroupDescriptor(group, desc)
}
