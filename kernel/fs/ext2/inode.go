package ext2

import (
	"unsafe"

	"hendkernel/kernel"
)

// File type/mode bits from ext2_inode.mode, the EXT2_S_IF* constants.
const (
	ModeDir  = 0x4000
	ModeReg  = 0x8000
	ModeChr  = 0x2000
	ModeFlagMask = 0xF000
)

// Inode mirrors ext2_inode's on-disk layout. The direct/indirect block
// pointer array follows spec.md 4.8: Block[0:12] direct, Block[12]
// single-indirect, Block[13] double-indirect; Block[14] (triple-
// indirect) is never populated since no file this kernel serves needs
// more than blockSize/4 squared blocks (~4 GiB at a 4 KiB block size).
type Inode struct {
	Mode        uint16
	UID         uint16
	Size        uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	Blocks      uint32
	Flags       uint32
	osd1        uint32
	Block       [15]uint32
	Generation  uint32
	FileACL     uint32
	DirACL      uint32
	Faddr       uint32
	osd2        [12]byte
}

const inodeStructSize = 128

// groupDescriptor returns the block-group descriptor for group, per
// read_inode's "read that group's descriptor" step.
func (fs *FS) groupDescriptor(group uint32) (bgDesc, *kernel.Error) {
	descsPerBlock := fs.blockSize / bgDescSize
	block, err := fs.readBlock(fs.bgdtBlock + group/descsPerBlock)
	if err != nil {
		return bgDesc{}, err
	}
	off := (group % descsPerBlock) * bgDescSize
	return *(*bgDesc)(unsafe.Pointer(&block[off])), nil
}

// writeGroupDescriptor stores desc back into its block-group descriptor
// table slot.
func (fs *FS) writeGroupDescriptor(group uint32, desc bgDesc) *kernel.Error {
	descsPerBlock := fs.blockSize / bgDescSize
	blockNum := fs.bgdtBlock + group/descsPerBlock
	block, err := fs.readBlock(blockNum)
	if err != nil {
		return err
	}
	off := (group % descsPerBlock) * bgDescSize
	*(*bgDesc)(unsafe.Pointer(&block[off])) = desc
	return fs.writeBlock(blockNum, block)
}

// inodeLocation resolves the group, the inode table block, and the
// in-block byte offset for inodeNum.
func (fs *FS) inodeLocation(inodeNum uint32) (group uint32, block uint32, offset uint32, err *kernel.Error) {
	if inodeNum < 1 || inodeNum > fs.totalInodes {
		return 0, 0, 0, ErrInvalidInode
	}
	idx := inodeNum - 1
	group = idx / fs.inodesPerGroup
	indexInGroup := idx % fs.inodesPerGroup

	desc, err := fs.groupDescriptor(group)
	if err != nil {
		return 0, 0, 0, err
	}

	inodeOffset := indexInGroup * fs.inodeSize
	block = desc.InodeTable + inodeOffset/fs.blockSize
	offset = inodeOffset % fs.blockSize
	return group, block, offset, nil
}

// ReadInode loads inodeNum's on-disk record, per read_inode.
func (fs *FS) ReadInode(inodeNum uint32) (Inode, *kernel.Error) {
	_, block, offset, err := fs.inodeLocation(inodeNum)
	if err != nil {
		return Inode{}, err
	}
	data, err := fs.readBlock(block)
	if err != nil {
		return Inode{}, err
	}
	return *(*Inode)(unsafe.Pointer(&data[offset])), nil
}

// WriteInode stores inode back as inodeNum's on-disk record, per
// write_inode.
func (fs *FS) WriteInode(inodeNum uint32, inode Inode) *kernel.Error {
	_, block, offset, err := fs.inodeLocation(inodeNum)
	if err != nil {
		return err
	}
	data, err := fs.readBlock(block)
	if err != nil {
		return err
	}
	*(*Inode)(unsafe.Pointer(&data[offset])) = inode
	return fs.writeBlock(block, data)
}
