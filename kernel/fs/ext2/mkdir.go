package ext2

import "hendkernel/kernel"

// MkDir allocates a new directory inode and its first data block, adds
// it to parentInode under dirname, and bumps the parent's link count
// for the child's '..' reference, per ext2_dir_create. Unlike the
// original, it does not itself write '.'/'..' entries into the new
// block; callers populate those through AddEntry the same way any
// other directory entry is added.
func (fs *FS) MkDir(parentInode uint32, dirname string, mode uint16) (uint32, *kernel.Error) {
	if _, err := fs.FindEntry(parentInode, dirname); err == nil {
		return 0, errors_AlreadyExists()
	}

	newInode, err := fs.AllocateInode(true)
	if err != nil {
		return 0, err
	}

	inode := Inode{
		Mode:       ModeDir | (mode &^ ModeFlagMask),
		Size:       fs.blockSize,
		LinksCount: 2,
	}

	block, err := fs.AllocateBlock()
	if err != nil {
		fs.FreeInode(newInode)
		return 0, err
	}
	inode.Block[0] = block

	if err := fs.WriteInode(newInode, inode); err != nil {
		fs.FreeBlock(block)
		fs.FreeInode(newInode)
		return 0, err
	}

	if err := fs.AddEntry(parentInode, dirname, newInode, FTDir); err != nil {
		fs.FreeBlock(block)
		fs.FreeInode(newInode)
		return 0, err
	}

	parent, err := fs.ReadInode(parentInode)
	if err == nil {
		parent.LinksCount++
		fs.WriteInode(parentInode, parent)
	}

	return newInode, nil
}

// ErrNotEmpty is returned by RmDir when the target directory still has
// live entries.
var ErrNotEmpty = kernelNotFound("directory not empty")

// RmDir removes an empty subdirectory named dirname from parentInode,
// freeing its blocks and inode, per ext2_dir_delete.
func (fs *FS) RmDir(parentInode uint32, dirname string) *kernel.Error {
	entry, err := fs.FindEntry(parentInode, dirname)
	if err != nil {
		return err
	}
	if entry.FileType != FTDir {
		return ErrInvalidInode
	}

	children, err := fs.ListEntries(entry.Inode)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return ErrNotEmpty
	}

	if err := fs.RemoveEntry(parentInode, dirname); err != nil {
		return err
	}

	inode, err := fs.ReadInode(entry.Inode)
	if err != nil {
		return err
	}

	blocksCount := fs.blocksNeeded(inode.Size)
	ptrs, err := fs.ReadBlockPointers(inode, 0, blocksCount)
	if err != nil {
		return err
	}
	for _, b := range ptrs {
		if b != 0 {
			fs.FreeBlock(b)
		}
	}

	if err := fs.FreeInode(entry.Inode); err != nil {
		return err
	}

	parent, err := fs.ReadInode(parentInode)
	if err == nil {
		parent.LinksCount--
		fs.WriteInode(parentInode, parent)
	}

	return nil
}
