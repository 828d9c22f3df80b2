package ext2

import "hendkernel/kernel"

// File is an open regular-file handle: its inode number, a cached copy
// of the inode, and the current read/write cursor, per open_file_t.
type File struct {
	fs       *FS
	InodeNum uint32
	inode    Inode
	pos      uint32
}

// OpenFile loads inodeNum's inode and rejects anything that isn't a
// regular file, per ext2_file_open.
func (fs *FS) OpenFile(inodeNum uint32) (*File, *kernel.Error) {
	inode, err := fs.ReadInode(inodeNum)
	if err != nil {
		return nil, err
	}
	if inode.Mode&ModeFlagMask != ModeReg {
		return nil, ErrInvalidInode
	}
	return &File{fs: fs, InodeNum: inodeNum, inode: inode}, nil
}

// CreateFile allocates a fresh inode and directory entry for filename
// inside dirInode, per ext2_file_create.
func (fs *FS) CreateFile(dirInode uint32, filename string, mode uint16) (*File, *kernel.Error) {
	if _, err := fs.FindEntry(dirInode, filename); err == nil {
		return nil, errors_AlreadyExists()
	}

	newInode, err := fs.AllocateInode(false)
	if err != nil {
		return nil, err
	}

	inode := Inode{
		Mode:       ModeReg | (mode &^ ModeFlagMask),
		LinksCount: 1,
	}
	if err := fs.WriteInode(newInode, inode); err != nil {
		fs.FreeInode(newInode)
		return nil, err
	}

	if err := fs.AddEntry(dirInode, filename, newInode, FTRegFile); err != nil {
		fs.FreeInode(newInode)
		return nil, err
	}

	return &File{fs: fs, InodeNum: newInode, inode: inode}, nil
}

// DeleteFile removes filename's directory entry from dirInode and frees
// its inode and every block it held, per ext2_file_delete. Unlike RmDir,
// it rejects anything that isn't a regular file.
func (fs *FS) DeleteFile(dirInode uint32, filename string) *kernel.Error {
	entry, err := fs.FindEntry(dirInode, filename)
	if err != nil {
		return err
	}
	if entry.FileType != FTRegFile {
		return ErrInvalidInode
	}

	if err := fs.RemoveEntry(dirInode, filename); err != nil {
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

	return fs.FreeInode(entry.Inode)
}

func errors_AlreadyExists() *kernel.Error {
	return &kernel.Error{Module: "ext2", Kind: kernel.KindAlreadyExists, Message: "file already exists"}
}

// Size returns the file's current byte length.
func (f *File) Size() uint32 { return f.inode.Size }

// Read copies up to len(buf) bytes starting at the cursor, returning
// zeroes for any sparse (never-written) block, per ext2_file_read.
func (f *File) Read(buf []byte) (int, *kernel.Error) {
	if f.pos >= f.inode.Size {
		return 0, nil
	}
	count := uint32(len(buf))
	if f.pos+count > f.inode.Size {
		count = f.inode.Size - f.pos
	}

	blockSize := f.fs.blockSize
	read := uint32(0)
	for read < count {
		blockIdx := (f.pos) / blockSize
		blockOffset := (f.pos) % blockSize
		toRead := count - read
		if toRead > blockSize-blockOffset {
			toRead = blockSize - blockOffset
		}

		ptrs, err := f.fs.ReadBlockPointers(f.inode, blockIdx, 1)
		if err != nil {
			return int(read), err
		}
		if len(ptrs) != 1 || ptrs[0] == 0 {
			for i := uint32(0); i < toRead; i++ {
				buf[read+i] = 0
			}
		} else {
			data, err := f.fs.readBlock(ptrs[0])
			if err != nil {
				return int(read), err
			}
			copy(buf[read:read+toRead], data[blockOffset:blockOffset+toRead])
		}

		read += toRead
		f.pos += toRead
	}

	f.inode.Atime = 0
	if err := f.fs.WriteInode(f.InodeNum, f.inode); err != nil {
		return int(read), err
	}
	return int(read), nil
}

func (f *FS) blocksNeeded(size uint32) uint32 {
	return (size + f.blockSize - 1) / f.blockSize
}

// ensureBlocksAllocated grows inode's pointer tree to hold
// requiredBlocks logical blocks, allocating and wiring in fresh
// physical blocks for the gap, per ensure_blocks_allocated.
func (fs *FS) ensureBlocksAllocated(inode *Inode, requiredBlocks uint32) *kernel.Error {
	current := fs.blocksNeeded(inode.Size)
	if requiredBlocks <= current {
		return nil
	}

	toAllocate := requiredBlocks - current
	newBlocks := make([]uint32, 0, toAllocate)
	for i := uint32(0); i < toAllocate; i++ {
		b, err := fs.AllocateBlock()
		if err != nil {
			for _, prior := range newBlocks {
				fs.FreeBlock(prior)
			}
			return err
		}
		zero := make([]byte, fs.blockSize)
		if err := fs.writeBlock(b, zero); err != nil {
			fs.FreeBlock(b)
			for _, prior := range newBlocks {
				fs.FreeBlock(prior)
			}
			return err
		}
		newBlocks = append(newBlocks, b)
	}

	if err := fs.WriteBlockPointers(inode, current, newBlocks); err != nil {
		for _, b := range newBlocks {
			fs.FreeBlock(b)
		}
		return err
	}
	return nil
}

// Write stores buf starting at the cursor, growing the file and
// allocating blocks as needed, per ext2_file_write.
func (f *File) Write(buf []byte) (int, *kernel.Error) {
	required := f.fs.blocksNeeded(f.pos + uint32(len(buf)))
	current := f.fs.blocksNeeded(f.inode.Size)
	if required > current {
		if err := f.fs.ensureBlocksAllocated(&f.inode, required); err != nil {
			return 0, err
		}
	}

	blockSize := f.fs.blockSize
	count := uint32(len(buf))
	written := uint32(0)
	for written < count {
		blockIdx := f.pos / blockSize
		blockOffset := f.pos % blockSize
		toWrite := count - written
		if toWrite > blockSize-blockOffset {
			toWrite = blockSize - blockOffset
		}

		ptrs, err := f.fs.ReadBlockPointers(f.inode, blockIdx, 1)
		if err != nil || len(ptrs) != 1 || ptrs[0] == 0 {
			break
		}
		data, err := f.fs.readBlock(ptrs[0])
		if err != nil {
			return int(written), err
		}
		copy(data[blockOffset:blockOffset+toWrite], buf[written:written+toWrite])
		if err := f.fs.writeBlock(ptrs[0], data); err != nil {
			return int(written), err
		}

		written += toWrite
		f.pos += toWrite
	}

	if f.pos > f.inode.Size {
		f.inode.Size = f.pos
	}
	if err := f.fs.WriteInode(f.InodeNum, f.inode); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// Seek whence values, mirroring SEEK_SET/SEEK_CUR/SEEK_END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek repositions the cursor, rejecting any position past end of
// file, per ext2_file_seek.
func (f *File) Seek(offset int64, whence int) *kernel.Error {
	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = int64(f.pos) + offset
	case SeekEnd:
		newPos = int64(f.inode.Size) + offset
	default:
		return ErrInvalidInode
	}
	if newPos < 0 || uint32(newPos) > f.inode.Size {
		return ErrInvalidInode
	}
	f.pos = uint32(newPos)
	return nil
}

// Truncate changes the file's length, allocating blocks when growing
// and releasing them when shrinking, per ext2_file_truncate.
func (f *File) Truncate(length uint32) *kernel.Error {
	if length == f.inode.Size {
		return nil
	}
	if length > f.inode.Size {
		required := f.fs.blocksNeeded(length)
		current := f.fs.blocksNeeded(f.inode.Size)
		if required > current {
			if err := f.fs.ensureBlocksAllocated(&f.inode, required); err != nil {
				return err
			}
		}
		f.inode.Size = length
	} else {
		newBlocks := f.fs.blocksNeeded(length)
		oldBlocks := f.fs.blocksNeeded(f.inode.Size)
		for idx := newBlocks; idx < oldBlocks; idx++ {
			ptrs, err := f.fs.ReadBlockPointers(f.inode, idx, 1)
			if err == nil && len(ptrs) == 1 && ptrs[0] != 0 {
				f.fs.FreeBlock(ptrs[0])
			}
		}
		f.inode.Size = length
		if f.pos > length {
			f.pos = length
		}
	}
	return f.fs.WriteInode(f.InodeNum, f.inode)
}

// Close writes the cached inode back, with Atime set to 0, per
// ext2_file_close.
func (f *File) Close() *kernel.Error {
	f.inode.Atime = 0
	return f.fs.WriteInode(f.InodeNum, f.inode)
}
