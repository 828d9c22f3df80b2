package ext2

import "hendkernel/kernel"

// Directory entry file types, the EXT2_FT_* constants.
const (
	FTUnknown = 0
	FTRegFile = 1
	FTDir     = 2
	FTChrdev  = 3
	FTBlkdev  = 4
	FTFifo    = 5
	FTSock    = 6
	FTSymlink = 7
)

// direntHeaderSize is sizeof(ext2_dirent_t) before the variable-length
// name: inode(4) + rec_len(2) + name_len(1) + file_type(1).
const direntHeaderSize = 8

// DirEntry is one decoded directory record.
type DirEntry struct {
	Inode    uint32
	FileType uint8
	Name     string
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

func entryLen(nameLen uint32) uint32 { return direntHeaderSize + align4(nameLen) }

func decodeEntry(buf []byte, pos uint32) (inode uint32, recLen uint16, nameLen uint8, fileType uint8, name string) {
	inode = uint32(buf[pos]) | uint32(buf[pos+1])<<8 | uint32(buf[pos+2])<<16 | uint32(buf[pos+3])<<24
	recLen = uint16(buf[pos+4]) | uint16(buf[pos+5])<<8
	nameLen = buf[pos+6]
	fileType = buf[pos+7]
	name = string(buf[pos+8 : pos+8+uint32(nameLen)])
	return
}

func encodeEntry(buf []byte, pos, inode uint32, recLen uint16, fileType uint8, name string) {
	buf[pos] = byte(inode)
	buf[pos+1] = byte(inode >> 8)
	buf[pos+2] = byte(inode >> 16)
	buf[pos+3] = byte(inode >> 24)
	buf[pos+4] = byte(recLen)
	buf[pos+5] = byte(recLen >> 8)
	buf[pos+6] = byte(len(name))
	buf[pos+7] = fileType
	copy(buf[pos+8:pos+8+uint32(len(name))], name)
}

// dirBlockAt resolves the blockIdx'th block of a directory's data,
// allocating it (and zero-filling it) if it doesn't exist yet.
func (fs *FS) dirBlockAt(dirInode uint32, inode *Inode, blockIdx uint32) (uint32, []byte, *kernel.Error) {
	ptrs, err := fs.ReadBlockPointers(*inode, blockIdx, 1)
	if err != nil {
		return 0, nil, err
	}
	if len(ptrs) == 1 && ptrs[0] != 0 {
		data, err := fs.readBlock(ptrs[0])
		return ptrs[0], data, err
	}

	block, err := fs.AllocateBlock()
	if err != nil {
		return 0, nil, err
	}
	zero := make([]byte, fs.blockSize)
	if err := fs.writeBlock(block, zero); err != nil {
		return 0, nil, err
	}
	if err := fs.WriteBlockPointers(inode, blockIdx, []uint32{block}); err != nil {
		return 0, nil, err
	}
	inode.Size += fs.blockSize
	if err := fs.WriteInode(dirInode, *inode); err != nil {
		return 0, nil, err
	}
	return block, zero, nil
}

// ListEntries walks every live (inode != 0) directory record in
// dirInode, in on-disk order.
func (fs *FS) ListEntries(dirInode uint32) ([]DirEntry, *kernel.Error) {
	inode, err := fs.ReadInode(dirInode)
	if err != nil {
		return nil, err
	}
	if inode.Mode&ModeFlagMask != ModeDir {
		return nil, ErrInvalidInode
	}

	var out []DirEntry
	for offset := uint32(0); offset < inode.Size; offset += fs.blockSize {
		blockIdx := offset / fs.blockSize
		ptrs, err := fs.ReadBlockPointers(inode, blockIdx, 1)
		if err != nil {
			return nil, err
		}
		if len(ptrs) != 1 || ptrs[0] == 0 {
			continue
		}
		data, err := fs.readBlock(ptrs[0])
		if err != nil {
			return nil, err
		}
		for pos := uint32(0); pos < fs.blockSize; {
			ino, recLen, _, ftype, name := decodeEntry(data, pos)
			if recLen == 0 {
				break
			}
			if ino != 0 {
				out = append(out, DirEntry{Inode: ino, FileType: ftype, Name: name})
			}
			pos += uint32(recLen)
		}
	}
	return out, nil
}

// FindEntry looks up name in dirInode's directory data, per find_entry.
func (fs *FS) FindEntry(dirInode uint32, name string) (DirEntry, *kernel.Error) {
	entries, err := fs.ListEntries(dirInode)
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return DirEntry{}, errNoSuchEntry
}

var errNoSuchEntry = kernelNotFound("directory entry not found")

func kernelNotFound(msg string) *kernel.Error {
	return &kernel.Error{Module: "ext2", Kind: kernel.KindNotFound, Message: msg}
}

// AddEntry inserts a (name, inodeNum, fileType) record into dirInode's
// directory data, reusing a deleted slot or splitting a record with
// spare trailing space before appending a fresh block, per add_entry.
func (fs *FS) AddEntry(dirInode uint32, name string, inodeNum uint32, fileType uint8) *kernel.Error {
	inode, err := fs.ReadInode(dirInode)
	if err != nil {
		return err
	}
	if inode.Mode&ModeFlagMask != ModeDir {
		return ErrInvalidInode
	}

	needed := entryLen(uint32(len(name)))

	for offset := uint32(0); offset < inode.Size; offset += fs.blockSize {
		blockIdx := offset / fs.blockSize
		blockNum, data, err := fs.dirBlockAt(dirInode, &inode, blockIdx)
		if err != nil {
			return err
		}

		for pos := uint32(0); pos < fs.blockSize; {
			ino, recLen, nameLen, _, _ := decodeEntry(data, pos)

			if recLen == 0 {
				if fs.blockSize-pos >= needed {
					encodeEntry(data, pos, inodeNum, uint16(fs.blockSize-pos), fileType, name)
					return fs.writeBlock(blockNum, data)
				}
				break
			}

			if ino == 0 {
				if uint32(recLen) >= needed {
					if uint32(recLen) > needed {
						encodeEntry(data, pos+needed, 0, uint16(uint32(recLen)-needed), 0, "")
						encodeEntry(data, pos, inodeNum, uint16(needed), fileType, name)
					} else {
						encodeEntry(data, pos, inodeNum, recLen, fileType, name)
					}
					return fs.writeBlock(blockNum, data)
				}
			} else {
				used := entryLen(uint32(nameLen))
				available := uint32(recLen) - used
				if available >= needed {
					encodeEntry(data, pos, ino, uint16(used), data[pos+7], string(data[pos+8:pos+8+uint32(nameLen)]))
					encodeEntry(data, pos+used, inodeNum, uint16(available), fileType, name)
					return fs.writeBlock(blockNum, data)
				}
			}

			pos += uint32(recLen)
		}
	}

	block, err := fs.AllocateBlock()
	if err != nil {
		return err
	}
	data := make([]byte, fs.blockSize)
	encodeEntry(data, 0, inodeNum, uint16(fs.blockSize), fileType, name)
	if err := fs.writeBlock(block, data); err != nil {
		return err
	}

	blockIdx := inode.Size / fs.blockSize
	if err := fs.WriteBlockPointers(&inode, blockIdx, []uint32{block}); err != nil {
		fs.FreeBlock(block)
		return err
	}
	inode.Size += fs.blockSize
	return fs.WriteInode(dirInode, inode)
}

// RemoveEntry clears name's directory record, merging its space into
// the immediately preceding record within the same block when one
// exists, per remove_entry.
func (fs *FS) RemoveEntry(dirInode uint32, name string) *kernel.Error {
	inode, err := fs.ReadInode(dirInode)
	if err != nil {
		return err
	}
	if inode.Mode&ModeFlagMask != ModeDir {
		return ErrInvalidInode
	}

	for offset := uint32(0); offset < inode.Size; offset += fs.blockSize {
		blockIdx := offset / fs.blockSize
		ptrs, err := fs.ReadBlockPointers(inode, blockIdx, 1)
		if err != nil {
			return err
		}
		if len(ptrs) != 1 || ptrs[0] == 0 {
			return errNoSuchEntry
		}
		blockNum := ptrs[0]
		data, err := fs.readBlock(blockNum)
		if err != nil {
			return err
		}

		prevPos := uint32(0)
		havePrev := false
		for pos := uint32(0); pos < fs.blockSize; {
			ino, recLen, _, _, entName := decodeEntry(data, pos)
			if recLen == 0 {
				break
			}
			if ino != 0 && entName == name {
				data[pos] = 0
				data[pos+1] = 0
				data[pos+2] = 0
				data[pos+3] = 0
				if havePrev {
					_, prevRec, _, _, _ := decodeEntry(data, prevPos)
					newRec := uint32(prevRec) + uint32(recLen)
					data[prevPos+4] = byte(newRec)
					data[prevPos+5] = byte(newRec >> 8)
				}
				return fs.writeBlock(blockNum, data)
			}
			prevPos = pos
			havePrev = true
			pos += uint32(recLen)
		}
	}
	return errNoSuchEntry
}
