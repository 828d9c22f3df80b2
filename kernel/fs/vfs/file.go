package vfs

import (
	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/fd"
	"hendkernel/kernel/fs/ext2"
)

// ErrIsADirectory is returned when Read/Write is attempted on a
// directory's fd.File.
var ErrIsADirectory = errors.New("vfs", kernel.KindInvalidArgument, "is a directory")

// regularFileOps adapts an open *ext2.File to fd.Ops, the wrapping
// fd.go's package doc describes regular files needing.
type regularFileOps struct{}

func (regularFileOps) Read(f *fd.File, buf []byte) (int, *kernel.Error) {
	ef := f.Private.(*ext2.File)
	n, err := ef.Read(buf)
	f.Pos += uint64(n)
	return n, err
}

func (regularFileOps) Write(f *fd.File, buf []byte) (int, *kernel.Error) {
	ef := f.Private.(*ext2.File)
	n, err := ef.Write(buf)
	f.Pos += uint64(n)
	return n, err
}

func (regularFileOps) Close(f *fd.File) *kernel.Error {
	return f.Private.(*ext2.File).Close()
}

// directoryOps is installed on a directory's fd.File; directories carry
// no stream data of their own, only the entries Find/populate already
// expose, so Read/Write are refused.
type directoryOps struct{}

func (directoryOps) Read(f *fd.File, buf []byte) (int, *kernel.Error)  { return 0, ErrIsADirectory }
func (directoryOps) Write(f *fd.File, buf []byte) (int, *kernel.Error) { return 0, ErrIsADirectory }
func (directoryOps) Close(f *fd.File) *kernel.Error                    { return nil }

// Open resolves path against cwd (nil meaning the tree root) and opens
// the resulting entry: a regular file is opened through EXT2, a
// directory gets a stream-less handle, and a device entry's own Ops are
// installed directly, implementing kernel/syscall.FileSystem.
func (v *VFS) Open(cwd interface{}, path string, mode fd.AccessMode) (*fd.File, *kernel.Error) {
	start := v.startFrom(cwd)
	entry, err := v.Find(start, path)
	if err != nil {
		return nil, err
	}

	switch entry.Type {
	case TypeDir:
		return &fd.File{InodeNum: entry.InodeNum, Mode: mode, Type: fd.TypeDirectory, Ops: directoryOps{}, Private: entry}, nil
	case TypeChrdev:
		return &fd.File{InodeNum: entry.InodeNum, Mode: mode, Type: fd.TypeCharDevice, Ops: entry.deviceOps, Private: entry}, nil
	default:
		ef, err := v.fs.OpenFile(entry.InodeNum)
		if err != nil {
			return nil, err
		}
		return &fd.File{InodeNum: entry.InodeNum, Mode: mode, Type: fd.TypeRegular, Ops: regularFileOps{}, Private: ef}, nil
	}
}

// Create makes a fresh regular file named filename via EXT2 inside the
// directory dirPath resolves to and opens it; it fails with an
// AlreadyExists error if the name is already taken.
func (v *VFS) Create(cwd interface{}, dirPath, filename string, mode uint16) (*fd.File, *kernel.Error) {
	start := v.startFrom(cwd)
	dir, err := v.Find(start, dirPath)
	if err != nil {
		return nil, err
	}
	if dir.Type != TypeDir {
		return nil, ErrNotADirectory
	}
	if !dir.ChildrenLoaded {
		if err := v.populate(dir); err != nil {
			return nil, err
		}
	}

	ef, err := v.fs.CreateFile(dir.InodeNum, filename, mode)
	if err != nil {
		return nil, err
	}
	child := newEntry(filename, TypeFile, dir)
	child.InodeNum = ef.InodeNum
	dir.addChild(child)

	return &fd.File{InodeNum: ef.InodeNum, Mode: fd.ReadWrite, Type: fd.TypeRegular, Ops: regularFileOps{}, Private: ef}, nil
}

// Getcwd renders cwd's absolute path, implementing
// kernel/syscall.FileSystem.
func (v *VFS) Getcwd(cwd interface{}) string {
	return v.startFrom(cwd).Path()
}

// Chdir resolves path against cwd and returns the new working-directory
// handle, implementing kernel/syscall.FileSystem.
func (v *VFS) Chdir(cwd interface{}, path string) (interface{}, *kernel.Error) {
	entry, err := v.Find(v.startFrom(cwd), path)
	if err != nil {
		return nil, err
	}
	if entry.Type != TypeDir {
		return nil, ErrNotADirectory
	}
	return entry, nil
}

// startFrom recovers the *Entry a process's opaque Cwd holds, defaulting
// to the tree root for a zero-value interface{} (a not-yet-initialized
// process, or forkless pid 1 at boot).
func (v *VFS) startFrom(cwd interface{}) *Entry {
	if e, ok := cwd.(*Entry); ok && e != nil {
		return e
	}
	return v.root
}
