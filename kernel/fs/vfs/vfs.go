// Package vfs implements the path-resolution tree spec.md 4.9
// describes: a lazily-materialized directory tree backed by EXT2, plus
// the synthetic /dev directory device registration populates directly
// (never touching EXT2), per original_source/src/fs/vfs.c's
// vfs_init/vfs_populate_directory/vfs_find_entry.
package vfs

import (
	"hendkernel/kernel"
	"hendkernel/kernel/errors"
	"hendkernel/kernel/fd"
	"hendkernel/kernel/fs/ext2"
)

// Entry types, matching kernel/fs/ext2's EXT2_FT_* directory-entry
// constants so a child's Type can be copied straight from ListEntries.
const (
	TypeUnknown = ext2.FTUnknown
	TypeFile    = ext2.FTRegFile
	TypeDir     = ext2.FTDir
	TypeChrdev  = ext2.FTChrdev
)

// ErrNotFound is returned when path resolution can't find a component.
var ErrNotFound = errors.New("vfs", kernel.KindNotFound, "no such file or directory")

// ErrNotADirectory is returned when a path component that isn't a
// directory is traversed into.
var ErrNotADirectory = errors.New("vfs", kernel.KindInvalidArgument, "not a directory")

// Entry is one node in the VFS tree: a directory, regular file, or
// device, lazily populated from EXT2 the first time it's traversed
// into, per vfs_entry_t.
type Entry struct {
	Name           string
	InodeNum       uint32
	Type           uint8
	NameHash       uint32
	Parent         *Entry
	Children       []*Entry
	ChildrenLoaded bool

	// deviceOps is set only for synthetic /dev entries; it bypasses the
	// EXT2-backed Open path entirely.
	deviceOps fd.Ops
}

func fnv1a(name string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(name); i++ {
		hash ^= uint32(name[i])
		hash *= 16777619
	}
	return hash
}

func newEntry(name string, typ uint8, parent *Entry) *Entry {
	return &Entry{Name: name, Type: typ, NameHash: fnv1a(name), Parent: parent}
}

func (e *Entry) addChild(child *Entry) {
	e.Children = append(e.Children, child)
}

func (e *Entry) findChild(name string) *Entry {
	hash := fnv1a(name)
	for _, c := range e.Children {
		if c.NameHash == hash && c.Name == name {
			return c
		}
	}
	return nil
}

// Path rebuilds the absolute path to e, per vfs_path.
func (e *Entry) Path() string {
	if e.Parent == nil {
		return "/"
	}
	var segments []string
	for cur := e; cur.Parent != nil; cur = cur.Parent {
		segments = append([]string{cur.Name}, segments...)
	}
	out := ""
	for _, s := range segments {
		out += "/" + s
	}
	return out
}

// VFS owns the tree root and the EXT2 filesystem it lazily reflects.
type VFS struct {
	fs   *ext2.FS
	root *Entry
	dev  *Entry
}

// Mount opens fs's root inode as the VFS root and creates /dev as an
// always-already-loaded synthetic directory, per vfs_init. Partition
// selection (GPT index 1) happens one layer down, in the caller that
// builds fs via blockdev.ReadPartition1 + ext2.Mount.
func Mount(fs *ext2.FS) *VFS {
	root := newEntry("", TypeDir, nil)
	root.InodeNum = ext2.RootInode

	dev := newEntry("dev", TypeDir, root)
	dev.ChildrenLoaded = true
	root.addChild(dev)
	root.ChildrenLoaded = false // EXT2 children still load lazily alongside the synthetic dev entry

	return &VFS{fs: fs, root: root, dev: dev}
}

// Root returns the tree root, the default starting point for an
// absolute path and a fresh process's initial working directory.
func (v *VFS) Root() *Entry { return v.root }

// RegisterDevice adds name under /dev backed directly by ops, bypassing
// EXT2 entirely, per vfs_init's "*DEV = vfs_create_entry(...)" plus a
// device's own ops table.
func (v *VFS) RegisterDevice(name string, ops fd.Ops) *Entry {
	entry := newEntry(name, TypeChrdev, v.dev)
	entry.deviceOps = ops
	v.dev.addChild(entry)
	return entry
}

// populate lazily loads dir's EXT2 children the first time it's
// traversed into, per vfs_populate_directory. The synthetic /dev
// directory is marked ChildrenLoaded at Mount time and never reaches
// here.
func (v *VFS) populate(dir *Entry) *kernel.Error {
	if dir.Type != TypeDir || dir.ChildrenLoaded {
		return nil
	}
	entries, err := v.fs.ListEntries(dir.InodeNum)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child := newEntry(e.Name, e.FileType, dir)
		child.InodeNum = e.Inode
		dir.addChild(child)
	}
	dir.ChildrenLoaded = true
	return nil
}

// Find resolves path against current (relative) or the tree root
// (absolute, a leading '/'), handling '.'/'..' and lazily populating
// directories as they're entered, per vfs_find_entry.
func (v *VFS) Find(current *Entry, path string) (*Entry, *kernel.Error) {
	if current == nil || path == "" {
		return nil, ErrNotFound
	}

	cur := current
	rest := path
	if rest[0] == '/' {
		cur = v.root
		rest = rest[1:]
	}

	for len(rest) > 0 {
		slash := indexByte(rest, '/')
		var component string
		if slash == -1 {
			component = rest
			rest = ""
		} else {
			component = rest[:slash]
			rest = rest[slash+1:]
		}
		if component == "" {
			continue
		}

		switch component {
		case ".":
			// stay
		case "..":
			if cur.Parent != nil {
				cur = cur.Parent
			}
		default:
			if cur.Type != TypeDir {
				return nil, ErrNotADirectory
			}
			if !cur.ChildrenLoaded {
				if err := v.populate(cur); err != nil {
					return nil, err
				}
			}
			next := cur.findChild(component)
			if next == nil {
				return nil, ErrNotFound
			}
			cur = next
		}
	}

	return cur, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
