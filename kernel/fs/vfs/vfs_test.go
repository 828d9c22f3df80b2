package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hendkernel/kernel"
	"hendkernel/kernel/fd"
)

// buildTree assembles a root/usr/usr-bin tree with children already
// marked loaded, so Find exercises pure tree-walking without touching a
// real ext2.FS.
func buildTree() *VFS {
	root := newEntry("", TypeDir, nil)
	root.InodeNum = 2
	root.ChildrenLoaded = true

	usr := newEntry("usr", TypeDir, root)
	usr.ChildrenLoaded = true
	root.addChild(usr)

	bin := newEntry("bin", TypeDir, usr)
	bin.ChildrenLoaded = true
	usr.addChild(bin)

	sh := newEntry("sh", TypeFile, bin)
	bin.addChild(sh)

	dev := newEntry("dev", TypeDir, root)
	dev.ChildrenLoaded = true
	root.addChild(dev)

	return &VFS{root: root, dev: dev}
}

func TestFindAbsolutePath(t *testing.T) {
	v := buildTree()
	entry, err := v.Find(v.root, "/usr/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "sh", entry.Name)
	require.Equal(t, TypeFile, entry.Type)
}

func TestFindRelativePath(t *testing.T) {
	v := buildTree()
	usr, err := v.Find(v.root, "/usr")
	require.NoError(t, err)
	entry, err := v.Find(usr, "bin/sh")
	require.NoError(t, err)
	require.Equal(t, "sh", entry.Name)
}

func TestFindDotDotWalksToParent(t *testing.T) {
	v := buildTree()
	bin, err := v.Find(v.root, "/usr/bin")
	require.NoError(t, err)
	entry, err := v.Find(bin, "../../dev")
	require.NoError(t, err)
	require.Equal(t, "dev", entry.Name)
}

func TestFindDotDotAtRootStaysAtRoot(t *testing.T) {
	v := buildTree()
	entry, err := v.Find(v.root, "..")
	require.NoError(t, err)
	require.Same(t, v.root, entry, "'..' above root should stay at root")
}

func TestFindMissingComponentFails(t *testing.T) {
	v := buildTree()
	_, err := v.Find(v.root, "/usr/nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindThroughFileFails(t *testing.T) {
	v := buildTree()
	_, err := v.Find(v.root, "/usr/bin/sh/nope")
	require.ErrorIs(t, err, ErrNotADirectory)
}

func TestPathRebuildsAbsoluteName(t *testing.T) {
	v := buildTree()
	entry, err := v.Find(v.root, "/usr/bin/sh")
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/sh", entry.Path())
}

func TestRegisterDeviceAddsUnderDev(t *testing.T) {
	v := buildTree()
	ops := fakeDeviceOps{}
	v.RegisterDevice("console0", ops)

	entry, err := v.Find(v.root, "/dev/console0")
	require.NoError(t, err)
	require.Equal(t, TypeChrdev, entry.Type)
}

func TestOpenDeviceInstallsItsOwnOps(t *testing.T) {
	v := buildTree()
	ops := fakeDeviceOps{}
	v.RegisterDevice("console0", ops)

	f, err := v.Open(nil, "/dev/console0", fd.ReadWrite)
	require.NoError(t, err)
	require.Equal(t, fd.TypeCharDevice, f.Type)
	require.IsType(t, fakeDeviceOps{}, f.Ops, "Open did not install the device's own Ops")
}

func TestChdirRejectsNonDirectory(t *testing.T) {
	v := buildTree()
	_, err := v.Chdir(v.root, "/usr/bin/sh")
	require.ErrorIs(t, err, ErrNotADirectory)
}

func TestGetcwdDefaultsToRootForNilCwd(t *testing.T) {
	v := buildTree()
	require.Equal(t, "/", v.Getcwd(nil))
}

type fakeDeviceOps struct{}

func (fakeDeviceOps) Read(f *fd.File, buf []byte) (int, *kernel.Error)  { return 0, nil }
func (fakeDeviceOps) Write(f *fd.File, buf []byte) (int, *kernel.Error) { return len(buf), nil }
func (fakeDeviceOps) Close(f *fd.File) *kernel.Error                    { return nil }
