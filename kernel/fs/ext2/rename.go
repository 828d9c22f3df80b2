package ext2

import "hendkernel/kernel"

// ErrAlreadyExists is returned by Rename when newName already names an
// entry inside newDirInode.
var ErrAlreadyExists = errors_AlreadyExists()

// Rename moves oldName out of oldDirInode and links it as newName inside
// newDirInode, per ext2_rename. It fails if newName already exists (no
// destination-clobbering) and, if adding the new entry fails after the
// old one has already been unlinked, attempts exactly one restore pass
// into the original directory before surfacing the error — on a second
// failure the inode is left unlinked from both directories (an orphan,
// since this filesystem does no journaling).
func (fs *FS) Rename(oldDirInode, newDirInode uint32, oldName, newName string) *kernel.Error {
	entry, err := fs.FindEntry(oldDirInode, oldName)
	if err != nil {
		return err
	}

	if _, err := fs.FindEntry(newDirInode, newName); err == nil {
		return ErrAlreadyExists
	}

	if err := fs.RemoveEntry(oldDirInode, oldName); err != nil {
		return err
	}

	if err := fs.AddEntry(newDirInode, newName, entry.Inode, entry.FileType); err != nil {
		fs.AddEntry(oldDirInode, oldName, entry.Inode, entry.FileType)
		return err
	}

	return nil
}
