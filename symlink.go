package wrapfs

import (
	"os"
	"syscall"
)

// Lstat implements absfs.SymLinker
func (a *absFSAdapter) Lstat(name string) (os.FileInfo, error) {
	return a.stat("lstat", name, false)
}

// Lchown implements absfs.SymLinker
func (a *absFSAdapter) Lchown(name string, uid, gid int) error {
	return a.setattr("lchown", name, false, setOwner(uid, gid))
}

// Readlink implements absfs.SymLinker
func (a *absFSAdapter) Readlink(name string) (string, error) {
	name = cleanPath(name)
	n, err := a.existing("readlink", name, false)
	if err != nil {
		return "", err
	}
	defer n.Put()
	return a.wfs.Readlink(n)
}

// Symlink implements absfs.SymLinker
func (a *absFSAdapter) Symlink(oldname, newname string) error {
	newname = cleanPath(newname)
	n, err := a.wfs.Resolve(newname, false)
	if err != nil {
		return err
	}
	defer n.Put()
	if !n.Negative() {
		return &os.LinkError{Op: "symlink", Old: oldname, New: newname, Err: syscall.EEXIST}
	}
	return a.wfs.Symlink(n.Parent(), n, oldname)
}
