package wrapfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/absfs/absfs"

	"github.com/absfs/wrapfs/lower"
)

// OpenFile implements absfs.Filer
func (a *absFSAdapter) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	name = cleanPath(name)
	n, err := a.wfs.Resolve(name, true)
	if err != nil {
		return nil, err
	}
	defer n.Put()

	if n.Negative() {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOENT}
		}
		if err := a.wfs.Create(n.Parent(), n, perm.Perm()); err != nil {
			return nil, err
		}
	} else if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EEXIST}
	}

	if flag&os.O_TRUNC != 0 && writable(flag) && n.Object().Kind() == Regular {
		if _, err := a.wfs.Setattr(n, setSize(0)); err != nil {
			return nil, err
		}
	}
	f, err := a.wfs.Open(n, flag&^os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	return &absFile{a: a, f: f, name: name}, nil
}

// Mkdir implements absfs.Filer
func (a *absFSAdapter) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	n, err := a.wfs.Resolve(name, false)
	if err != nil {
		return err
	}
	defer n.Put()
	if n.IsRoot() || !n.Negative() {
		return &os.PathError{Op: "mkdir", Path: name, Err: syscall.EEXIST}
	}
	return a.wfs.Mkdir(n.Parent(), n, perm.Perm())
}

// Remove implements absfs.Filer
func (a *absFSAdapter) Remove(name string) error {
	name = cleanPath(name)
	n, err := a.existing("remove", name, false)
	if err != nil {
		return err
	}
	defer n.Put()
	if n.IsRoot() {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EBUSY}
	}
	if n.Object().Kind() == Directory {
		return a.wfs.Rmdir(n.Parent(), n)
	}
	return a.wfs.Unlink(n.Parent(), n)
}

// RemoveAll removes name and everything below it. A missing name is not
// an error.
func (a *absFSAdapter) RemoveAll(name string) error {
	name = cleanPath(name)
	n, err := a.wfs.Resolve(name, false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer n.Put()
	if n.IsRoot() {
		return &os.PathError{Op: "removeall", Path: name, Err: syscall.EBUSY}
	}
	return a.removeAll(n)
}

func (a *absFSAdapter) removeAll(n *Node) error {
	obj := n.Object()
	if obj == nil {
		return nil
	}
	if obj.Kind() != Directory {
		return a.wfs.Unlink(n.Parent(), n)
	}

	f, err := a.wfs.Open(n, os.O_RDONLY)
	if err != nil {
		return err
	}
	ents, err := f.Readdir(-1)
	f.Release()
	if err != nil && err != io.EOF {
		return err
	}
	for _, e := range ents {
		c, err := a.wfs.Lookup(n, e.Name)
		if err != nil {
			return err
		}
		err = a.removeAll(c)
		c.Put()
		if err != nil {
			return err
		}
	}
	return a.wfs.Rmdir(n.Parent(), n)
}

// Rename implements absfs.Filer
func (a *absFSAdapter) Rename(oldpath, newpath string) error {
	oldpath, newpath = cleanPath(oldpath), cleanPath(newpath)
	old, err := a.existing("rename", oldpath, false)
	if err != nil {
		return err
	}
	defer old.Put()
	target, err := a.wfs.Resolve(newpath, false)
	if err != nil {
		return err
	}
	defer target.Put()
	if old.IsRoot() || target.IsRoot() {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EBUSY}
	}
	return a.wfs.Rename(old.Parent(), old, target.Parent(), target, 0)
}

// Stat implements absfs.Filer
func (a *absFSAdapter) Stat(name string) (os.FileInfo, error) {
	return a.stat("stat", name, true)
}

func (a *absFSAdapter) stat(op, name string, follow bool) (os.FileInfo, error) {
	name = cleanPath(name)
	n, err := a.existing(op, name, follow)
	if err != nil {
		return nil, err
	}
	defer n.Put()
	attr, err := a.wfs.Getattr(n)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(name), attr: attr}, nil
}

// setattr applies sa to the object name leads to
func (a *absFSAdapter) setattr(op, name string, follow bool, sa lower.SetAttr) error {
	name = cleanPath(name)
	n, err := a.existing(op, name, follow)
	if err != nil {
		return err
	}
	defer n.Put()
	_, err = a.wfs.Setattr(n, sa)
	return err
}

// Chmod implements absfs.Filer
func (a *absFSAdapter) Chmod(name string, mode os.FileMode) error {
	mode &= os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky
	return a.setattr("chmod", name, true, lower.SetAttr{Mode: &mode})
}

// Chtimes implements absfs.Filer
func (a *absFSAdapter) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.setattr("chtimes", name, true, lower.SetAttr{Atime: &atime, Mtime: &mtime})
}

// Chown implements absfs.Filer
func (a *absFSAdapter) Chown(name string, uid, gid int) error {
	return a.setattr("chown", name, true, setOwner(uid, gid))
}

// Truncate changes the size of the named file
func (a *absFSAdapter) Truncate(name string, size int64) error {
	return a.setattr("truncate", name, true, setSize(size))
}

// ReadDir implements absfs.Filer
func (a *absFSAdapter) ReadDir(name string) ([]fs.DirEntry, error) {
	f, err := a.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadDir(-1)
}

// ReadFile implements absfs.Filer
func (a *absFSAdapter) ReadFile(name string) ([]byte, error) {
	f, err := a.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Sub implements absfs.Filer
func (a *absFSAdapter) Sub(dir string) (fs.FS, error) {
	return absfs.FilerToFS(a, dir)
}

func setSize(size int64) lower.SetAttr {
	return lower.SetAttr{Size: &size}
}

// setOwner builds an ownership change; -1 leaves an id unchanged
func setOwner(uid, gid int) lower.SetAttr {
	var sa lower.SetAttr
	if uid >= 0 {
		u := uint32(uid)
		sa.Uid = &u
	}
	if gid >= 0 {
		g := uint32(gid)
		sa.Gid = &g
	}
	return sa
}
