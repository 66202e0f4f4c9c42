package lower

import (
	"os"
	"syscall"
	"time"

	"github.com/absfs/absfs"
)

// NewAbsFS returns an FS backed by an absfs filesystem. Symbolic links
// are available when fsys also implements absfs.SymLinker.
func NewAbsFS(fsys absfs.FileSystem) FS {
	return newPathFS(absOps{fs: fsys})
}

type absOps struct {
	fs absfs.FileSystem
}

func (a absOps) Lstat(name string) (os.FileInfo, error) {
	if l, ok := a.fs.(absfs.SymLinker); ok {
		return l.Lstat(name)
	}
	return a.fs.Stat(name)
}

func (a absOps) Mkdir(name string, perm os.FileMode) error { return a.fs.Mkdir(name, perm) }

func (a absOps) OpenFile(name string, flag int, perm os.FileMode) (pathFile, error) {
	f, err := a.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a absOps) Remove(name string) error { return a.fs.Remove(name) }

func (a absOps) Rename(oldname, newname string) error { return a.fs.Rename(oldname, newname) }

func (a absOps) Chmod(name string, mode os.FileMode) error { return a.fs.Chmod(name, mode) }

func (a absOps) Chown(name string, uid, gid int) error { return a.fs.Chown(name, uid, gid) }

func (a absOps) Chtimes(name string, atime, mtime time.Time) error {
	return a.fs.Chtimes(name, atime, mtime)
}

func (a absOps) Symlink(target, name string) error {
	if l, ok := a.fs.(absfs.SymLinker); ok {
		return l.Symlink(target, name)
	}
	return &os.LinkError{Op: "symlink", Old: target, New: name, Err: syscall.ENOTSUP}
}

func (a absOps) Readlink(name string) (string, error) {
	if l, ok := a.fs.(absfs.SymLinker); ok {
		return l.Readlink(name)
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.ENOTSUP}
}
