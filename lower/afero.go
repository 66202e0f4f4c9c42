package lower

import (
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// NewAfero returns an FS backed by an afero filesystem
func NewAfero(fsys afero.Fs) FS {
	return newPathFS(aferoOps{fs: fsys})
}

type aferoOps struct {
	fs afero.Fs
}

func (a aferoOps) Lstat(name string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return a.fs.Stat(name)
}

func (a aferoOps) Mkdir(name string, perm os.FileMode) error { return a.fs.Mkdir(name, perm) }

func (a aferoOps) OpenFile(name string, flag int, perm os.FileMode) (pathFile, error) {
	f, err := a.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a aferoOps) Remove(name string) error { return a.fs.Remove(name) }

func (a aferoOps) Rename(oldname, newname string) error { return a.fs.Rename(oldname, newname) }

func (a aferoOps) Chmod(name string, mode os.FileMode) error { return a.fs.Chmod(name, mode) }

func (a aferoOps) Chown(name string, uid, gid int) error { return a.fs.Chown(name, uid, gid) }

func (a aferoOps) Chtimes(name string, atime, mtime time.Time) error {
	return a.fs.Chtimes(name, atime, mtime)
}

func (a aferoOps) Symlink(target, name string) error {
	if l, ok := a.fs.(afero.Linker); ok {
		return l.SymlinkIfPossible(target, name)
	}
	return &os.LinkError{Op: "symlink", Old: target, New: name, Err: syscall.ENOTSUP}
}

func (a aferoOps) Readlink(name string) (string, error) {
	if r, ok := a.fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(name)
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.ENOTSUP}
}
