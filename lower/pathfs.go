package lower

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// pathOps is the surface shared by afero and absfs filesystems
type pathOps interface {
	Lstat(name string) (os.FileInfo, error)
	Mkdir(name string, perm os.FileMode) error
	OpenFile(name string, flag int, perm os.FileMode) (pathFile, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	Chmod(name string, mode os.FileMode) error
	Chown(name string, uid, gid int) error
	Chtimes(name string, atime, mtime time.Time) error
	// Symlink and Readlink fail with ENOTSUP where the filesystem has no
	// symbolic links.
	Symlink(target, name string) error
	Readlink(name string) (string, error)
}

type pathFile interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer
	Readdir(count int) ([]os.FileInfo, error)
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// pathDev hands out a distinct device number to every path based FS
var pathDev atomic.Uint64

func init() { pathDev.Store(0x7700_0000) }

// pathFS adapts a path based filesystem without inode numbers. It
// issues synthetic identities per name; an identity follows its object
// through renames and dies with unlink. Hard links and device nodes are
// not supported.
type pathFS struct {
	ops pathOps
	dev uint64

	mu   sync.Mutex
	next uint64
	ids  map[string]uint64
}

func newPathFS(ops pathOps) *pathFS {
	return &pathFS{
		ops:  ops,
		dev:  pathDev.Add(1),
		next: 1,
		ids:  map[string]uint64{"/": 1},
	}
}

func (p *pathFS) ino(name string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[name]; ok {
		return id
	}
	p.next++
	p.ids[name] = p.next
	return p.next
}

// forget drops the identities of name and everything below it
func (p *pathFS) forget(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.ids {
		if k == name || strings.HasPrefix(k, name+"/") {
			delete(p.ids, k)
		}
	}
}

// move carries the identities below oldname over to newname
func (p *pathFS) move(oldname, newname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	moved := make(map[string]uint64)
	for k, id := range p.ids {
		if k == oldname || strings.HasPrefix(k, oldname+"/") {
			moved[newname+strings.TrimPrefix(k, oldname)] = id
			delete(p.ids, k)
		}
	}
	for k, id := range moved {
		p.ids[k] = id
	}
}

func (p *pathFS) attr(name string, fi os.FileInfo) Attr {
	a := Attr{
		Ident:  Ident{Dev: p.dev, Ino: p.ino(name)},
		Mode:   fi.Mode(),
		Nlink:  1,
		Uid:    uint32(os.Getuid()),
		Gid:    uint32(os.Getgid()),
		Size:   fi.Size(),
		Blocks: (fi.Size() + 511) / 512,
		Atime:  fi.ModTime(),
		Mtime:  fi.ModTime(),
		Ctime:  fi.ModTime(),
	}
	if fi.IsDir() {
		a.Nlink = 2 + p.subdirs(name)
	}
	return a
}

func (p *pathFS) subdirs(name string) uint32 {
	infos, err := p.list(name)
	if err != nil {
		return 0
	}
	var n uint32
	for _, fi := range infos {
		if fi.IsDir() {
			n++
		}
	}
	return n
}

func (p *pathFS) list(name string) ([]os.FileInfo, error) {
	f, err := p.ops.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdir(-1)
}

func (p *pathFS) stat(op, name string) (os.FileInfo, error) {
	fi, err := p.ops.Lstat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &os.PathError{Op: op, Path: name, Err: syscall.ENOENT}
		}
		return nil, err
	}
	return fi, nil
}

// checkNew fails unless name is absent and its parent is a directory
func (p *pathFS) checkNew(op, name string) error {
	dir, err := p.stat(op, path.Dir(name))
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		return &os.PathError{Op: op, Path: name, Err: syscall.ENOTDIR}
	}
	if _, err := p.ops.Lstat(name); err == nil {
		return &os.PathError{Op: op, Path: name, Err: syscall.EEXIST}
	}
	return nil
}

func (p *pathFS) Lstat(name string) (Attr, error) {
	fi, err := p.stat("lstat", name)
	if err != nil {
		return Attr{}, err
	}
	return p.attr(name, fi), nil
}

func (p *pathFS) Mkdir(name string, perm os.FileMode) error {
	if err := p.checkNew("mkdir", name); err != nil {
		return err
	}
	return p.ops.Mkdir(name, perm)
}

func (p *pathFS) Create(name string, perm os.FileMode) error {
	if err := p.checkNew("create", name); err != nil {
		return err
	}
	f, err := p.ops.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &os.PathError{Op: "create", Path: name, Err: syscall.EEXIST}
		}
		return err
	}
	return f.Close()
}

func (p *pathFS) Mknod(name string, mode os.FileMode, dev uint64) error {
	if mode.Type() != 0 {
		return &os.PathError{Op: "mknod", Path: name, Err: syscall.ENOTSUP}
	}
	return p.Create(name, mode.Perm())
}

func (p *pathFS) Symlink(target, name string) error {
	if err := p.checkNew("symlink", name); err != nil {
		return err
	}
	return p.ops.Symlink(target, name)
}

func (p *pathFS) Link(oldname, newname string) error {
	return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: syscall.ENOTSUP}
}

func (p *pathFS) Readlink(name string) (string, error) {
	fi, err := p.stat("readlink", name)
	if err != nil {
		return "", err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return "", &os.PathError{Op: "readlink", Path: name, Err: syscall.EINVAL}
	}
	return p.ops.Readlink(name)
}

func (p *pathFS) Unlink(name string) error {
	fi, err := p.stat("unlink", name)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return &os.PathError{Op: "unlink", Path: name, Err: syscall.EISDIR}
	}
	if err := p.ops.Remove(name); err != nil {
		return err
	}
	p.forget(name)
	return nil
}

func (p *pathFS) Rmdir(name string) error {
	if name == "/" {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.EBUSY}
	}
	fi, err := p.stat("rmdir", name)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTDIR}
	}
	infos, err := p.list(name)
	if err != nil {
		return err
	}
	if len(infos) > 0 {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTEMPTY}
	}
	if err := p.ops.Remove(name); err != nil {
		return err
	}
	p.forget(name)
	return nil
}

func (p *pathFS) Rename(oldname, newname string) error {
	linkErr := func(errno syscall.Errno) error {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errno}
	}
	src, err := p.ops.Lstat(oldname)
	if err != nil {
		return linkErr(syscall.ENOENT)
	}
	if oldname == newname {
		return nil
	}
	if strings.HasPrefix(newname, oldname+"/") {
		return linkErr(syscall.EINVAL)
	}
	if dst, err := p.ops.Lstat(newname); err == nil {
		switch {
		case src.IsDir() && !dst.IsDir():
			return linkErr(syscall.ENOTDIR)
		case !src.IsDir() && dst.IsDir():
			return linkErr(syscall.EISDIR)
		case dst.IsDir():
			infos, err := p.list(newname)
			if err != nil {
				return err
			}
			if len(infos) > 0 {
				return linkErr(syscall.ENOTEMPTY)
			}
		}
		if err := p.ops.Remove(newname); err != nil {
			return err
		}
		p.forget(newname)
	} else if dir, err := p.ops.Lstat(path.Dir(newname)); err != nil || !dir.IsDir() {
		return linkErr(syscall.ENOENT)
	}
	if err := p.ops.Rename(oldname, newname); err != nil {
		return err
	}
	p.move(oldname, newname)
	return nil
}

func (p *pathFS) Open(name string, flag int) (File, error) {
	fi, err := p.stat("open", name)
	if err != nil {
		return nil, err
	}
	f, err := p.ops.OpenFile(name, flag&^(os.O_CREATE|os.O_EXCL), 0)
	if err != nil {
		return nil, err
	}
	return &pathHandle{pathFile: f, fs: p, name: name, ident: p.attr(name, fi).Ident}, nil
}

func (p *pathFS) Setattr(name string, sa SetAttr) error {
	fi, err := p.stat("setattr", name)
	if err != nil {
		return err
	}
	if sa.Mode != nil {
		if err := p.ops.Chmod(name, fi.Mode().Type()|sa.Mode.Perm()|(*sa.Mode&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky))); err != nil {
			return err
		}
	}
	if sa.Uid != nil || sa.Gid != nil {
		uid, gid := os.Getuid(), os.Getgid()
		if sa.Uid != nil {
			uid = int(*sa.Uid)
		}
		if sa.Gid != nil {
			gid = int(*sa.Gid)
		}
		if err := p.ops.Chown(name, uid, gid); err != nil {
			return err
		}
	}
	if sa.Size != nil {
		if fi.IsDir() {
			return &os.PathError{Op: "truncate", Path: name, Err: syscall.EISDIR}
		}
		f, err := p.ops.OpenFile(name, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		err = f.Truncate(*sa.Size)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	if sa.Atime != nil || sa.Mtime != nil {
		atime, mtime := fi.ModTime(), fi.ModTime()
		if sa.Atime != nil {
			atime = *sa.Atime
		}
		if sa.Mtime != nil {
			mtime = *sa.Mtime
		}
		if err := p.ops.Chtimes(name, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (p *pathFS) Statfs() (Statfs, error) {
	return Statfs{Bsize: 4096, Frsize: 4096, NameLen: maxNameLen}, nil
}

// pathHandle is an open file of a pathFS
type pathHandle struct {
	pathFile
	fs    *pathFS
	name  string
	ident Ident
}

func (h *pathHandle) Readdir(n int) ([]DirEntry, error) {
	infos, err := h.pathFile.Readdir(n)
	out := make([]DirEntry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, DirEntry{
			Name: fi.Name(),
			Ino:  h.fs.ino(path.Join(h.name, fi.Name())),
			Mode: fi.Mode().Type(),
		})
	}
	return out, err
}

func (h *pathHandle) Attr() (Attr, error) {
	fi, err := h.pathFile.Stat()
	if err != nil {
		return Attr{}, err
	}
	a := h.fs.attr(h.name, fi)
	a.Ident = h.ident
	return a, nil
}
