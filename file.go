package wrapfs

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// File is an open file of the mount. It forwards I/O to the lower file
// opened on the same object and mirrors the attributes each operation
// changes.
type File struct {
	wfs  *FS
	node *Node
	obj  *Object
	flag int
	h    *lower.Handle

	mu       sync.Mutex // guards pos and mapOps
	pos      int64
	mapOps   lower.MapOps
	released atomic.Bool
}

// Open opens the object n names. The node must still be reachable by
// name and positive.
func (wfs *FS) Open(n *Node, flag int) (*File, error) {
	log := wfs.log.WithFields(logrus.Fields{"op": "open", "path": n.Path(), "flag": flag})

	if !n.Hashed() {
		return nil, &os.PathError{Op: "open", Path: n.Path(), Err: syscall.ENOENT}
	}
	obj := n.Object()
	if obj == nil {
		return nil, &os.PathError{Op: "open", Path: n.Path(), Err: syscall.ENOENT}
	}
	if writable(flag) {
		if err := wfs.readOnly("open", n.Path()); err != nil {
			return nil, err
		}
		if obj.Kind() == Directory {
			return nil, &os.PathError{Op: "open", Path: n.Path(), Err: syscall.EISDIR}
		}
	}

	f := &File{wfs: wfs, node: n.Get(), obj: obj, flag: flag}
	ref := n.getRef()
	h, err := wfs.store.Open(ref.entry, flag&^(os.O_CREATE|os.O_EXCL))
	ref.release()
	if err != nil {
		log.WithError(err).Debug("lower open failed")
		f.node.Put()
		return nil, err
	}
	f.h = h
	obj.copyAttrAll(h.Inode().Attr())
	wfs.openFiles.Add(1)
	log.Debug("opened")
	return f, nil
}

// Node returns the node the file was opened through
func (f *File) Node() *Node { return f.node }

// Object returns the object the file is open on
func (f *File) Object() *Object { return f.obj }

// Name returns the path the file was opened by
func (f *File) Name() string { return f.node.Path() }

// Flags returns the open flags
func (f *File) Flags() int { return f.flag }

func (f *File) pathErr(op string, err error) error {
	return &os.PathError{Op: op, Path: f.Name(), Err: err}
}

// regular fails unless the file is open on an object holding data
func (f *File) regular(op string) error {
	if f.released.Load() {
		return f.pathErr(op, os.ErrClosed)
	}
	switch f.obj.Kind() {
	case Regular, Special:
		return nil
	case Directory:
		return f.pathErr(op, syscall.EISDIR)
	}
	return f.pathErr(op, syscall.EINVAL)
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.regular("read"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.h.Read(p)
	f.syncPos(n)
	if err == nil || err == io.EOF {
		f.obj.copyAttrAtime(f.h.Inode().Attr())
	}
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.regular("read"); err != nil {
		return 0, err
	}
	n, err := f.h.ReadAt(p, off)
	if err == nil || err == io.EOF {
		f.obj.copyAttrAtime(f.h.Inode().Attr())
	}
	return n, err
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.regular("write"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.h.Write(p)
	f.syncPos(n)
	f.wrote(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if err := f.regular("write"); err != nil {
		return 0, err
	}
	n, err := f.h.WriteAt(p, off)
	f.wrote(n)
	return n, err
}

// wrote mirrors size and times after n bytes were written
func (f *File) wrote(n int) {
	if n <= 0 {
		return
	}
	a := f.h.Inode().Attr()
	f.obj.copyInodeSize(a)
	f.obj.copyAttrTimes(a)
}

// syncPos takes the offset from the lower file after n bytes went
// through it. O_APPEND writes land wherever the lower file says.
func (f *File) syncPos(n int) {
	off, err := f.h.Seek(0, io.SeekCurrent)
	if err != nil {
		f.pos += int64(n)
		return
	}
	f.pos = off
}

// Seek moves the lower file and records the offset it reports
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.released.Load() {
		return 0, f.pathErr("seek", os.ErrClosed)
	}
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	default:
		return 0, f.pathErr("seek", syscall.EINVAL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if whence == io.SeekStart && offset < 0 {
		return f.pos, f.pathErr("seek", syscall.EINVAL)
	}
	pos, err := f.h.Seek(offset, whence)
	if err != nil {
		return f.pos, err
	}
	f.pos = pos
	return pos, nil
}

// Pos returns the offset last reported by the lower file
func (f *File) Pos() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

// Readdir reads up to n directory entries, or all of them if n <= 0
func (f *File) Readdir(n int) ([]lower.DirEntry, error) {
	if f.released.Load() {
		return nil, f.pathErr("readdir", os.ErrClosed)
	}
	if f.obj.Kind() != Directory {
		return nil, f.pathErr("readdir", syscall.ENOTDIR)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ents, err := f.h.Readdir(n)
	if err == nil || err == io.EOF {
		f.obj.copyAttrAtime(f.h.Inode().Attr())
	}
	return ents, err
}

// Ioctl forwards a device control request and mirrors all attributes
// afterwards, since the request may have changed any of them.
func (f *File) Ioctl(cmd uint, arg uintptr) (uintptr, error) {
	if f.released.Load() {
		return 0, f.pathErr("ioctl", os.ErrClosed)
	}
	r, err := f.h.Ioctl(cmd, arg)
	if err != nil {
		return r, err
	}
	a := f.h.Inode().Attr()
	f.obj.copyAttrAll(a)
	f.obj.copyInodeSize(a)
	return r, nil
}

// Fsync flushes the lower file to stable storage
func (f *File) Fsync(datasync bool) error {
	if f.released.Load() {
		return f.pathErr("fsync", os.ErrClosed)
	}
	return f.h.Sync()
}

// Sync is Fsync without the data-only hint
func (f *File) Sync() error { return f.Fsync(false) }

// Flush is called on every close of a descriptor of the file
func (f *File) Flush() error {
	if f.released.Load() {
		return nil
	}
	return f.h.Flush()
}

// Stat returns fresh attributes of the open object
func (f *File) Stat() (os.FileInfo, error) {
	if f.released.Load() {
		return nil, f.pathErr("stat", os.ErrClosed)
	}
	a, err := f.wfs.Getattr(f.node)
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: f.node.Name(), attr: a}, nil
}

// Release closes the lower file and drops the node. Only the first call
// does anything; later ones return os.ErrClosed.
func (f *File) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return os.ErrClosed
	}
	name := f.node.Path()
	err := f.h.Close()
	f.wfs.openFiles.Add(-1)
	f.node.Put()
	f.wfs.log.WithFields(logrus.Fields{"op": "release", "path": name}).Debug("released")
	return err
}

// Close is Flush followed by Release
func (f *File) Close() error {
	if err := f.Flush(); err != nil {
		f.Release()
		return err
	}
	return f.Release()
}

// Mapping is a memory mapping of a File. Page faults and write
// notifications go to the lower file's mapping operations.
type Mapping struct {
	f        *File
	ops      lower.MapOps
	writable bool
}

// Mmap maps the file. A shared writable mapping is refused unless the
// lower file supports writing through its mapping.
func (f *File) Mmap(writable bool) (*Mapping, error) {
	if f.released.Load() {
		return nil, f.pathErr("mmap", os.ErrClosed)
	}
	if f.obj.Kind() != Regular {
		return nil, f.pathErr("mmap", syscall.ENODEV)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapOps == nil {
		ops, err := f.h.MapOps()
		if err != nil {
			return nil, f.pathErr("mmap", err)
		}
		f.mapOps = ops
	}
	if writable && !f.mapOps.Writable() {
		return nil, f.pathErr("mmap", syscall.EINVAL)
	}
	return &Mapping{f: f, ops: f.mapOps, writable: writable}, nil
}

// Fault fills page with the contents at off
func (m *Mapping) Fault(off int64, page []byte) (int, error) {
	n, err := m.ops.Fault(off, page)
	if err == nil {
		m.f.obj.copyAttrAtime(m.f.h.Inode().Attr())
	}
	return n, err
}

// PageMkwrite is called before the page at off becomes writable
func (m *Mapping) PageMkwrite(off int64) error {
	if !m.writable {
		return syscall.EACCES
	}
	return m.ops.PageMkwrite(off)
}

// Writable reports whether the mapping was made writable
func (m *Mapping) Writable() bool { return m.writable }
