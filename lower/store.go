package lower

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

// maxNameLen bounds a single path component
const maxNameLen = 255

// Store is an entry cache over a lower FS
type Store struct {
	fs  FS
	dev uint64
	mnt *Mount

	mu     sync.Mutex // entry tree and inode table
	root   *Entry
	inodes map[Ident]*Inode

	renameMu sync.Mutex
}

// NewStore wraps fsys. The root of fsys must be a directory.
func NewStore(fsys FS) (*Store, error) {
	attr, err := fsys.Lstat("/")
	if err != nil {
		return nil, err
	}
	if !attr.IsDir() {
		return nil, &os.PathError{Op: "store", Path: "/", Err: syscall.ENOTDIR}
	}
	s := &Store{
		fs:     fsys,
		dev:    attr.Ident.Dev,
		inodes: make(map[Ident]*Inode),
	}
	s.root = &Entry{store: s, hashed: true}
	s.root.refs.Store(1)
	s.root.inode = s.igetLocked(attr)
	s.mnt = &Mount{store: s}
	s.mnt.refs.Store(1)
	return s, nil
}

// FS returns the wrapped filesystem
func (s *Store) FS() FS { return s.fs }

// Dev returns the device of the store root
func (s *Store) Dev() uint64 { return s.dev }

// Root returns the root entry with a reference held
func (s *Store) Root() *Entry { return s.root.Get() }

// Mount returns a new reference on the store's mount handle
func (s *Store) Mount() *Mount { return s.mnt.Get() }

// Statfs reports the capacity of the lower FS
func (s *Store) Statfs() (Statfs, error) { return s.fs.Statfs() }

// Inodes returns the number of live inodes
func (s *Store) Inodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inodes)
}

// Mount is a reference-counted handle on a Store
type Mount struct {
	store *Store
	refs  atomic.Int32
}

// Store returns the mounted store
func (m *Mount) Store() *Store { return m.store }

// Get takes a reference
func (m *Mount) Get() *Mount {
	m.refs.Add(1)
	return m
}

// Put drops a reference
func (m *Mount) Put() {
	if m == nil {
		return
	}
	if m.refs.Add(-1) < 0 {
		panic("lower: mount reference count underflow")
	}
}

// Refs returns the current reference count
func (m *Mount) Refs() int32 { return m.refs.Load() }

func checkName(name string) error {
	switch {
	case name == "":
		return syscall.ENOENT
	case name == "." || name == "..":
		return syscall.EINVAL
	case strings.ContainsRune(name, '/'):
		return syscall.EINVAL
	case len(name) > maxNameLen:
		return syscall.ENAMETOOLONG
	}
	return nil
}

// Lookup resolves name under parent. It returns a positive entry with a
// reference held, or an error wrapping fs.ErrNotExist if the name does
// not exist. A cached entry is reused when the backend still reports the
// same object under the name; otherwise it is unhashed and replaced.
func (s *Store) Lookup(parent *Entry, name string) (*Entry, error) {
	if err := checkName(name); err != nil {
		return nil, &os.PathError{Op: "lookup", Path: name, Err: err}
	}

	s.mu.Lock()
	dir := parent.inode
	hashed := parent.hashed
	full := path.Join(parent.pathLocked(), name)
	s.mu.Unlock()

	if dir == nil || !hashed {
		return nil, &os.PathError{Op: "lookup", Path: full, Err: syscall.ENOENT}
	}
	if !dir.Attr().IsDir() {
		return nil, &os.PathError{Op: "lookup", Path: full, Err: syscall.ENOTDIR}
	}

	dir.mu.RLock()
	defer dir.mu.RUnlock()

	attr, err := s.fs.Lstat(full)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := parent.children[name]
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && cur != nil && cur.inode != nil {
			s.dropLocked(cur)
		}
		return nil, err
	}
	if cur != nil {
		if cur.inode != nil && cur.inode.ident == attr.Ident {
			cur.inode.setAttr(attr)
			return cur.Get(), nil
		}
		s.dropLocked(cur)
	}
	e := s.newEntryLocked(parent, name)
	e.inode = s.igetLocked(attr)
	return e, nil
}

// Placeholder returns the cached entry for name under parent, or a new
// hashed negative entry if there is none.
func (s *Store) Placeholder(parent *Entry, name string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := parent.children[name]; cur != nil {
		return cur.Get()
	}
	return s.newEntryLocked(parent, name)
}

// Revalidate reports whether e still matches the backend. A stale entry
// is unhashed together with everything cached below it.
func (s *Store) Revalidate(e *Entry) bool {
	if e.IsRoot() {
		return true
	}
	s.mu.Lock()
	if !e.hashed {
		s.mu.Unlock()
		return false
	}
	name := e.pathLocked()
	s.mu.Unlock()

	attr, err := s.fs.Lstat(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.hashed {
		return false
	}
	switch {
	case err == nil && e.inode != nil && e.inode.ident == attr.Ident:
		e.inode.setAttr(attr)
		return true
	case errors.Is(err, fs.ErrNotExist) && e.inode == nil:
		return true
	}
	s.dropLocked(e)
	return false
}

// Shrink frees every cached entry that nobody references and returns
// how many were dropped.
func (s *Store) Shrink() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shrinkLocked(s.root)
}

func (s *Store) shrinkLocked(dir *Entry) int {
	n := 0
	for _, c := range dir.children {
		n += s.shrinkLocked(c)
		if c.refs.Load() == 0 && !c.dead {
			s.dropLocked(c)
			n++
		}
	}
	return n
}

func (s *Store) newEntryLocked(parent *Entry, name string) *Entry {
	e := &Entry{store: s, name: name, parent: parent.Get(), hashed: true}
	e.refs.Store(1)
	if parent.children == nil {
		parent.children = make(map[string]*Entry)
	}
	parent.children[name] = e
	return e
}

func (s *Store) igetLocked(a Attr) *Inode {
	if i, ok := s.inodes[a.Ident]; ok {
		i.refs.Add(1)
		i.setAttr(a)
		return i
	}
	i := &Inode{store: s, ident: a.Ident, attr: a}
	i.refs.Store(1)
	s.inodes[a.Ident] = i
	return i
}

// dropLocked unhashes e and every entry cached below it, freeing those
// that are no longer referenced.
func (s *Store) dropLocked(e *Entry) {
	if !e.hashed {
		return
	}
	var subtree []*Entry
	var walk func(*Entry)
	walk = func(d *Entry) {
		for _, c := range d.children {
			walk(c)
		}
		d.children = nil
		d.hashed = false
		subtree = append(subtree, d)
	}
	if p := e.parent; p != nil && p.children[e.name] == e {
		delete(p.children, e.name)
	}
	walk(e)
	for _, d := range subtree {
		s.reapLocked(d)
	}
}

// reapLocked frees e if it is unhashed and unreferenced, then walks up
// releasing the parent references freed entries held.
func (s *Store) reapLocked(e *Entry) {
	for e != nil && !e.dead && !e.hashed && e.refs.Load() == 0 {
		e.dead = true
		if e.inode != nil {
			e.inode.putLocked()
			e.inode = nil
		}
		p := e.parent
		e.parent = nil
		if p == nil || p.refs.Add(-1) > 0 {
			return
		}
		e = p
	}
}

// moveLocked renames e to name under dir, unhashing whatever was cached
// there.
func (s *Store) moveLocked(e, dir *Entry, name string) {
	if t := dir.children[name]; t != nil && t != e {
		s.dropLocked(t)
	}
	old := e.parent
	if old.children[e.name] == e {
		delete(old.children, e.name)
	}
	if dir != old {
		e.parent = dir.Get()
		if old.refs.Add(-1) == 0 {
			s.reapLocked(old)
		}
	}
	e.name = name
	if dir.children == nil {
		dir.children = make(map[string]*Entry)
	}
	dir.children[name] = e
}
