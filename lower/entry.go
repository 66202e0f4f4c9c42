package lower

import (
	"path"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a cached name in a lower directory. An Entry with no Inode
// is negative: the name is known not to exist (yet). Entries are
// reference counted; a hashed entry stays cached at zero references and
// is freed once it is unhashed and unreferenced.
type Entry struct {
	store *Store
	refs  atomic.Int32

	// Guarded by store.mu
	name        string
	parent      *Entry
	children    map[string]*Entry
	inode       *Inode
	hashed      bool
	dead        bool
	renamedAway bool
}

// Get takes a reference. The caller must already hold one.
func (e *Entry) Get() *Entry {
	e.refs.Add(1)
	return e
}

// Put drops a reference
func (e *Entry) Put() {
	if e == nil {
		return
	}
	n := e.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("lower: entry reference count underflow")
	}
	s := e.store
	s.mu.Lock()
	s.reapLocked(e)
	s.mu.Unlock()
}

// Refs returns the current reference count
func (e *Entry) Refs() int32 { return e.refs.Load() }

// Store returns the store e belongs to
func (e *Entry) Store() *Store { return e.store }

// Name returns the final path component
func (e *Entry) Name() string {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.name
}

// Parent returns the parent entry without taking a reference, or nil
// for the root. Use it for identity comparisons only.
func (e *Entry) Parent() *Entry {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.parent
}

// GetParent returns the parent entry with a reference held, or nil for
// the root.
func (e *Entry) GetParent() *Entry {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	if e.parent == nil {
		return nil
	}
	return e.parent.Get()
}

// Inode returns the object the entry names, or nil if it is negative.
// The inode stays valid for as long as the caller holds e.
func (e *Entry) Inode() *Inode {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.inode
}

// Negative reports whether the entry names nothing
func (e *Entry) Negative() bool { return e.Inode() == nil }

// Hashed reports whether the entry is still reachable by name
func (e *Entry) Hashed() bool {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.hashed
}

// RenamedAway reports whether the backend deferred the deletion of the
// entry by renaming it out of the way.
func (e *Entry) RenamedAway() bool {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.renamedAway
}

// IsRoot reports whether e is the root of its store
func (e *Entry) IsRoot() bool { return e == e.store.root }

// Path returns the absolute name of the entry inside the lower FS
func (e *Entry) Path() string {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.pathLocked()
}

func (e *Entry) pathLocked() string {
	if e.parent == nil {
		return "/"
	}
	var names []string
	for p := e; p.parent != nil; p = p.parent {
		names = append(names, p.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return "/" + path.Join(names...)
}

// Inode is a lower object shared by all entries naming it
type Inode struct {
	store *Store
	ident Ident
	refs  atomic.Int32

	// mu is the inode lock. For directories it serializes namespace
	// changes against lookups.
	mu sync.RWMutex

	attrMu sync.Mutex
	attr   Attr
}

// Ident returns the identity of the object
func (i *Inode) Ident() Ident { return i.ident }

// Attr returns the most recently observed attributes
func (i *Inode) Attr() Attr {
	i.attrMu.Lock()
	defer i.attrMu.Unlock()
	return i.attr
}

// Refs returns the current reference count
func (i *Inode) Refs() int32 { return i.refs.Load() }

// Get takes a reference. The caller must already hold one, directly or
// through an entry.
func (i *Inode) Get() *Inode {
	i.refs.Add(1)
	return i
}

// Put drops a reference
func (i *Inode) Put() {
	if i == nil {
		return
	}
	if i.refs.Add(-1) > 0 {
		return
	}
	s := i.store
	s.mu.Lock()
	i.forgetLocked()
	s.mu.Unlock()
}

func (i *Inode) putLocked() {
	if i.refs.Add(-1) > 0 {
		return
	}
	i.forgetLocked()
}

func (i *Inode) forgetLocked() {
	if i.refs.Load() == 0 && i.store.inodes[i.ident] == i {
		delete(i.store.inodes, i.ident)
	}
}

func (i *Inode) setAttr(a Attr) {
	i.attrMu.Lock()
	i.attr = a
	i.attrMu.Unlock()
}

func (i *Inode) dropNlink() {
	i.attrMu.Lock()
	if i.attr.Nlink > 0 {
		i.attr.Nlink--
	}
	i.attr.Ctime = time.Now()
	i.attrMu.Unlock()
}

func (i *Inode) clearNlink() {
	i.attrMu.Lock()
	i.attr.Nlink = 0
	i.attrMu.Unlock()
}
