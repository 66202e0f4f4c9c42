package wrapfs

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/absfs/wrapfs/lower"
)

// Kind is the variant of an Object
type Kind int

const (
	Regular Kind = iota
	Directory
	Symlink
	Special
)

func (k Kind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	case Special:
		return "special"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func kindOf(mode os.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return Regular
	case mode.IsDir():
		return Directory
	case mode&os.ModeSymlink != 0:
		return Symlink
	}
	return Special
}

// Object is the upper view of one lower inode. Every node that names the
// same lower inode shares one Object, found through the identity cache.
type Object struct {
	fs    *FS
	ident lower.Ident
	kind  Kind
	lower *lower.Inode
	refs  atomic.Int32
	ready chan struct{}

	attrMu sync.RWMutex
	attr   lower.Attr
}

func newObject(wfs *FS, id lower.Ident) *Object {
	o := &Object{fs: wfs, ident: id, ready: make(chan struct{})}
	o.refs.Store(1)
	return o
}

// Ident returns the identity of the lower inode
func (o *Object) Ident() lower.Ident { return o.ident }

// Ino returns the inode number reported to clients
func (o *Object) Ino() uint64 { return o.ident.Ino }

// Kind returns the variant of the object
func (o *Object) Kind() Kind { return o.kind }

// Lower returns the lower inode the object mirrors
func (o *Object) Lower() *lower.Inode { return o.lower }

// Refs returns the current reference count
func (o *Object) Refs() int32 { return o.refs.Load() }

// Attr returns the mirrored attributes
func (o *Object) Attr() lower.Attr {
	o.attrMu.RLock()
	defer o.attrMu.RUnlock()
	return o.attr
}

// Get takes a reference on a live object
func (o *Object) Get() *Object {
	o.refs.Add(1)
	return o
}

// tryGet takes a reference unless the object is already being torn down
func (o *Object) tryGet() bool {
	for {
		n := o.refs.Load()
		if n <= 0 {
			return false
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Put drops a reference. The last one removes the object from the
// identity cache and releases the lower inode.
func (o *Object) Put() {
	n := o.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("wrapfs: object reference count underflow")
	}
	o.fs.objects.remove(o)
	o.lower.Put()
}

// iget returns the Object for the lower inode li with a reference held.
// The first caller for an identity builds and publishes the Object;
// concurrent callers wait for it to be ready.
func (wfs *FS) iget(li *lower.Inode) *Object {
	id := li.Ident()
	obj, created := wfs.objects.lookupOrCreate(id, func() *Object {
		return newObject(wfs, id)
	})
	if !created {
		<-obj.ready
		return obj
	}
	obj.lower = li.Get()
	a := li.Attr()
	obj.kind = kindOf(a.Mode)
	obj.attr = a
	close(obj.ready)
	return obj
}

// ObjectByIdent returns the live Object for an identity with a reference
// held, or nil if no node currently names it.
func (wfs *FS) ObjectByIdent(id lower.Ident) *Object {
	obj := wfs.objects.lookup(id)
	if obj == nil {
		return nil
	}
	<-obj.ready
	return obj
}
