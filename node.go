package wrapfs

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Node is an entry of the upper namespace: a name under a parent
// directory, bound to the lower entry it mirrors. A node without an
// Object is negative and records that the name does not exist.
//
// Nodes live in their parent's child map while hashed. A hashed node
// stays cached after its last reference is dropped; an unhashed one is
// destroyed with its last reference. Lock order is parent childMu, then
// child nsMu. Two child maps are locked in id order.
type Node struct {
	fs   *FS
	id   uint64
	refs atomic.Int32

	mu  sync.Mutex // guards ref
	ref backingRef

	nsMu   sync.Mutex
	name   string
	parent *Node
	obj    *Object
	hashed bool
	dead   bool

	childMu  sync.Mutex
	children map[string]*Node
}

// newNode makes an unhashed node under parent with one reference held.
// The node holds a reference on its parent.
func (wfs *FS) newNode(parent *Node, name string) *Node {
	n := &Node{
		fs:   wfs,
		id:   wfs.nodeSeq.Add(1),
		name: name,
	}
	if parent != nil {
		n.parent = parent.Get()
	}
	n.refs.Store(1)
	wfs.nodes.Add(1)
	return n
}

// ID returns a number unique to the node within its mount
func (n *Node) ID() uint64 { return n.id }

// FS returns the mount the node belongs to
func (n *Node) FS() *FS { return n.fs }

// Name returns the node's name in its parent
func (n *Node) Name() string {
	n.nsMu.Lock()
	defer n.nsMu.Unlock()
	return n.name
}

// Parent returns the parent directory without taking a reference, or
// nil for the root
func (n *Node) Parent() *Node {
	n.nsMu.Lock()
	defer n.nsMu.Unlock()
	return n.parent
}

// Object returns the object the node names, or nil if it is negative
func (n *Node) Object() *Object {
	n.nsMu.Lock()
	defer n.nsMu.Unlock()
	return n.obj
}

// Negative reports whether the name does not exist
func (n *Node) Negative() bool { return n.Object() == nil }

// Hashed reports whether the node is still reachable by name
func (n *Node) Hashed() bool {
	n.nsMu.Lock()
	defer n.nsMu.Unlock()
	return n.hashed
}

// IsRoot reports whether n is the mount root
func (n *Node) IsRoot() bool { return n == n.fs.root }

// Refs returns the current reference count
func (n *Node) Refs() int32 { return n.refs.Load() }

// Path returns the node's path from the mount root
func (n *Node) Path() string {
	var parts []string
	for p := n; p != nil; {
		p.nsMu.Lock()
		parent := p.parent
		if parent != nil {
			parts = append(parts, p.name)
		}
		p.nsMu.Unlock()
		p = parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Lookup resolves name in the directory n
func (n *Node) Lookup(name string) (*Node, error) {
	return n.fs.Lookup(n, name)
}

// Revalidate reports whether n still matches the lower filesystem
func (n *Node) Revalidate() bool {
	return n.fs.revalidate(n)
}

// Get takes a reference
func (n *Node) Get() *Node {
	n.refs.Add(1)
	return n
}

// Put drops a reference. An unhashed node is destroyed with its last
// reference; a hashed one stays cached until pruned or dropped.
func (n *Node) Put() {
	c := n.refs.Add(-1)
	if c > 0 {
		return
	}
	if c < 0 {
		panic("wrapfs: node reference count underflow")
	}

	p := n.lockLink()
	n.nsMu.Lock()
	doomed := n.doomedLocked()
	n.nsMu.Unlock()
	if p != nil {
		p.childMu.Unlock()
	}
	if doomed {
		n.destroy()
	}
}

// doomedLocked marks n dead if it is unreferenced and unreachable. The
// caller holds nsMu and the child map n was linked into, if any.
func (n *Node) doomedLocked() bool {
	if n.hashed || n.dead || n.refs.Load() != 0 {
		return false
	}
	n.dead = true
	return true
}

// lockLink locks the child map n is linked into and returns its owner,
// or nil for a node without a parent.
func (n *Node) lockLink() *Node {
	for {
		p := n.Parent()
		if p == nil {
			return nil
		}
		p.childMu.Lock()
		if n.Parent() == p {
			return p
		}
		p.childMu.Unlock()
	}
}

// child returns the cached child called name with a reference held
func (n *Node) child(name string) *Node {
	n.childMu.Lock()
	defer n.childMu.Unlock()
	c := n.children[name]
	if c != nil {
		c.refs.Add(1)
	}
	return c
}

// unlinkLocked unhashes the child c. The caller holds n.childMu.
func (n *Node) unlinkLocked(c *Node) (doomed bool) {
	c.nsMu.Lock()
	defer c.nsMu.Unlock()
	if n.children[c.name] == c {
		delete(n.children, c.name)
	}
	c.hashed = false
	return c.doomedLocked()
}

// drop unhashes n and everything cached below it
func (n *Node) drop() {
	var doomed bool
	if p := n.lockLink(); p != nil {
		doomed = p.unlinkLocked(n)
		p.childMu.Unlock()
	} else {
		n.nsMu.Lock()
		n.hashed = false
		doomed = n.doomedLocked()
		n.nsMu.Unlock()
	}
	n.dropChildren()
	if doomed {
		n.destroy()
	}
}

// dropChildren unhashes the cached subtree below n
func (n *Node) dropChildren() {
	n.childMu.Lock()
	kids := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		kids = append(kids, c)
	}
	var doomed []*Node
	for _, c := range kids {
		if n.unlinkLocked(c) {
			doomed = append(doomed, c)
		}
	}
	n.childMu.Unlock()

	for _, c := range kids {
		c.dropChildren()
	}
	for _, c := range doomed {
		c.destroy()
	}
}

// destroy releases everything n holds. It runs once, after n was
// marked dead.
func (n *Node) destroy() {
	n.releaseAndReset()

	n.nsMu.Lock()
	obj, parent := n.obj, n.parent
	n.obj, n.parent = nil, nil
	n.nsMu.Unlock()

	if obj != nil {
		obj.Put()
	}
	n.fs.nodes.Add(-1)
	if parent != nil {
		parent.Put()
	}
}

// lockPair locks the child maps of a and b in id order
func lockPair(a, b *Node) {
	if a == b {
		a.childMu.Lock()
		return
	}
	if a.id > b.id {
		a, b = b, a
	}
	a.childMu.Lock()
	b.childMu.Lock()
}

func unlockPair(a, b *Node) {
	a.childMu.Unlock()
	if a != b {
		b.childMu.Unlock()
	}
}

// move relinks n under dir with the name of target, unhashing target.
// The caller holds the lower directory locks of the rename.
func (n *Node) move(dir, target *Node) {
	src := n.lockLink()
	if src == nil {
		return
	}
	src.childMu.Unlock()
	// n cannot be moved by anyone else while the lower locks are held
	lockPair(src, dir)

	newName := target.Name()
	var doomed []*Node
	if cur := dir.children[newName]; cur != nil && cur != n {
		if dir.unlinkLocked(cur) {
			doomed = append(doomed, cur)
		}
	}
	if target != n && target.Parent() == dir {
		if dir.unlinkLocked(target) {
			doomed = append(doomed, target)
		}
	}

	n.nsMu.Lock()
	if src.children[n.name] == n {
		delete(src.children, n.name)
	}
	n.name = newName
	moved := n.parent != dir
	if moved {
		n.parent = dir.Get()
	}
	n.hashed = true
	n.nsMu.Unlock()
	if dir.children == nil {
		dir.children = make(map[string]*Node)
	}
	dir.children[newName] = n
	unlockPair(src, dir)

	if target != n {
		target.dropChildren()
	}
	for _, c := range doomed {
		c.destroy()
	}
	if moved {
		src.Put()
	}
}

// splice links n into dir, or returns the node already linked under the
// same name if it names the same object. The caller's reference on n is
// consumed; the returned node carries one reference.
func (dir *Node) splice(n *Node) *Node {
	dir.childMu.Lock()
	name := n.Name()
	obj := n.Object()
	var doomed bool
	var stale *Node
	if cur := dir.children[name]; cur != nil {
		if cur.Object() == obj {
			cur.refs.Add(1)
			dir.childMu.Unlock()
			n.Put()
			return cur
		}
		stale = cur
		doomed = dir.unlinkLocked(cur)
	}
	if dir.children == nil {
		dir.children = make(map[string]*Node)
	}
	n.nsMu.Lock()
	n.hashed = true
	n.nsMu.Unlock()
	dir.children[name] = n
	dir.childMu.Unlock()

	if stale != nil {
		stale.dropChildren()
		if doomed {
			stale.destroy()
		}
	}
	return n
}

// prune destroys every unreferenced node cached below n and returns how
// many were destroyed.
func (n *Node) prune() int {
	n.childMu.Lock()
	kids := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		kids = append(kids, c)
	}
	n.childMu.Unlock()

	count := 0
	for _, c := range kids {
		count += c.prune()
	}

	n.childMu.Lock()
	var doomed []*Node
	for _, c := range n.children {
		if c.refs.Load() == 0 && n.unlinkLocked(c) {
			doomed = append(doomed, c)
		}
	}
	n.childMu.Unlock()

	for _, c := range doomed {
		c.destroy()
	}
	return count + len(doomed)
}
