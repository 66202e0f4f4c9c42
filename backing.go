package wrapfs

import "github.com/absfs/wrapfs/lower"

// backingRef pins the lower entry a node mirrors and the lower mount it
// lives on. Both halves are set or both are nil.
type backingRef struct {
	entry *lower.Entry
	mnt   *lower.Mount
}

func (r backingRef) valid() bool {
	return r.entry != nil && r.mnt != nil
}

// clone takes a new reference on both halves
func (r backingRef) clone() backingRef {
	if !r.valid() {
		return backingRef{}
	}
	return backingRef{entry: r.entry.Get(), mnt: r.mnt.Get()}
}

// release drops the references held by r
func (r backingRef) release() {
	if r.entry != nil {
		r.entry.Put()
	}
	if r.mnt != nil {
		r.mnt.Put()
	}
}

// bind installs r as the node's backing reference. Any previous value is
// released after the lock is dropped.
func (n *Node) bind(r backingRef) {
	n.mu.Lock()
	old := n.ref
	n.ref = r
	n.mu.Unlock()
	old.release()
}

// getRef returns a clone of the node's backing reference. The caller
// owns the clone and must release it.
func (n *Node) getRef() backingRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ref.clone()
}

// releaseAndReset detaches the backing reference and releases it. The
// lock only covers the copy out, never the release itself.
func (n *Node) releaseAndReset() {
	n.mu.Lock()
	r := n.ref
	n.ref = backingRef{}
	n.mu.Unlock()
	r.release()
}
