package lower

import (
	"os"
	"syscall"
)

// LockParent locks the directory containing e and returns it with a
// reference held. Release both with UnlockParent.
func (s *Store) LockParent(e *Entry) (*Entry, error) {
	dir := e.GetParent()
	if dir == nil {
		return nil, &os.PathError{Op: "lock", Path: "/", Err: syscall.EBUSY}
	}
	dir.Inode().mu.Lock()
	return dir, nil
}

// UnlockParent undoes LockParent
func (s *Store) UnlockParent(dir *Entry) {
	dir.Inode().mu.Unlock()
	dir.Put()
}

// RenameLock holds the directory locks taken by LockRename
type RenameLock struct {
	s             *Store
	first, second *Inode
}

// LockRename locks the directories a and b for a rename between them.
// The directories are taken in ancestor-first order under the store's
// rename lock so that two renames in opposite directions cannot
// deadlock. The returned trap is the child of the ancestor directory
// that leads to the other directory, or nil when neither directory
// contains the other. A rename whose source is the trap would move a
// directory into itself; one whose target is the trap would replace a
// non-empty ancestor.
func (s *Store) LockRename(a, b *Entry) (lk *RenameLock, trap *Entry) {
	if a == b {
		di := a.Inode()
		di.mu.Lock()
		return &RenameLock{s: s, first: di}, nil
	}
	s.renameMu.Lock()

	s.mu.Lock()
	first, second := a, b
	if trap = ancestorLocked(b, a); trap != nil {
		first, second = b, a
	} else {
		trap = ancestorLocked(a, b)
	}
	lk = &RenameLock{s: s, first: first.inode, second: second.inode}
	s.mu.Unlock()

	lk.first.mu.Lock()
	lk.second.mu.Lock()
	return lk, trap
}

// Unlock releases the locks in reverse order
func (lk *RenameLock) Unlock() {
	if lk.second != nil {
		lk.second.mu.Unlock()
	}
	lk.first.mu.Unlock()
	if lk.second != nil {
		lk.s.renameMu.Unlock()
	}
}

// ancestorLocked returns the child of anc on the path from the root to
// e, or nil if anc is not a proper ancestor of e.
func ancestorLocked(anc, e *Entry) *Entry {
	for p := e; p.parent != nil; p = p.parent {
		if p.parent == anc {
			return p
		}
	}
	return nil
}

// IsAncestor reports whether anc is a proper ancestor of e
func (s *Store) IsAncestor(anc, e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ancestorLocked(anc, e) != nil
}
