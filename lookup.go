package wrapfs

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// lookupState is a step of interposing a lower entry under a new node
type lookupState int

const (
	lookupStart lookupState = iota
	lookupResolve
	lookupPositive
	lookupNegative
	lookupSplice
	lookupDone
	lookupFailed
)

func (s lookupState) String() string {
	switch s {
	case lookupStart:
		return "start"
	case lookupResolve:
		return "resolve"
	case lookupPositive:
		return "positive"
	case lookupNegative:
		return "negative"
	case lookupSplice:
		return "splice"
	case lookupDone:
		return "done"
	case lookupFailed:
		return "failed"
	}
	return "unknown"
}

// Lookup resolves name in the directory dir and returns its node with a
// reference held. A name that does not exist yields a negative node,
// not an error.
func (wfs *FS) Lookup(dir *Node, name string) (*Node, error) {
	switch name {
	case ".":
		return dir.Get(), nil
	case "..":
		if p := dir.Parent(); p != nil {
			return p.Get(), nil
		}
		return dir.Get(), nil
	}

	obj := dir.Object()
	if obj == nil || !dir.Hashed() {
		return nil, &os.PathError{Op: "lookup", Path: dir.Path(), Err: syscall.ENOENT}
	}
	if obj.Kind() != Directory {
		return nil, &os.PathError{Op: "lookup", Path: dir.Path(), Err: syscall.ENOTDIR}
	}

	if n := dir.child(name); n != nil {
		if wfs.revalidate(n) {
			return n, nil
		}
		wfs.log.WithFields(logrus.Fields{"op": "lookup", "name": name}).Debug("dropping stale node")
		n.drop()
		n.Put()
	}
	return wfs.interpose(dir, name)
}

// interpose builds a node for name under dir from a fresh lower lookup.
// A positive lower entry gets the shared Object for its inode; a missing
// one gets a negative placeholder so a later create can instantiate it.
func (wfs *FS) interpose(dir *Node, name string) (*Node, error) {
	log := wfs.log.WithFields(logrus.Fields{"op": "lookup", "name": name})

	var (
		n      *Node
		parent backingRef
		le     *lower.Entry
		err    error
	)
	state := lookupStart
	for {
		switch state {
		case lookupStart:
			n = wfs.newNode(dir, name)
			state = lookupResolve

		case lookupResolve:
			parent = dir.getRef()
			if !parent.valid() {
				err = &os.PathError{Op: "lookup", Path: name, Err: syscall.ENOENT}
				state = lookupFailed
				break
			}
			le, err = wfs.store.Lookup(parent.entry, name)
			switch {
			case err == nil:
				state = lookupPositive
			case errors.Is(err, fs.ErrNotExist):
				err = nil
				state = lookupNegative
			default:
				state = lookupFailed
			}

		case lookupPositive:
			li := le.Inode()
			if li.Ident().Dev != wfs.dev {
				le.Put()
				err = &os.PathError{Op: "lookup", Path: name, Err: ErrCrossedBackend}
				state = lookupFailed
				break
			}
			obj := wfs.iget(li)
			n.nsMu.Lock()
			n.obj = obj
			n.nsMu.Unlock()
			obj.copyAttrTimes(li.Attr())
			n.bind(backingRef{entry: le, mnt: parent.mnt.Get()})
			state = lookupSplice

		case lookupNegative:
			le = wfs.store.Placeholder(parent.entry, name)
			n.bind(backingRef{entry: le, mnt: parent.mnt.Get()})
			state = lookupSplice

		case lookupSplice:
			if dobj := dir.Object(); dobj != nil {
				if a, ok := lowerAttr(parent.entry); ok {
					dobj.copyAttrAtime(a)
				}
			}
			parent.release()
			n = dir.splice(n)
			state = lookupDone

		case lookupDone:
			log.WithField("negative", n.Negative()).Debug("interposed")
			return n, nil

		case lookupFailed:
			log.WithError(err).Debug("lookup failed")
			parent.release()
			n.Put()
			return nil, err
		}
	}
}

// revalidate reports whether the cached node n still matches the lower
// filesystem.
func (wfs *FS) revalidate(n *Node) bool {
	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return false
	}
	if !wfs.store.Revalidate(ref.entry) {
		return false
	}
	obj := n.Object()
	li := ref.entry.Inode()
	switch {
	case obj == nil:
		return li == nil
	case li == nil:
		return false
	case obj.Ident() != li.Ident():
		return false
	}
	obj.copyAttrAll(li.Attr())
	obj.copyInodeSize(li.Attr())
	return true
}

// maxSymlinks bounds symbolic link expansion in Resolve
const maxSymlinks = 40

// Resolve walks name from the mount root and returns the node it
// reaches with a reference held. Symbolic links in intermediate
// components are expanded; the last component is expanded only when
// follow is set. The returned node may be negative.
func (wfs *FS) Resolve(name string, follow bool) (*Node, error) {
	comps := splitPath(cleanPath(name))
	cur := wfs.Root()
	links := 0
	for len(comps) > 0 {
		c := comps[0]
		comps = comps[1:]
		if cur.Negative() {
			cur.Put()
			return nil, &os.PathError{Op: "resolve", Path: name, Err: syscall.ENOENT}
		}
		next, err := wfs.Lookup(cur, c)
		if err != nil {
			cur.Put()
			return nil, err
		}
		if obj := next.Object(); obj != nil && obj.Kind() == Symlink && (follow || len(comps) > 0) {
			links++
			if links > maxSymlinks {
				next.Put()
				cur.Put()
				return nil, &os.PathError{Op: "resolve", Path: name, Err: syscall.ELOOP}
			}
			target, err := wfs.Readlink(next)
			next.Put()
			if err != nil {
				cur.Put()
				return nil, err
			}
			if strings.HasPrefix(target, "/") {
				cur.Put()
				cur = wfs.Root()
			}
			comps = append(splitPath(target), comps...)
			continue
		}
		cur.Put()
		cur = next
	}
	return cur, nil
}

// Prune destroys every unused cached node, shrinks the lower entry cache
// and returns the number of nodes destroyed.
func (wfs *FS) Prune() int {
	n := wfs.root.prune()
	wfs.store.Shrink()
	wfs.log.WithFields(logrus.Fields{"op": "prune", "nodes": n}).Debug("pruned")
	return n
}
