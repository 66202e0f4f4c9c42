package wrapfs

import (
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// Access mask bits
const (
	MayExec  = 1
	MayWrite = 2
	MayRead  = 4
)

// Getattr refreshes n's attributes from the lower filesystem and returns
// them. The block count is the lower one.
func (wfs *FS) Getattr(n *Node) (lower.Attr, error) {
	obj := n.Object()
	if obj == nil {
		return lower.Attr{}, &os.PathError{Op: "getattr", Path: n.Path(), Err: syscall.ENOENT}
	}
	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return obj.Attr(), nil
	}

	a, err := wfs.store.Getattr(ref.entry)
	if err != nil {
		wfs.log.WithFields(logrus.Fields{"op": "getattr", "path": n.Path()}).WithError(err).Debug("lower getattr failed")
		return lower.Attr{}, err
	}
	obj.copyAttrAll(a)
	obj.copyInodeSize(a)
	return obj.Attr(), nil
}

// Setattr changes attributes of n on the lower filesystem and mirrors
// the result. A mode change is dropped when KillSuid is requested; the
// lower filesystem clears the set-id bits itself.
func (wfs *FS) Setattr(n *Node, sa lower.SetAttr) (lower.Attr, error) {
	log := wfs.log.WithFields(logrus.Fields{"op": "setattr", "path": n.Path()})

	if err := wfs.readOnly("setattr", n.Path()); err != nil {
		return lower.Attr{}, err
	}
	obj := n.Object()
	if obj == nil {
		return lower.Attr{}, &os.PathError{Op: "setattr", Path: n.Path(), Err: syscall.ENOENT}
	}
	if sa.Size != nil {
		switch obj.Kind() {
		case Directory:
			return lower.Attr{}, &os.PathError{Op: "truncate", Path: n.Path(), Err: syscall.EISDIR}
		case Regular:
		default:
			return lower.Attr{}, &os.PathError{Op: "truncate", Path: n.Path(), Err: syscall.EINVAL}
		}
		if *sa.Size < 0 {
			return lower.Attr{}, &os.PathError{Op: "truncate", Path: n.Path(), Err: syscall.EINVAL}
		}
	}
	if sa.KillSuid {
		sa.Mode = nil
	}
	if sa.Empty() && !sa.KillSuid {
		return obj.Attr(), nil
	}

	ref := n.getRef()
	defer ref.release()
	if !ref.valid() || !ref.entry.Hashed() {
		return lower.Attr{}, &os.PathError{Op: "setattr", Path: n.Path(), Err: syscall.ENOENT}
	}
	a, err := wfs.store.Setattr(ref.entry, sa)
	if err != nil {
		log.WithError(err).Debug("lower setattr failed")
		return lower.Attr{}, err
	}
	obj.copyAttrAll(a)
	obj.copyInodeSize(a)
	log.Debug("attributes changed")
	return obj.Attr(), nil
}

// Readlink returns the target of the symbolic link n
func (wfs *FS) Readlink(n *Node) (string, error) {
	obj := n.Object()
	if obj == nil {
		return "", &os.PathError{Op: "readlink", Path: n.Path(), Err: syscall.ENOENT}
	}
	if obj.Kind() != Symlink {
		return "", &os.PathError{Op: "readlink", Path: n.Path(), Err: syscall.EINVAL}
	}
	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return "", &os.PathError{Op: "readlink", Path: n.Path(), Err: syscall.ENOENT}
	}
	target, err := wfs.store.Readlink(ref.entry)
	if err != nil {
		return "", err
	}
	if a, ok := lowerAttr(ref.entry); ok {
		obj.copyAttrAtime(a)
	}
	return target, nil
}

// Access checks mask against the lower mode bits of n for the given
// credentials. Root passes every check except execute on an object
// with no execute bit at all.
func (wfs *FS) Access(n *Node, mask uint32, uid, gid uint32) error {
	obj := n.Object()
	if obj == nil {
		return &os.PathError{Op: "access", Path: n.Path(), Err: syscall.ENOENT}
	}
	if mask&MayWrite != 0 && wfs.Flags()&ReadOnly != 0 {
		switch obj.Kind() {
		case Regular, Directory, Symlink:
			return &os.PathError{Op: "access", Path: n.Path(), Err: ErrReadOnly}
		}
	}

	a := obj.Attr()
	perm := uint32(a.Mode.Perm())
	if uid == 0 {
		if mask&MayExec != 0 && obj.Kind() != Directory && perm&0o111 == 0 {
			return &os.PathError{Op: "access", Path: n.Path(), Err: syscall.EACCES}
		}
		return nil
	}
	switch {
	case uid == a.Uid:
		perm >>= 6
	case gid == a.Gid:
		perm >>= 3
	}
	if perm&mask&7 != mask&7 {
		return &os.PathError{Op: "access", Path: n.Path(), Err: syscall.EACCES}
	}
	return nil
}
