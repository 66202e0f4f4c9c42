package wrapfs

import (
	"errors"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// Namespace mutations all follow the same protocol: clone the backing
// references of the nodes involved, lock the lower parent directories,
// check that the lower entries are still linked where the nodes say,
// run the lower primitive, mirror attributes, then unlock and release
// in reverse order.

// checkParent verifies that dir is a live directory and n sits in it
func checkParent(op string, dir, n *Node) error {
	obj := dir.Object()
	if obj == nil {
		return &os.PathError{Op: op, Path: dir.Path(), Err: syscall.ENOENT}
	}
	if obj.Kind() != Directory {
		return &os.PathError{Op: op, Path: dir.Path(), Err: syscall.ENOTDIR}
	}
	if n.Parent() != dir {
		return &os.PathError{Op: op, Path: n.Path(), Err: ErrStale}
	}
	return nil
}

// checkLinkage verifies that le is still hashed under ldir
func checkLinkage(op string, ldir, le *lower.Entry) error {
	if le.Parent() != ldir || !le.Hashed() {
		return &os.PathError{Op: op, Path: le.Path(), Err: ErrStale}
	}
	return nil
}

// instantiate attaches the Object of the freshly created lower entry to
// the negative node n
func (wfs *FS) instantiate(n *Node, le *lower.Entry) {
	li := le.Inode()
	obj := wfs.iget(li)
	obj.copyAttrAll(li.Attr())
	obj.copyInodeSize(li.Attr())

	n.nsMu.Lock()
	old := n.obj
	n.obj = obj
	n.nsMu.Unlock()
	if old != nil {
		old.Put()
	}
}

// create runs a creating primitive for the negative node n in dir
func (wfs *FS) create(op string, dir, n *Node, withNlink bool, mk func(ldir, le *lower.Entry) error) error {
	log := wfs.log.WithFields(logrus.Fields{"op": op, "name": n.Name()})

	if err := wfs.readOnly(op, n.Path()); err != nil {
		return err
	}
	if err := checkParent(op, dir, n); err != nil {
		return err
	}
	if !n.Negative() {
		return &os.PathError{Op: op, Path: n.Path(), Err: syscall.EEXIST}
	}

	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return &os.PathError{Op: op, Path: n.Path(), Err: syscall.ENOENT}
	}
	ldir, err := wfs.store.LockParent(ref.entry)
	if err != nil {
		return err
	}
	defer wfs.store.UnlockParent(ldir)

	if err := checkLinkage(op, ldir, ref.entry); err != nil {
		log.Debug("lower entry moved")
		return err
	}
	if err := mk(ldir, ref.entry); err != nil {
		log.WithError(err).Debug("lower create failed")
		return err
	}
	wfs.instantiate(n, ref.entry)
	mirrorDir(dir, ldir, withNlink)
	log.Debug("created")
	return nil
}

// Create makes a regular file for the negative node n in dir
func (wfs *FS) Create(dir, n *Node, perm os.FileMode) error {
	return wfs.create("create", dir, n, false, func(ldir, le *lower.Entry) error {
		return wfs.store.Create(ldir, le, perm)
	})
}

// Mkdir makes a directory for the negative node n in dir
func (wfs *FS) Mkdir(dir, n *Node, perm os.FileMode) error {
	return wfs.create("mkdir", dir, n, true, func(ldir, le *lower.Entry) error {
		return wfs.store.Mkdir(ldir, le, perm)
	})
}

// Mknod makes a special file for the negative node n in dir
func (wfs *FS) Mknod(dir, n *Node, mode os.FileMode, dev uint64) error {
	return wfs.create("mknod", dir, n, false, func(ldir, le *lower.Entry) error {
		return wfs.store.Mknod(ldir, le, mode, dev)
	})
}

// Symlink makes a symbolic link to target for the negative node n in dir
func (wfs *FS) Symlink(dir, n *Node, target string) error {
	return wfs.create("symlink", dir, n, false, func(ldir, le *lower.Entry) error {
		return wfs.store.Symlink(ldir, le, target)
	})
}

// Link makes the negative node n in dir another name for old
func (wfs *FS) Link(old, dir, n *Node) error {
	log := wfs.log.WithFields(logrus.Fields{"op": "link", "old": old.Path(), "name": n.Name()})

	if err := wfs.readOnly("link", n.Path()); err != nil {
		return err
	}
	if err := checkParent("link", dir, n); err != nil {
		return err
	}
	oldObj := old.Object()
	switch {
	case oldObj == nil:
		return &os.LinkError{Op: "link", Old: old.Path(), New: n.Path(), Err: syscall.ENOENT}
	case oldObj.Kind() == Directory:
		return &os.LinkError{Op: "link", Old: old.Path(), New: n.Path(), Err: syscall.EPERM}
	case !n.Negative():
		return &os.LinkError{Op: "link", Old: old.Path(), New: n.Path(), Err: syscall.EEXIST}
	}

	oldRef := old.getRef()
	defer oldRef.release()
	newRef := n.getRef()
	defer newRef.release()
	if !oldRef.valid() || !newRef.valid() {
		return &os.LinkError{Op: "link", Old: old.Path(), New: n.Path(), Err: syscall.ENOENT}
	}
	size := oldObj.Attr().Size

	ldir, err := wfs.store.LockParent(newRef.entry)
	if err != nil {
		return err
	}
	defer wfs.store.UnlockParent(ldir)

	if err := checkLinkage("link", ldir, newRef.entry); err != nil {
		return err
	}
	if !oldRef.entry.Hashed() {
		return &os.LinkError{Op: "link", Old: old.Path(), New: n.Path(), Err: ErrStale}
	}
	if err := wfs.store.Link(oldRef.entry, ldir, newRef.entry); err != nil {
		log.WithError(err).Debug("lower link failed")
		return err
	}
	wfs.instantiate(n, newRef.entry)
	mirrorDir(dir, ldir, false)
	if a, ok := lowerAttr(oldRef.entry); ok {
		oldObj.setNlink(a.Nlink)
	}
	if obj := n.Object(); obj != nil {
		obj.setSize(size)
	}
	log.Debug("linked")
	return nil
}

// Unlink removes the non-directory n from dir
func (wfs *FS) Unlink(dir, n *Node) error {
	log := wfs.log.WithFields(logrus.Fields{"op": "unlink", "name": n.Name()})

	if err := wfs.readOnly("unlink", n.Path()); err != nil {
		return err
	}
	if err := checkParent("unlink", dir, n); err != nil {
		return err
	}
	obj := n.Object()
	if obj == nil {
		return &os.PathError{Op: "unlink", Path: n.Path(), Err: syscall.ENOENT}
	}
	if obj.Kind() == Directory {
		return &os.PathError{Op: "unlink", Path: n.Path(), Err: syscall.EISDIR}
	}

	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return &os.PathError{Op: "unlink", Path: n.Path(), Err: syscall.ENOENT}
	}
	ldir, err := wfs.store.LockParent(ref.entry)
	if err != nil {
		return err
	}
	defer wfs.store.UnlockParent(ldir)

	if err := checkLinkage("unlink", ldir, ref.entry); err != nil {
		return err
	}
	err = wfs.store.Unlink(ldir, ref.entry)
	if err != nil && errors.Is(err, syscall.EBUSY) && ref.entry.RenamedAway() {
		// The lower filesystem renamed the busy file away and will
		// delete it on last close.
		log.WithError(err).Debug("lower entry renamed away, unlink done")
		err = nil
	}
	if err != nil {
		log.WithError(err).Debug("lower unlink failed")
		return err
	}

	if a, ok := lowerAttr(ref.entry); ok {
		obj.setNlink(a.Nlink)
	}
	if a, ok := lowerAttr(ldir); ok {
		obj.attrMu.Lock()
		obj.attr.Ctime = a.Ctime
		obj.attrMu.Unlock()
	}
	mirrorDir(dir, ldir, false)
	n.drop()
	log.Debug("unlinked")
	return nil
}

// Rmdir removes the empty directory n from dir
func (wfs *FS) Rmdir(dir, n *Node) error {
	log := wfs.log.WithFields(logrus.Fields{"op": "rmdir", "name": n.Name()})

	if err := wfs.readOnly("rmdir", n.Path()); err != nil {
		return err
	}
	if err := checkParent("rmdir", dir, n); err != nil {
		return err
	}
	obj := n.Object()
	if obj == nil {
		return &os.PathError{Op: "rmdir", Path: n.Path(), Err: syscall.ENOENT}
	}
	if obj.Kind() != Directory {
		return &os.PathError{Op: "rmdir", Path: n.Path(), Err: syscall.ENOTDIR}
	}

	ref := n.getRef()
	defer ref.release()
	if !ref.valid() {
		return &os.PathError{Op: "rmdir", Path: n.Path(), Err: syscall.ENOENT}
	}
	ldir, err := wfs.store.LockParent(ref.entry)
	if err != nil {
		return err
	}
	defer wfs.store.UnlockParent(ldir)

	if err := checkLinkage("rmdir", ldir, ref.entry); err != nil {
		return err
	}
	if err := wfs.store.Rmdir(ldir, ref.entry); err != nil {
		log.WithError(err).Debug("lower rmdir failed")
		return err
	}
	obj.setNlink(0)
	mirrorDir(dir, ldir, true)
	n.drop()
	log.Debug("removed")
	return nil
}

// Rename moves old in oldDir to the name of target in newDir, replacing
// whatever target names. No rename flags are supported.
func (wfs *FS) Rename(oldDir, old, newDir, target *Node, flags uint32) error {
	log := wfs.log.WithFields(logrus.Fields{"op": "rename", "old": old.Path(), "new": target.Path()})
	linkErr := func(err error) error {
		return &os.LinkError{Op: "rename", Old: old.Path(), New: target.Path(), Err: err}
	}

	if flags != 0 {
		return linkErr(syscall.EINVAL)
	}
	if err := wfs.readOnly("rename", old.Path()); err != nil {
		return err
	}
	if err := checkParent("rename", oldDir, old); err != nil {
		return err
	}
	if err := checkParent("rename", newDir, target); err != nil {
		return err
	}
	srcObj := old.Object()
	if srcObj == nil {
		return linkErr(syscall.ENOENT)
	}
	if old == target {
		return nil
	}
	if dst := target.Object(); dst != nil {
		switch {
		case dst == srcObj:
			// two names of one object
			return nil
		case srcObj.Kind() == Directory && dst.Kind() != Directory:
			return linkErr(syscall.ENOTDIR)
		case srcObj.Kind() != Directory && dst.Kind() == Directory:
			return linkErr(syscall.EISDIR)
		}
	}

	oldRef := old.getRef()
	defer oldRef.release()
	newRef := target.getRef()
	defer newRef.release()
	if !oldRef.valid() || !newRef.valid() {
		return linkErr(syscall.ENOENT)
	}
	lOldDir := oldRef.entry.GetParent()
	lNewDir := newRef.entry.GetParent()
	defer func() {
		if lOldDir != nil {
			lOldDir.Put()
		}
		if lNewDir != nil {
			lNewDir.Put()
		}
	}()
	if lOldDir == nil || lNewDir == nil {
		return linkErr(syscall.EBUSY)
	}

	lk, trap := wfs.store.LockRename(lOldDir, lNewDir)
	defer lk.Unlock()

	if err := checkLinkage("rename", lOldDir, oldRef.entry); err != nil {
		return err
	}
	if err := checkLinkage("rename", lNewDir, newRef.entry); err != nil {
		return err
	}
	if trap == oldRef.entry {
		log.Debug("source is an ancestor of the target")
		return linkErr(ErrAncestor)
	}
	if trap == newRef.entry {
		log.Debug("target is an ancestor of the source")
		return linkErr(syscall.ENOTEMPTY)
	}

	dstObj := target.Object()
	if err := wfs.store.Rename(lOldDir, oldRef.entry, lNewDir, newRef.entry); err != nil {
		log.WithError(err).Debug("lower rename failed")
		return err
	}

	mirrorAll(newDir, lNewDir)
	if newDir != oldDir {
		mirrorAll(oldDir, lOldDir)
	}
	if a, ok := lowerAttr(oldRef.entry); ok {
		srcObj.copyAttrAll(a)
	}
	if dstObj != nil && dstObj != srcObj {
		dstObj.setNlink(dstObj.Lower().Attr().Nlink)
	}
	old.move(newDir, target)
	log.Debug("renamed")
	return nil
}

// mirrorAll copies every attribute of the lower directory onto dir
func mirrorAll(dir *Node, ldir *lower.Entry) {
	obj := dir.Object()
	a, ok := lowerAttr(ldir)
	if obj == nil || !ok {
		return
	}
	obj.copyAttrAll(a)
	obj.copyInodeSize(a)
}
