package wrapfs

import (
	"os"
	"time"

	"github.com/absfs/wrapfs/lower"
)

// Attribute mirroring copies lower attributes onto an Object after the
// operations that change them. Each helper copies only what its
// operation can affect.

// copyAttrTimes copies access, modification and change times
func (o *Object) copyAttrTimes(a lower.Attr) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Atime = a.Atime
	o.attr.Mtime = a.Mtime
	o.attr.Ctime = a.Ctime
}

// copyAttrAtime copies only the access time
func (o *Object) copyAttrAtime(a lower.Attr) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Atime = a.Atime
}

// copyInodeSize copies size and block count
func (o *Object) copyInodeSize(a lower.Attr) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Size = a.Size
	o.attr.Blocks = a.Blocks
}

// copyAttrAll copies everything but size, which has its own helper
func (o *Object) copyAttrAll(a lower.Attr) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Ident = a.Ident
	o.attr.Mode = a.Mode
	o.attr.Uid = a.Uid
	o.attr.Gid = a.Gid
	o.attr.Rdev = a.Rdev
	o.attr.Nlink = a.Nlink
	o.attr.Atime = a.Atime
	o.attr.Mtime = a.Mtime
	o.attr.Ctime = a.Ctime
}

// setNlink sets the link count
func (o *Object) setNlink(n uint32) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Nlink = n
}

// setSize sets the size
func (o *Object) setSize(size int64) {
	o.attrMu.Lock()
	defer o.attrMu.Unlock()
	o.attr.Size = size
}

// lowerAttr returns the cached attributes of the lower inode e names,
// or false for a negative entry.
func lowerAttr(e *lower.Entry) (lower.Attr, bool) {
	li := e.Inode()
	if li == nil {
		return lower.Attr{}, false
	}
	return li.Attr(), true
}

// mirrorDir copies times and size of the lower directory onto dir's
// object, and its link count when withNlink is set.
func mirrorDir(dir *Node, ldir *lower.Entry, withNlink bool) {
	obj := dir.Object()
	a, ok := lowerAttr(ldir)
	if obj == nil || !ok {
		return
	}
	obj.copyAttrTimes(a)
	obj.copyInodeSize(a)
	if withNlink {
		obj.setNlink(a.Nlink)
	}
}

// fileInfo adapts mirrored attributes to os.FileInfo
type fileInfo struct {
	name string
	attr lower.Attr
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.attr.Size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.attr.Mode }
func (fi *fileInfo) ModTime() time.Time { return fi.attr.Mtime }
func (fi *fileInfo) IsDir() bool        { return fi.attr.IsDir() }
func (fi *fileInfo) Sys() interface{}   { return &fi.attr }
