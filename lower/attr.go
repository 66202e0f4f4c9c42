package lower

import (
	"os"
	"time"
)

// Ident identifies an object within a lower store. Two entries with the
// same Ident refer to the same underlying object (hard links).
type Ident struct {
	Dev uint64
	Ino uint64
}

// Attr is a snapshot of a lower object's attributes
type Attr struct {
	Ident  Ident
	Mode   os.FileMode
	Nlink  uint32
	Uid    uint32
	Gid    uint32
	Rdev   uint64
	Size   int64
	Blocks int64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// IsDir reports whether the attributes describe a directory
func (a Attr) IsDir() bool { return a.Mode.IsDir() }

// IsSymlink reports whether the attributes describe a symbolic link
func (a Attr) IsSymlink() bool { return a.Mode&os.ModeSymlink != 0 }

// SetAttr carries an attribute change request. Nil fields are left alone.
type SetAttr struct {
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time

	// KillSuid asks the lower store to clear set-user-ID and set-group-ID
	// bits on its own. A Mode change in the same request is ignored.
	KillSuid bool
}

// Empty reports whether the request changes nothing
func (sa SetAttr) Empty() bool {
	return sa.Mode == nil && sa.Uid == nil && sa.Gid == nil &&
		sa.Size == nil && sa.Atime == nil && sa.Mtime == nil
}

// Statfs describes the capacity of a lower store
type Statfs struct {
	Type    int64
	Bsize   int64
	Frsize  int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint32
}

// DirEntry is one record of a directory listing
type DirEntry struct {
	Name string
	Ino  uint64
	Mode os.FileMode // type bits only
}
