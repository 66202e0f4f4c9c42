// Package lower defines the backing store that a wrapfs mount mirrors.
//
// A lower.FS is a path-addressed set of primitives. A Store layers a
// reference-counted entry cache over it, the way a kernel dentry cache
// sits over a filesystem driver: entries are hashed by name under their
// parent, share one Inode per object identity, carry a per-directory
// lock and a store-wide rename lock that orders two-directory
// operations.
package lower

import (
	"io"
	"os"
)

// FS is a lower filesystem. Names are slash separated and absolute
// ("/", "/a/b"). Errors are *os.PathError or *os.LinkError values
// wrapping a syscall.Errno where the backend knows one.
type FS interface {
	Lstat(name string) (Attr, error)
	Mkdir(name string, perm os.FileMode) error
	// Create makes a new regular file and fails if name exists
	Create(name string, perm os.FileMode) error
	Mknod(name string, mode os.FileMode, dev uint64) error
	Symlink(target, name string) error
	Link(oldname, newname string) error
	Readlink(name string) (string, error)
	Unlink(name string) error
	Rmdir(name string) error
	Rename(oldname, newname string) error
	Open(name string, flag int) (File, error)
	Setattr(name string, sa SetAttr) error
	Statfs() (Statfs, error)
}

// File is an open lower file or directory
type File interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer

	// Readdir follows os.File.ReadDir: with n > 0 it returns at most n
	// entries and io.EOF at the end of the directory; with n <= 0 it
	// returns everything that is left.
	Readdir(n int) ([]DirEntry, error)
	// Attr returns the current attributes of the open object
	Attr() (Attr, error)
	Sync() error
}

// DeferredDeleter is implemented by backends that rename a busy file
// away instead of removing it (NFS "silly rename"). RenamedAway reports
// whether the last unlink of name was converted that way, in which case
// the EBUSY the backend returned is not a real failure.
type DeferredDeleter interface {
	RenamedAway(name string) bool
}

// Ioctler is implemented by files that accept device control requests
type Ioctler interface {
	Ioctl(cmd uint, arg uintptr) (uintptr, error)
}

// Flusher is implemented by files with work to do on every close of a
// duplicated descriptor.
type Flusher interface {
	Flush() error
}

// Mapper is implemented by files that can be memory mapped
type Mapper interface {
	MapOps() (MapOps, error)
}

// MapOps is the memory-mapping operation vector of a lower file
type MapOps interface {
	// Fault fills page with the contents at off
	Fault(off int64, page []byte) (int, error)
	// PageMkwrite prepares the page at off for writing
	PageMkwrite(off int64) error
	// Writable reports whether shared writable mappings are supported
	Writable() bool
}
