package wrapfs

import (
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// Magic is the filesystem type reported by Statfs
const Magic = 0xb550ca10

// MountFlags are the mount-wide flags of an FS
type MountFlags uint32

// Mount flags, numbered as the host reports them
const (
	ReadOnly    MountFlags = 1 << 0
	NoSuid      MountFlags = 1 << 1
	NoDev       MountFlags = 1 << 2
	NoExec      MountFlags = 1 << 3
	Synchronous MountFlags = 1 << 4
	MandLock    MountFlags = 1 << 6
	Silent      MountFlags = 1 << 15
)

// remountable is the set of flags Remount may change
const remountable = ReadOnly | MandLock | Silent

// UnmountFlags modify Unmount
type UnmountFlags uint32

// UnmountForce detaches the mount even while files are open
const UnmountForce UnmountFlags = 1

var (
	// ErrCrossedBackend is returned when a lookup reaches an object on a
	// different device than the mount's lower root
	ErrCrossedBackend = newError("object lives on another lower filesystem", syscall.EXDEV)
	// ErrStale is returned when the namespace changed between a lookup and
	// the operation that used it
	ErrStale = newError("namespace changed concurrently", syscall.EINVAL)
	// ErrAncestor is returned when a rename would move a directory below itself
	ErrAncestor = newError("source is an ancestor of the target", syscall.EINVAL)
	// ErrReadOnly is returned for mutations on a read-only mount
	ErrReadOnly = newError("read-only mount", syscall.EROFS)
	// ErrBusy is returned by Unmount while files are open
	ErrBusy = newError("mount is busy", syscall.EBUSY)
	// ErrUnsupported is returned for remount flags that cannot be changed
	ErrUnsupported = newError("unsupported mount flags", syscall.EINVAL)
	// ErrNotMounted is returned after Unmount
	ErrNotMounted = newError("filesystem is not mounted", syscall.EINVAL)
)

// Error is a sentinel error carrying the errno a host shim should report
type Error struct {
	msg   string
	errno syscall.Errno
}

func newError(msg string, errno syscall.Errno) *Error {
	return &Error{msg: msg, errno: errno}
}

func (e *Error) Error() string { return e.msg }

// Errno returns the errno the error maps to
func (e *Error) Errno() syscall.Errno { return e.errno }

// Is lets errors.Is match the sentinel against its errno as well
func (e *Error) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && errno == e.errno
}

// FS is a mounted pass-through filesystem. It mirrors a directory of a
// lower filesystem, forwarding every operation to it while keeping its
// own namespace cache and identity table.
type FS struct {
	name    string
	lowerFS lower.FS
	log     *logrus.Entry

	store *lower.Store
	mnt   *lower.Mount
	dev   uint64
	root  *Node

	objects   *Cache
	flags     atomic.Uint32
	nodeSeq   atomic.Uint64
	nodes     atomic.Int64
	openFiles atomic.Int64

	mu      sync.Mutex // mount state
	mounted bool
}

// Option is a functional option for configuring a mount
type Option func(*FS)

// WithLower sets the lower filesystem the mount source is resolved in.
// Without it the host filesystem is used.
func WithLower(fsys lower.FS) Option {
	return func(wfs *FS) {
		wfs.lowerFS = fsys
	}
}

// WithLogger sets the logger operations trace to
func WithLogger(l logrus.FieldLogger) Option {
	return func(wfs *FS) {
		wfs.log = l.WithField("fs", wfs.name)
	}
}

// WithFlags sets the initial mount flags
func WithFlags(flags MountFlags) Option {
	return func(wfs *FS) {
		wfs.flags.Store(uint32(flags))
	}
}

// WithName sets the device name of the mount
func WithName(name string) Option {
	return func(wfs *FS) {
		wfs.name = name
		wfs.log = wfs.log.WithField("fs", name)
	}
}

// Name returns the device name of the mount
func (wfs *FS) Name() string {
	return wfs.name
}

// Flags returns the current mount flags
func (wfs *FS) Flags() MountFlags {
	return MountFlags(wfs.flags.Load())
}

// Root returns the root node with a reference held
func (wfs *FS) Root() *Node {
	return wfs.root.Get()
}

// Store returns the lower entry cache the mount is built on
func (wfs *FS) Store() *lower.Store {
	return wfs.store
}

// Objects returns the identity cache
func (wfs *FS) Objects() *Cache {
	return wfs.objects
}

// Nodes returns the number of live namespace nodes
func (wfs *FS) Nodes() int64 {
	return wfs.nodes.Load()
}

// OpenFiles returns the number of open file proxies
func (wfs *FS) OpenFiles() int64 {
	return wfs.openFiles.Load()
}

// readOnly checks whether a mutation may proceed
func (wfs *FS) readOnly(op, name string) error {
	if wfs.Flags()&ReadOnly != 0 {
		return &os.PathError{Op: op, Path: name, Err: ErrReadOnly}
	}
	return nil
}

// cleanPath normalizes a path
func cleanPath(p string) string {
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

func splitPath(p string) []string {
	var out []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// writable reports whether open flags ask for write access
func writable(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_TRUNC) != 0
}
