package wrapfs

import (
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs/lower"
)

// Mount mirrors the directory source of the lower filesystem. The source
// is resolved following symbolic links and must be a directory.
func Mount(source string, opts ...Option) (*FS, error) {
	wfs := &FS{
		name:    "wrapfs",
		objects: newCache(),
	}
	wfs.log = logrus.StandardLogger().WithField("fs", wfs.name)
	for _, opt := range opts {
		opt(wfs)
	}
	log := wfs.log.WithFields(logrus.Fields{"op": "mount", "source": source})

	if source == "" {
		return nil, &os.PathError{Op: "mount", Path: source, Err: syscall.EINVAL}
	}
	if wfs.lowerFS == nil {
		fsys, err := defaultLower()
		if err != nil {
			return nil, err
		}
		wfs.lowerFS = fsys
	}

	store, err := lower.NewStore(wfs.lowerFS)
	if err != nil {
		log.WithError(err).Debug("lower filesystem unusable")
		return nil, err
	}
	entry, err := store.Walk(source, true)
	if err != nil {
		log.WithError(err).Debug("source not found")
		return nil, err
	}
	attr, ok := lowerAttr(entry)
	if !ok || !attr.IsDir() {
		entry.Put()
		return nil, &os.PathError{Op: "mount", Path: source, Err: syscall.ENOTDIR}
	}

	wfs.store = store
	wfs.mnt = store.Mount()
	wfs.dev = attr.Ident.Dev

	// The root is bound directly, never through a parent lookup.
	root := wfs.newNode(nil, "/")
	root.bind(backingRef{entry: entry, mnt: wfs.mnt.Get()})
	root.obj = wfs.iget(entry.Inode())
	root.hashed = true
	wfs.root = root
	wfs.mounted = true

	log.WithFields(logrus.Fields{
		"dev":   attr.Ident.Dev,
		"ino":   attr.Ident.Ino,
		"flags": wfs.Flags(),
	}).Info("mounted")
	return wfs, nil
}

// Unmount tears the mount down. It fails with EBUSY while files are
// open unless UnmountForce is given.
func (wfs *FS) Unmount(flags UnmountFlags) error {
	wfs.mu.Lock()
	defer wfs.mu.Unlock()

	log := wfs.log.WithField("op", "unmount")
	if !wfs.mounted {
		return ErrNotMounted
	}
	if open := wfs.openFiles.Load(); open > 0 && flags&UnmountForce == 0 {
		log.WithField("open", open).Debug("busy")
		return ErrBusy
	}
	wfs.mounted = false

	pruned := wfs.root.prune()
	root := wfs.root
	root.nsMu.Lock()
	root.hashed = false
	root.nsMu.Unlock()
	// nodes still held by open files go away with their last reference
	root.dropChildren()
	root.Put()

	wfs.store.Shrink()
	wfs.mnt.Put()
	log.WithFields(logrus.Fields{
		"pruned": pruned,
		"nodes":  wfs.nodes.Load(),
	}).Info("unmounted")
	return nil
}

// Mounted reports whether Unmount has not run yet
func (wfs *FS) Mounted() bool {
	wfs.mu.Lock()
	defer wfs.mu.Unlock()
	return wfs.mounted
}

// Statfs reports the capacity of the lower filesystem under this
// filesystem's type.
func (wfs *FS) Statfs() (lower.Statfs, error) {
	st, err := wfs.store.Statfs()
	if err != nil {
		return lower.Statfs{}, err
	}
	st.Type = Magic
	return st, nil
}

// Remount changes the mount flags. Only ReadOnly, MandLock and Silent
// may be given.
func (wfs *FS) Remount(flags MountFlags) error {
	log := wfs.log.WithFields(logrus.Fields{"op": "remount", "flags": flags})
	if flags&^remountable != 0 {
		log.Warn("unsupported remount flags")
		return ErrUnsupported
	}
	if !wfs.Mounted() {
		return ErrNotMounted
	}
	wfs.flags.Store(uint32(flags))
	log.Debug("remounted")
	return nil
}

func (f MountFlags) String() string {
	names := []struct {
		flag MountFlags
		name string
	}{
		{ReadOnly, "ro"},
		{NoSuid, "nosuid"},
		{NoDev, "nodev"},
		{NoExec, "noexec"},
		{Synchronous, "sync"},
		{MandLock, "mand"},
		{Silent, "silent"},
	}
	s := ""
	for _, n := range names {
		if f&n.flag != 0 {
			if s != "" {
				s += ","
			}
			s += n.name
		}
	}
	if s == "" {
		return "rw"
	}
	return s
}
