// Package fusefs serves a mounted wrapfs.FS to the kernel through
// go-fuse. Every go-fuse inode holds one reference on a wrapfs node and
// drops it when the kernel forgets the inode.
package fusefs

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs"
)

// Options configure the kernel mount
type Options struct {
	// Debug traces every FUSE request
	Debug bool
	// AllowOther lets other users access the mount
	AllowOther bool
	// Timeout is how long the kernel may cache entries and attributes.
	// Zero disables caching so lower changes are seen at once.
	Timeout time.Duration
	// Logger receives shim level messages
	Logger logrus.FieldLogger
}

// Server is a wrapfs mount attached to a host directory
type Server struct {
	wfs        *wrapfs.FS
	mountpoint string
	server     *fuse.Server
	root       *node
	log        logrus.FieldLogger
}

// Mount attaches wfs to mountpoint. The caller still owns wfs and
// unmounts it after the server stopped.
func Mount(mountpoint string, wfs *wrapfs.FS, opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		wfs:        wfs,
		mountpoint: mountpoint,
		log:        log.WithFields(logrus.Fields{"fs": wfs.Name(), "mountpoint": mountpoint}),
	}
	s.root = &node{srv: s, n: wfs.Root()}

	rootAttr, err := wfs.Getattr(s.root.n)
	if err != nil {
		s.root.n.Put()
		return nil, err
	}

	timeout := opts.Timeout
	fo := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			FsName:     wfs.Name(),
			Name:       "wrapfs",
		},
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		RootStableAttr:  &fs.StableAttr{Ino: rootAttr.Ident.Ino, Gen: 1},
		UID:             rootAttr.Uid,
		GID:             rootAttr.Gid,
	}
	if wfs.Flags()&wrapfs.ReadOnly != 0 {
		fo.MountOptions.Options = append(fo.MountOptions.Options, "ro")
	}

	server, err := fs.Mount(mountpoint, s.root, fo)
	if err != nil {
		s.root.n.Put()
		return nil, err
	}
	s.server = server
	s.log.Info("serving")
	return s, nil
}

// Wait blocks until the kernel mount goes away
func (s *Server) Wait() {
	s.server.Wait()
}

// Unmount detaches the kernel mount and drops the root reference
func (s *Server) Unmount() error {
	if err := s.server.Unmount(); err != nil {
		s.log.WithError(err).Warn("unmount failed")
		return err
	}
	s.root.release()
	s.log.Info("detached")
	return nil
}
