package wrapfs

import (
	"io"
	"os"
	"path"
	"syscall"

	"github.com/absfs/absfs"
)

// absFSAdapter exposes a mount through the path based absfs interfaces
type absFSAdapter struct {
	wfs *FS
}

// Ensure absFSAdapter implements the absfs interfaces at compile time
var (
	_ absfs.Filer     = (*absFSAdapter)(nil)
	_ absfs.SymLinker = (*absFSAdapter)(nil)
)

// FileSystem returns an absfs.SymlinkFileSystem view of the mount.
// The returned FileSystem keeps its own working directory and provides
// the convenience methods of absfs (Open, Create, MkdirAll, RemoveAll,
// Truncate) on top of the mount's node operations.
//
// Example:
//
//	wfs, err := wrapfs.Mount("/data", wrapfs.WithLower(lowerFS))
//	if err != nil {
//	    return err
//	}
//	fs := wfs.FileSystem()
//	fs.Chdir("/app")
//	file, err := fs.Open("config.yml")
func (wfs *FS) FileSystem() absfs.SymlinkFileSystem {
	return absfs.ExtendSymlinkFiler(&absFSAdapter{wfs: wfs})
}

// existing returns the positive node name leads to
func (a *absFSAdapter) existing(op, name string, follow bool) (*Node, error) {
	n, err := a.wfs.Resolve(name, follow)
	if err != nil {
		return nil, err
	}
	if n.Negative() {
		n.Put()
		return nil, &os.PathError{Op: op, Path: name, Err: syscall.ENOENT}
	}
	return n, nil
}

// absFile adapts a File to absfs.File
type absFile struct {
	a    *absFSAdapter
	f    *File
	name string
}

// Ensure absFile implements absfs.File at compile time
var _ absfs.File = (*absFile)(nil)

func (af *absFile) Name() string { return af.name }

func (af *absFile) Read(p []byte) (int, error) { return af.f.Read(p) }

func (af *absFile) ReadAt(p []byte, off int64) (int, error) { return af.f.ReadAt(p, off) }

func (af *absFile) Write(p []byte) (int, error) {
	if af.f.Flags()&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, &os.PathError{Op: "write", Path: af.name, Err: syscall.EBADF}
	}
	if af.f.Flags()&os.O_APPEND != 0 {
		if _, err := af.f.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	return af.f.Write(p)
}

func (af *absFile) WriteAt(p []byte, off int64) (int, error) {
	if af.f.Flags()&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, &os.PathError{Op: "write", Path: af.name, Err: syscall.EBADF}
	}
	return af.f.WriteAt(p, off)
}

func (af *absFile) WriteString(s string) (int, error) { return af.Write([]byte(s)) }

func (af *absFile) Seek(offset int64, whence int) (int64, error) { return af.f.Seek(offset, whence) }

func (af *absFile) Sync() error { return af.f.Sync() }

func (af *absFile) Close() error { return af.f.Close() }

func (af *absFile) Stat() (os.FileInfo, error) {
	fi, err := af.f.Stat()
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: path.Base(af.name), attr: fi.(*fileInfo).attr}, nil
}

// Truncate changes the size of the file without moving the offset
func (af *absFile) Truncate(size int64) error {
	if af.f.Flags()&(os.O_WRONLY|os.O_RDWR) == 0 {
		return &os.PathError{Op: "truncate", Path: af.name, Err: syscall.EBADF}
	}
	_, err := af.a.wfs.Setattr(af.f.Node(), setSize(size))
	return err
}
