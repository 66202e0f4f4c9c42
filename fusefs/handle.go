package fusefs

import (
	"context"
	"io"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/absfs/wrapfs"
)

// handle is an open wrapfs file
type handle struct {
	f *wrapfs.File
}

var (
	_ fs.FileReader   = (*handle)(nil)
	_ fs.FileWriter   = (*handle)(nil)
	_ fs.FileFlusher  = (*handle)(nil)
	_ fs.FileFsyncer  = (*handle)(nil)
	_ fs.FileReleaser = (*handle)(nil)
	_ fs.FileIoctler  = (*handle)(nil)
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.f.WriteAt(data, off)
	if err != nil {
		return uint32(n), toErrno(err)
	}
	return uint32(n), 0
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(h.f.Flush())
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	// bit 0 of the fsync flags asks for data only
	return toErrno(h.f.Fsync(flags&1 != 0))
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	return toErrno(h.f.Release())
}

func (h *handle) Ioctl(ctx context.Context, cmd uint32, arg uint64, input []byte, output []byte) (int32, syscall.Errno) {
	r, err := h.f.Ioctl(uint(cmd), uintptr(arg))
	if err != nil {
		return 0, toErrno(err)
	}
	return int32(r), 0
}
