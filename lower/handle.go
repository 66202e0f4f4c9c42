package lower

import (
	"io"
	"os"
	"sync"
	"syscall"
)

// Handle is an open lower file. Successful I/O refreshes the cached
// attributes of the inode it was opened on.
type Handle struct {
	file  File
	inode *Inode
	once  sync.Once
}

// Inode returns the inode the handle was opened on
func (h *Handle) Inode() *Inode { return h.inode }

// File returns the backend file
func (h *Handle) File() File { return h.file }

func (h *Handle) Read(p []byte) (int, error) {
	n, err := h.file.Read(p)
	if err == nil || err == io.EOF {
		h.refresh()
	}
	return n, err
}

func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	n, err := h.file.ReadAt(p, off)
	if err == nil || err == io.EOF {
		h.refresh()
	}
	return n, err
}

func (h *Handle) Write(p []byte) (int, error) {
	n, err := h.file.Write(p)
	if n > 0 {
		h.refresh()
	}
	return n, err
}

func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	n, err := h.file.WriteAt(p, off)
	if n > 0 {
		h.refresh()
	}
	return n, err
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

// Readdir reads directory entries, see File.Readdir
func (h *Handle) Readdir(n int) ([]DirEntry, error) {
	ents, err := h.file.Readdir(n)
	if err == nil || err == io.EOF {
		h.refresh()
	}
	return ents, err
}

func (h *Handle) Sync() error { return h.file.Sync() }

// Flush forwards to the backend file if it cares about flushes
func (h *Handle) Flush() error {
	if f, ok := h.file.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Ioctl forwards a device control request. Files that do not accept
// them fail with ENOTTY.
func (h *Handle) Ioctl(cmd uint, arg uintptr) (uintptr, error) {
	f, ok := h.file.(Ioctler)
	if !ok {
		return 0, syscall.ENOTTY
	}
	r, err := f.Ioctl(cmd, arg)
	if err == nil {
		h.refresh()
	}
	return r, err
}

// MapOps returns the mapping operations of the backend file, or ENODEV
// if it cannot be mapped.
func (h *Handle) MapOps() (MapOps, error) {
	m, ok := h.file.(Mapper)
	if !ok {
		return nil, syscall.ENODEV
	}
	return m.MapOps()
}

// Refresh rereads the attributes of the open object
func (h *Handle) Refresh() { h.refresh() }

func (h *Handle) refresh() {
	if a, err := h.file.Attr(); err == nil && a.Ident == h.inode.ident {
		h.inode.setAttr(a)
	}
}

// Close closes the backend file and drops the inode reference. Only
// the first call does anything.
func (h *Handle) Close() error {
	err := os.ErrClosed
	h.once.Do(func() {
		err = h.file.Close()
		h.inode.Put()
	})
	return err
}
