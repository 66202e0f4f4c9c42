package fusefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/absfs/wrapfs"
	"github.com/absfs/wrapfs/lower"
)

// newRoot mounts /data of a fresh in-memory filesystem and returns the
// root node without attaching it to the kernel
func newRoot(t *testing.T) (afero.Fs, *wrapfs.FS, *node) {
	t.Helper()
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/data", 0o755))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	wfs, err := wrapfs.Mount("/data", wrapfs.WithLower(lower.NewAfero(mem)), wrapfs.WithLogger(logger))
	require.NoError(t, err)

	srv := &Server{wfs: wfs, log: logger}
	root := &node{srv: srv, n: wfs.Root()}
	t.Cleanup(func() {
		root.release()
		wfs.Unmount(wrapfs.UnmountForce)
	})
	return mem, wfs, root
}

// wrap builds the node of path without going through go-fuse
func wrap(t *testing.T, root *node, path string) *node {
	t.Helper()
	n, err := root.srv.wfs.Resolve(path, false)
	require.NoError(t, err)
	require.False(t, n.Negative())
	nd := &node{srv: root.srv, n: n}
	t.Cleanup(nd.release)
	return nd
}

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"errno", syscall.ENOTEMPTY, syscall.ENOTEMPTY},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, syscall.ENOENT},
		{"link error", &os.LinkError{Op: "link", Old: "/a", New: "/b", Err: syscall.EEXIST}, syscall.EEXIST},
		{"sentinel", wrapfs.ErrStale, syscall.EINVAL},
		{"wrapped sentinel", &os.PathError{Op: "lookup", Path: "/x", Err: wrapfs.ErrCrossedBackend}, syscall.EXDEV},
		{"formatted sentinel", fmt.Errorf("create: %w", wrapfs.ErrReadOnly), syscall.EROFS},
		{"not exist", os.ErrNotExist, syscall.ENOENT},
		{"exist", os.ErrExist, syscall.EEXIST},
		{"closed", os.ErrClosed, syscall.EBADF},
		{"unknown", errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, toErrno(tt.err))
		})
	}
}

func TestModeConversion(t *testing.T) {
	modes := []os.FileMode{
		0o644,
		os.ModeDir | 0o755,
		os.ModeSymlink | 0o777,
		os.ModeNamedPipe | 0o600,
		os.ModeSocket | 0o700,
		os.ModeDevice | os.ModeCharDevice | 0o620,
		os.ModeDevice | 0o660,
		0o755 | os.ModeSetuid | os.ModeSetgid,
		os.ModeDir | os.ModeSticky | 0o777,
	}
	for _, m := range modes {
		require.Equal(t, m, fileMode(unixMode(m)), "mode %v", m)
	}
	require.Equal(t, uint32(syscall.S_IFREG|0o644), unixMode(0o644))
	require.Equal(t, uint32(syscall.S_IFDIR|0o755), unixMode(os.ModeDir|0o755))
}

func TestFillAttr(t *testing.T) {
	mtime := time.Unix(1600000000, 500)
	var out fuse.Attr
	fillAttr(&out, lower.Attr{
		Ident: lower.Ident{Dev: 1, Ino: 42},
		Mode:  0o640,
		Nlink: 2,
		Uid:   1000,
		Gid:   100,
		Size:  12,
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
	})
	require.Equal(t, uint64(42), out.Ino)
	require.Equal(t, uint64(12), out.Size)
	require.Equal(t, uint32(syscall.S_IFREG|0o640), out.Mode)
	require.Equal(t, uint32(2), out.Nlink)
	require.Equal(t, uint32(1000), out.Uid)
	require.Equal(t, uint32(100), out.Gid)
	require.True(t, out.ModTime().Equal(mtime))
}

func TestSetAttr(t *testing.T) {
	in := &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{
		Valid: fuse.FATTR_MODE | fuse.FATTR_SIZE | fuse.FATTR_MTIME,
		Mode:  syscall.S_IFREG | 0o4750,
		Size:  7,
		Mtime: 1600000000,
	}}
	sa := setAttr(in)
	require.NotNil(t, sa.Mode)
	require.Equal(t, os.FileMode(0o750)|os.ModeSetuid, *sa.Mode)
	require.Equal(t, int64(7), *sa.Size)
	require.True(t, sa.Mtime.Equal(time.Unix(1600000000, 0)))
	require.Nil(t, sa.Uid)
	require.Nil(t, sa.Atime)
	require.False(t, sa.KillSuid)

	sa = setAttr(&fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{Valid: fuse.FATTR_KILL_SUIDGID}})
	require.True(t, sa.KillSuid)
	require.True(t, sa.Empty())
}

func TestNodeAttributes(t *testing.T) {
	mem, _, root := newRoot(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", []byte("hello"), 0o644))
	f := wrap(t, root, "/f")
	ctx := context.Background()

	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), f.Getattr(ctx, nil, &out))
	require.Equal(t, uint64(5), out.Size)
	require.Equal(t, uint32(syscall.S_IFREG|0o644), out.Mode)

	in := &fuse.SetAttrIn{SetAttrInCommon: fuse.SetAttrInCommon{Valid: fuse.FATTR_SIZE, Size: 2}}
	require.Equal(t, syscall.Errno(0), f.Setattr(ctx, nil, in, &out))
	require.Equal(t, uint64(2), out.Size)
	data, err := afero.ReadFile(mem, "/data/f")
	require.NoError(t, err)
	require.Equal(t, "he", string(data))

	_, errno := f.Readlink(ctx)
	require.Equal(t, syscall.EINVAL, errno)

	// no caller in the context means root
	require.Equal(t, syscall.Errno(0), f.Access(ctx, wrapfs.MayRead|wrapfs.MayWrite))
	require.Equal(t, syscall.EACCES, f.Access(ctx, wrapfs.MayExec))

	var st fuse.StatfsOut
	require.Equal(t, syscall.Errno(0), root.Statfs(ctx, &st))
	require.Equal(t, uint32(255), st.NameLen)
}

func TestHandleReadWrite(t *testing.T) {
	mem, wfs, root := newRoot(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", []byte("hello world"), 0o644))
	f := wrap(t, root, "/f")
	ctx := context.Background()

	fh, _, errno := f.Open(ctx, uint32(os.O_RDWR))
	require.Equal(t, syscall.Errno(0), errno)
	h := fh.(*handle)
	require.Equal(t, int64(1), wfs.OpenFiles())

	res, errno := h.Read(ctx, make([]byte, 5), 6)
	require.Equal(t, syscall.Errno(0), errno)
	data, _ := res.Bytes(nil)
	require.Equal(t, "world", string(data))

	// reads past the end come back short
	res, errno = h.Read(ctx, make([]byte, 16), 6)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, 5, res.Size())

	written, errno := h.Write(ctx, []byte("HELLO"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, uint32(5), written)

	require.Equal(t, syscall.Errno(0), h.Flush(ctx))
	require.Equal(t, syscall.Errno(0), h.Fsync(ctx, 0))
	_, errno = h.Ioctl(ctx, 0x5401, 0, nil, nil)
	require.Equal(t, syscall.ENOTTY, errno)

	require.Equal(t, syscall.Errno(0), h.Release(ctx))
	require.Equal(t, int64(0), wfs.OpenFiles())
	require.Equal(t, syscall.EBADF, h.Release(ctx))

	data, err := afero.ReadFile(mem, "/data/f")
	require.NoError(t, err)
	require.Equal(t, "HELLO world", string(data))
}

func TestNodeReaddir(t *testing.T) {
	mem, _, root := newRoot(t)
	require.NoError(t, mem.MkdirAll("/data/sub", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/data/f", nil, 0o644))

	ds, errno := root.Readdir(context.Background())
	require.Equal(t, syscall.Errno(0), errno)
	defer ds.Close()

	modes := map[string]uint32{}
	for ds.HasNext() {
		e, errno := ds.Next()
		require.Equal(t, syscall.Errno(0), errno)
		modes[e.Name] = e.Mode
	}
	require.Equal(t, map[string]uint32{
		"f":   syscall.S_IFREG,
		"sub": syscall.S_IFDIR,
	}, modes)
}

func TestNodeNamespace(t *testing.T) {
	mem, _, root := newRoot(t)
	require.NoError(t, mem.MkdirAll("/data/d/e", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/data/a", []byte("a"), 0o644))
	ctx := context.Background()

	require.Equal(t, syscall.Errno(0), root.Rename(ctx, "a", root, "b", 0))
	exists, _ := afero.Exists(mem, "/data/b")
	require.True(t, exists)
	require.Equal(t, syscall.EINVAL, root.Rename(ctx, "b", root, "c", 1))
	require.Equal(t, syscall.ENOENT, root.Rename(ctx, "missing", root, "c", 0))

	require.Equal(t, syscall.ENOTEMPTY, root.Rmdir(ctx, "d"))
	d := wrap(t, root, "/d")
	require.Equal(t, syscall.Errno(0), d.Rmdir(ctx, "e"))
	require.Equal(t, syscall.Errno(0), root.Rmdir(ctx, "d"))

	require.Equal(t, syscall.Errno(0), root.Unlink(ctx, "b"))
	require.Equal(t, syscall.ENOENT, root.Unlink(ctx, "b"))
	exists, _ = afero.Exists(mem, "/data/b")
	require.False(t, exists)
}

func TestNodeForget(t *testing.T) {
	mem, wfs, root := newRoot(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", nil, 0o644))
	n, err := wfs.Resolve("/f", false)
	require.NoError(t, err)
	nd := &node{srv: root.srv, n: n}
	require.Equal(t, int32(1), n.Refs())

	nd.OnForget()
	require.Equal(t, int32(0), n.Refs())

	var out fuse.AttrOut
	require.Equal(t, syscall.ESTALE, nd.Getattr(context.Background(), nil, &out))
	nd.OnForget()
}

func TestNodeAdopt(t *testing.T) {
	mem, wfs, root := newRoot(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", nil, 0o644))

	first, err := wfs.Resolve("/f", false)
	require.NoError(t, err)
	nd := &node{srv: root.srv, n: first}
	t.Cleanup(nd.release)

	// a live node is kept, the extra reference is dropped
	again, err := wfs.Resolve("/f", false)
	require.NoError(t, err)
	nd.adopt(again)
	require.Same(t, first, nd.n)
	require.Equal(t, int32(1), first.Refs())
}
