package lower

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOSStore(t *testing.T) (string, *Store) {
	t.Helper()
	dir := t.TempDir()
	fsys, err := NewOS(dir)
	require.NoError(t, err)
	s, err := NewStore(fsys)
	require.NoError(t, err)
	return dir, s
}

func TestNewOSRejectsFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewOS(file)
	require.ErrorIs(t, err, syscall.ENOTDIR)

	_, err = NewOS(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestOSLstatReportsRealIdentity(t *testing.T) {
	dir, s := newOSStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("abc"), 0o640))

	attr, err := s.FS().Lstat("/f")
	require.NoError(t, err)

	var st syscall.Stat_t
	require.NoError(t, syscall.Lstat(filepath.Join(dir, "f"), &st))
	require.Equal(t, st.Ino, attr.Ident.Ino)
	require.Equal(t, uint64(st.Dev), attr.Ident.Dev)
	require.Equal(t, os.FileMode(0o640), attr.Mode)
	require.Equal(t, int64(3), attr.Size)
	require.Equal(t, uint32(1), attr.Nlink)
	require.Equal(t, attr.Ident.Dev, s.Dev())
}

func TestOSHardLinkSharesInode(t *testing.T) {
	dir, s := newOSStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("abc"), 0o644))
	root := s.Root()
	defer root.Put()

	f, err := s.Lookup(root, "f")
	require.NoError(t, err)
	defer f.Put()

	g := s.Placeholder(root, "g")
	defer g.Put()
	parent, err := s.LockParent(g)
	require.NoError(t, err)
	err = s.Link(f, parent, g)
	s.UnlockParent(parent)
	require.NoError(t, err)

	require.Same(t, f.Inode(), g.Inode())
	require.Equal(t, uint32(2), f.Inode().Attr().Nlink)

	parent, err = s.LockParent(f)
	require.NoError(t, err)
	require.NoError(t, s.Unlink(parent, f))
	s.UnlockParent(parent)
	require.Equal(t, uint32(1), g.Inode().Attr().Nlink)
}

func TestOSWalkFollowsSymlinks(t *testing.T) {
	dir, s := newOSStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "real", "sub"), 0o755))
	require.NoError(t, os.Symlink("real", filepath.Join(dir, "rel")))
	require.NoError(t, os.Symlink("/real/sub", filepath.Join(dir, "abs")))
	require.NoError(t, os.Symlink("loop", filepath.Join(dir, "loop")))

	e, err := s.Walk("/rel/sub", false)
	require.NoError(t, err)
	require.Equal(t, "/real/sub", e.Path())
	e.Put()

	e, err = s.Walk("/abs", true)
	require.NoError(t, err)
	require.Equal(t, "/real/sub", e.Path())
	e.Put()

	e, err = s.Walk("/abs", false)
	require.NoError(t, err)
	require.True(t, e.Inode().Attr().IsSymlink())
	e.Put()

	_, err = s.Walk("/loop", true)
	require.ErrorIs(t, err, syscall.ELOOP)
}

func TestOSMknodFifo(t *testing.T) {
	_, s := newOSStore(t)
	root := s.Root()
	defer root.Put()

	e := s.Placeholder(root, "pipe")
	defer e.Put()
	parent, err := s.LockParent(e)
	require.NoError(t, err)
	err = s.Mknod(parent, e, os.ModeNamedPipe|0o600, 0)
	s.UnlockParent(parent)
	require.NoError(t, err)
	require.Equal(t, os.ModeNamedPipe, e.Inode().Attr().Mode.Type())
}

func TestOSStatfs(t *testing.T) {
	_, s := newOSStore(t)
	st, err := s.Statfs()
	require.NoError(t, err)
	require.NotZero(t, st.Bsize)
	require.NotZero(t, st.NameLen)
}

func TestOSMapOpsFault(t *testing.T) {
	dir, s := newOSStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("mapped"), 0o644))
	root := s.Root()
	defer root.Put()

	e, err := s.Lookup(root, "f")
	require.NoError(t, err)
	defer e.Put()
	h, err := s.Open(e, os.O_RDONLY)
	require.NoError(t, err)
	defer h.Close()

	ops, err := h.MapOps()
	require.NoError(t, err)
	require.True(t, ops.Writable())

	page := make([]byte, 16)
	for i := range page {
		page[i] = 0xff
	}
	n, err := ops.Fault(0, page)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "mapped", string(page[:n]))
	require.Equal(t, make([]byte, 10), page[n:])
}

func TestModeRoundTrip(t *testing.T) {
	for _, m := range []os.FileMode{
		0o644,
		os.ModeDir | 0o755,
		os.ModeSymlink | 0o777,
		os.ModeNamedPipe | 0o600,
		os.ModeSocket | 0o700,
		os.ModeDevice | os.ModeCharDevice | 0o660,
		os.ModeDevice | 0o660,
		os.ModeSetuid | os.ModeSetgid | os.ModeSticky | 0o755,
	} {
		require.Equal(t, m, fileMode(unixMode(m)), "mode %v", m)
	}
}
