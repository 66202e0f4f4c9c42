package wrapfs

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/absfs/wrapfs/lower"
)

func chmodAttr(m os.FileMode) lower.SetAttr {
	return lower.SetAttr{Mode: &m}
}

func TestGetattr(t *testing.T) {
	mem, wfs := newMount(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", []byte("abc"), 0o644))
	root := wfs.Root()
	defer root.Put()
	n := lookup(t, root, "f")
	defer n.Put()

	a, err := wfs.Getattr(n)
	require.NoError(t, err)
	require.Equal(t, int64(3), a.Size)
	require.Equal(t, n.Object().Ident(), a.Ident)

	require.NoError(t, afero.WriteFile(mem, "/data/f", []byte("abcdef"), 0o644))
	a, err = wfs.Getattr(n)
	require.NoError(t, err)
	require.Equal(t, int64(6), a.Size)
	require.Equal(t, int64(6), n.Object().Attr().Size)

	neg := lookup(t, root, "neg")
	defer neg.Put()
	_, err = wfs.Getattr(neg)
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestSetattr(t *testing.T) {
	mem, wfs := newMount(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", []byte("hello"), 0o644))
	root := wfs.Root()
	defer root.Put()
	n := lookup(t, root, "f")
	defer n.Put()

	a, err := wfs.Setattr(n, chmodAttr(0o600))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), a.Mode.Perm())
	fi, err := mem.Stat("/data/f")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	a, err = wfs.Setattr(n, setSize(2))
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Size)
	require.Equal(t, int64(2), n.Object().Attr().Size)
	data, err := afero.ReadFile(mem, "/data/f")
	require.NoError(t, err)
	require.Equal(t, "he", string(data))

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err = wfs.Setattr(n, lower.SetAttr{Atime: &mtime, Mtime: &mtime})
	require.NoError(t, err)
	require.True(t, a.Mtime.Equal(mtime))

	a, err = wfs.Setattr(n, lower.SetAttr{})
	require.NoError(t, err)
	require.Equal(t, int64(2), a.Size)
}

func TestSetattrErrors(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	f := create(t, wfs, root, "f")
	defer f.Put()
	d := mkdir(t, wfs, root, "d")
	defer d.Put()
	neg := lookup(t, root, "neg")
	defer neg.Put()

	_, err := wfs.Setattr(d, setSize(0))
	require.ErrorIs(t, err, syscall.EISDIR)
	_, err = wfs.Setattr(f, setSize(-1))
	require.ErrorIs(t, err, syscall.EINVAL)
	_, err = wfs.Setattr(neg, chmodAttr(0o600))
	require.ErrorIs(t, err, syscall.ENOENT)

	require.NoError(t, wfs.Remount(ReadOnly))
	_, err = wfs.Setattr(f, chmodAttr(0o600))
	require.ErrorIs(t, err, syscall.EROFS)
}

func TestSetattrKillSuid(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	n := create(t, wfs, root, "suid")
	defer n.Put()

	a, err := wfs.Setattr(n, chmodAttr(0o755|os.ModeSetuid|os.ModeSetgid))
	require.NoError(t, err)
	require.NotZero(t, a.Mode&os.ModeSetuid)

	// the requested mode is ignored, the set-id bits are cleared below
	m := os.FileMode(0o700)
	a, err = wfs.Setattr(n, lower.SetAttr{Mode: &m, KillSuid: true})
	require.NoError(t, err)
	require.Zero(t, a.Mode&(os.ModeSetuid|os.ModeSetgid))
	require.Equal(t, os.FileMode(0o755), a.Mode.Perm())

	a, err = wfs.Setattr(n, lower.SetAttr{KillSuid: true})
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), a.Mode.Perm())
}

func TestSetattrUnlinked(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	n := create(t, wfs, root, "f")
	defer n.Put()

	f, err := wfs.Open(n, os.O_RDWR)
	require.NoError(t, err)
	defer f.Release()
	require.NoError(t, wfs.Unlink(root, n))

	_, err = wfs.Setattr(n, setSize(0))
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestReadlinkNotSymlink(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	f := create(t, wfs, root, "f")
	defer f.Put()
	neg := lookup(t, root, "neg")
	defer neg.Put()

	_, err := wfs.Readlink(f)
	require.ErrorIs(t, err, syscall.EINVAL)
	_, err = wfs.Readlink(neg)
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestAccess(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	f := create(t, wfs, root, "f")
	defer f.Put()
	_, err := wfs.Setattr(f, chmodAttr(0o640))
	require.NoError(t, err)
	d := mkdir(t, wfs, root, "d")
	defer d.Put()
	_, err = wfs.Setattr(d, chmodAttr(0o600))
	require.NoError(t, err)
	neg := lookup(t, root, "neg")
	defer neg.Put()

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	if uid != 0 {
		require.NoError(t, wfs.Access(f, MayRead|MayWrite, uid, gid))
		require.ErrorIs(t, wfs.Access(f, MayExec, uid, gid), syscall.EACCES)
	}

	// group members may only read, everyone else gets nothing
	require.NoError(t, wfs.Access(f, MayRead, uid+1, gid))
	require.ErrorIs(t, wfs.Access(f, MayWrite, uid+1, gid), syscall.EACCES)
	require.ErrorIs(t, wfs.Access(f, MayRead, uid+1, gid+1), syscall.EACCES)

	// root passes everything except executing a file nobody may execute
	require.NoError(t, wfs.Access(f, MayRead|MayWrite, 0, 0))
	require.ErrorIs(t, wfs.Access(f, MayExec, 0, 0), syscall.EACCES)
	require.NoError(t, wfs.Access(d, MayExec, 0, 0))

	require.ErrorIs(t, wfs.Access(neg, MayRead, uid, gid), syscall.ENOENT)

	require.NoError(t, wfs.Remount(ReadOnly))
	require.ErrorIs(t, wfs.Access(f, MayWrite, 0, 0), syscall.EROFS)
	require.NoError(t, wfs.Access(f, MayRead, 0, 0))
}
