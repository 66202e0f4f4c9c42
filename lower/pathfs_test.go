package lower

import (
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/absfs/memfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestAbsFSBackend(t *testing.T) {
	mfs, err := memfs.NewFS()
	require.NoError(t, err)
	fsys := NewAbsFS(mfs)

	require.NoError(t, fsys.Mkdir("/dir", 0o755))
	require.NoError(t, fsys.Create("/dir/file", 0o644))
	require.ErrorIs(t, fsys.Create("/dir/file", 0o644), syscall.EEXIST)

	f, err := fsys.Open("/dir/file", os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
	require.NoError(t, f.Close())

	attr, err := fsys.Lstat("/dir/file")
	require.NoError(t, err)
	require.Equal(t, int64(7), attr.Size)

	require.NoError(t, fsys.Unlink("/dir/file"))
	_, err = fsys.Lstat("/dir/file")
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestPathFSIdentityFollowsRename(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/a/sub", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/a/sub/f", nil, 0o644))
	fsys := NewAfero(mem)

	before, err := fsys.Lstat("/a/sub/f")
	require.NoError(t, err)
	dir, err := fsys.Lstat("/a")
	require.NoError(t, err)

	require.NoError(t, fsys.Rename("/a", "/b"))

	after, err := fsys.Lstat("/b/sub/f")
	require.NoError(t, err)
	require.Equal(t, before.Ident, after.Ident)
	moved, err := fsys.Lstat("/b")
	require.NoError(t, err)
	require.Equal(t, dir.Ident, moved.Ident)

	require.NoError(t, fsys.Create("/a", 0o644))
	fresh, err := fsys.Lstat("/a")
	require.NoError(t, err)
	require.NotEqual(t, dir.Ident, fresh.Ident)
}

func TestPathFSRenameChecks(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/d/inner", 0o755))
	require.NoError(t, mem.MkdirAll("/empty", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/f", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/g", []byte("yy"), 0o644))
	fsys := NewAfero(mem)

	require.ErrorIs(t, fsys.Rename("/d", "/d/inner/x"), syscall.EINVAL)
	require.ErrorIs(t, fsys.Rename("/f", "/d"), syscall.EISDIR)
	require.ErrorIs(t, fsys.Rename("/d", "/f"), syscall.ENOTDIR)
	require.ErrorIs(t, fsys.Rename("/empty", "/d"), syscall.ENOTEMPTY)
	require.ErrorIs(t, fsys.Rename("/missing", "/x"), syscall.ENOENT)

	require.NoError(t, fsys.Rename("/f", "/g"))
	attr, err := fsys.Lstat("/g")
	require.NoError(t, err)
	require.Equal(t, int64(1), attr.Size)
	_, err = fsys.Lstat("/f")
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestPathFSUnsupported(t *testing.T) {
	fsys := NewAfero(afero.NewMemMapFs())
	require.NoError(t, fsys.Create("/f", 0o644))

	require.ErrorIs(t, fsys.Link("/f", "/g"), syscall.ENOTSUP)
	require.ErrorIs(t, fsys.Mknod("/p", os.ModeNamedPipe|0o644, 0), syscall.ENOTSUP)
	require.ErrorIs(t, fsys.Symlink("/f", "/l"), syscall.ENOTSUP)
	require.ErrorIs(t, fsys.Mkdir("/missing/dir", 0o755), syscall.ENOENT)
	require.ErrorIs(t, fsys.Unlink("/"), syscall.EISDIR)
	require.NoError(t, fsys.Mknod("/reg", 0o600, 0))

	st, err := fsys.Statfs()
	require.NoError(t, err)
	require.Equal(t, uint32(maxNameLen), st.NameLen)
}
