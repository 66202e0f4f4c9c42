package lower

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// OS is a lower FS rooted at a directory of the host filesystem. It
// reports real device and inode numbers, so hard links and crossed
// mount points are visible to the layer above.
type OS struct {
	root string
}

var _ FS = (*OS)(nil)

// NewOS returns an FS for the host directory root
func NewOS(root string) (*OS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: abs, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, &os.PathError{Op: "stat", Path: abs, Err: syscall.ENOTDIR}
	}
	return &OS{root: abs}, nil
}

// Root returns the host directory the FS is rooted at
func (o *OS) Root() string { return o.root }

func (o *OS) path(name string) string {
	return filepath.Join(o.root, filepath.FromSlash(path.Clean("/"+name)))
}

func (o *OS) Lstat(name string) (Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(o.path(name), &st); err != nil {
		return Attr{}, &os.PathError{Op: "lstat", Path: name, Err: err}
	}
	return attrFromStat(&st), nil
}

func (o *OS) Mkdir(name string, perm os.FileMode) error {
	if err := unix.Mkdir(o.path(name), unixMode(perm)&0o7777); err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return nil
}

func (o *OS) Create(name string, perm os.FileMode) error {
	fd, err := unix.Open(o.path(name), unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC, unixMode(perm)&0o7777)
	if err != nil {
		return &os.PathError{Op: "create", Path: name, Err: err}
	}
	return unix.Close(fd)
}

func (o *OS) Mknod(name string, mode os.FileMode, dev uint64) error {
	if err := unix.Mknod(o.path(name), unixMode(mode), int(dev)); err != nil {
		return &os.PathError{Op: "mknod", Path: name, Err: err}
	}
	return nil
}

func (o *OS) Symlink(target, name string) error {
	if err := unix.Symlink(target, o.path(name)); err != nil {
		return &os.LinkError{Op: "symlink", Old: target, New: name, Err: err}
	}
	return nil
}

func (o *OS) Link(oldname, newname string) error {
	if err := unix.Link(o.path(oldname), o.path(newname)); err != nil {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: err}
	}
	return nil
}

func (o *OS) Readlink(name string) (string, error) {
	for size := 128; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlink(o.path(name), buf)
		if err != nil {
			return "", &os.PathError{Op: "readlink", Path: name, Err: err}
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
}

func (o *OS) Unlink(name string) error {
	if err := unix.Unlink(o.path(name)); err != nil {
		return &os.PathError{Op: "unlink", Path: name, Err: err}
	}
	return nil
}

func (o *OS) Rmdir(name string) error {
	if err := unix.Rmdir(o.path(name)); err != nil {
		return &os.PathError{Op: "rmdir", Path: name, Err: err}
	}
	return nil
}

func (o *OS) Rename(oldname, newname string) error {
	if err := unix.Rename(o.path(oldname), o.path(newname)); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

func (o *OS) Open(name string, flag int) (File, error) {
	f, err := os.OpenFile(o.path(name), flag|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	return &osFile{File: f}, nil
}

func (o *OS) Setattr(name string, sa SetAttr) error {
	p := o.path(name)
	if sa.Mode != nil {
		if err := unix.Chmod(p, unixMode(*sa.Mode)&0o7777); err != nil {
			return &os.PathError{Op: "chmod", Path: name, Err: err}
		}
	}
	if sa.Uid != nil || sa.Gid != nil {
		uid, gid := -1, -1
		if sa.Uid != nil {
			uid = int(*sa.Uid)
		}
		if sa.Gid != nil {
			gid = int(*sa.Gid)
		}
		if err := unix.Lchown(p, uid, gid); err != nil {
			return &os.PathError{Op: "chown", Path: name, Err: err}
		}
	}
	if sa.Size != nil {
		if err := unix.Truncate(p, *sa.Size); err != nil {
			return &os.PathError{Op: "truncate", Path: name, Err: err}
		}
	}
	if sa.Atime != nil || sa.Mtime != nil {
		ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		if sa.Atime != nil {
			ts[0] = unix.NsecToTimespec(sa.Atime.UnixNano())
		}
		if sa.Mtime != nil {
			ts[1] = unix.NsecToTimespec(sa.Mtime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, p, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return &os.PathError{Op: "utimes", Path: name, Err: err}
		}
	}
	return nil
}

func (o *OS) Statfs() (Statfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(o.root, &st); err != nil {
		return Statfs{}, &os.PathError{Op: "statfs", Path: "/", Err: err}
	}
	return Statfs{
		Type:    int64(st.Type),
		Bsize:   int64(st.Bsize),
		Frsize:  int64(st.Frsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		NameLen: uint32(st.Namelen),
	}, nil
}

type osFile struct {
	*os.File
}

func (f *osFile) Readdir(n int) ([]DirEntry, error) {
	des, err := f.File.ReadDir(n)
	out := make([]DirEntry, 0, len(des))
	for _, de := range des {
		d := DirEntry{Name: de.Name(), Mode: de.Type()}
		if info, ierr := de.Info(); ierr == nil {
			if st, ok := info.Sys().(*syscall.Stat_t); ok {
				d.Ino = st.Ino
			}
		}
		out = append(out, d)
	}
	return out, err
}

func (f *osFile) Attr() (Attr, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return Attr{}, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return attrFromStat(&st), nil
}

func (f *osFile) Ioctl(cmd uint, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(cmd), arg)
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}

func (f *osFile) MapOps() (MapOps, error) { return osMapOps{f.File}, nil }

// osMapOps serves page faults with positional reads
type osMapOps struct {
	f *os.File
}

func (m osMapOps) Fault(off int64, page []byte) (int, error) {
	n, err := m.f.ReadAt(page, off)
	if err == io.EOF {
		err = nil
	}
	clear(page[n:])
	return n, err
}

func (m osMapOps) PageMkwrite(int64) error { return nil }

func (m osMapOps) Writable() bool { return true }

func attrFromStat(st *unix.Stat_t) Attr {
	return Attr{
		Ident:  Ident{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		Mode:   fileMode(uint32(st.Mode)),
		Nlink:  uint32(st.Nlink),
		Uid:    st.Uid,
		Gid:    st.Gid,
		Rdev:   uint64(st.Rdev),
		Size:   st.Size,
		Blocks: int64(st.Blocks),
		Atime:  time.Unix(st.Atim.Unix()),
		Mtime:  time.Unix(st.Mtim.Unix()),
		Ctime:  time.Unix(st.Ctim.Unix()),
	}
}

func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func unixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&os.ModeDir != 0:
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	default:
		m |= unix.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}
