package fusefs

import (
	"context"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/absfs/wrapfs"
	"github.com/absfs/wrapfs/lower"
)

// node is the go-fuse face of a wrapfs node
type node struct {
	fs.Inode
	srv *Server

	mu sync.Mutex
	n  *wrapfs.Node
}

var (
	_ fs.NodeLookuper    = (*node)(nil)
	_ fs.NodeGetattrer   = (*node)(nil)
	_ fs.NodeSetattrer   = (*node)(nil)
	_ fs.NodeReadlinker  = (*node)(nil)
	_ fs.NodeAccesser    = (*node)(nil)
	_ fs.NodeStatfser    = (*node)(nil)
	_ fs.NodeOpener      = (*node)(nil)
	_ fs.NodeReaddirer   = (*node)(nil)
	_ fs.NodeCreater     = (*node)(nil)
	_ fs.NodeMkdirer     = (*node)(nil)
	_ fs.NodeMknoder     = (*node)(nil)
	_ fs.NodeSymlinker   = (*node)(nil)
	_ fs.NodeLinker      = (*node)(nil)
	_ fs.NodeUnlinker    = (*node)(nil)
	_ fs.NodeRmdirer     = (*node)(nil)
	_ fs.NodeRenamer     = (*node)(nil)
	_ fs.NodeOnForgetter = (*node)(nil)
)

func (nd *node) wfs() *wrapfs.FS { return nd.srv.wfs }

// get returns the wrapfs node with a reference the caller must Put
func (nd *node) get() (*wrapfs.Node, syscall.Errno) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.n == nil {
		return nil, syscall.ESTALE
	}
	return nd.n.Get(), 0
}

// adopt is called when a lookup under another name found this inode.
// An unhashed node is swapped for the live one.
func (nd *node) adopt(n *wrapfs.Node) {
	nd.mu.Lock()
	old := nd.n
	if old != nil && old.Hashed() {
		nd.mu.Unlock()
		n.Put()
		return
	}
	nd.n = n
	nd.mu.Unlock()
	if old != nil {
		old.Put()
	}
}

func (nd *node) release() {
	nd.mu.Lock()
	n := nd.n
	nd.n = nil
	nd.mu.Unlock()
	if n != nil {
		n.Put()
	}
}

// OnForget drops the inode's node reference
func (nd *node) OnForget() {
	nd.release()
}

// child wraps the positive wrapfs node c in an inode. It takes over the
// caller's reference on c.
func (nd *node) child(ctx context.Context, c *wrapfs.Node, a lower.Attr, out *fuse.EntryOut) *fs.Inode {
	fillAttr(&out.Attr, a)
	fresh := &node{srv: nd.srv, n: c}
	ch := nd.NewInode(ctx, fresh, fs.StableAttr{
		Mode: unixMode(a.Mode) & syscall.S_IFMT,
		Ino:  a.Ident.Ino,
		Gen:  1,
	})
	if existing, ok := ch.Operations().(*node); ok && existing != fresh {
		existing.adopt(c)
	}
	return ch
}

// lookupChild returns the wrapfs node for name below nd with a reference
func (nd *node) lookupChild(name string) (dir, c *wrapfs.Node, errno syscall.Errno) {
	dir, errno = nd.get()
	if errno != 0 {
		return nil, nil, errno
	}
	c, err := nd.wfs().Lookup(dir, name)
	if err != nil {
		dir.Put()
		return nil, nil, toErrno(err)
	}
	return dir, c, 0
}

func (nd *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	dir, c, errno := nd.lookupChild(name)
	if errno != 0 {
		return nil, errno
	}
	defer dir.Put()
	if c.Negative() {
		c.Put()
		return nil, syscall.ENOENT
	}
	a, err := nd.wfs().Getattr(c)
	if err != nil {
		c.Put()
		return nil, toErrno(err)
	}
	return nd.child(ctx, c, a, out), 0
}

func (nd *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n, errno := nd.get()
	if errno != 0 {
		return errno
	}
	defer n.Put()
	a, err := nd.wfs().Getattr(n)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (nd *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n, errno := nd.get()
	if errno != 0 {
		return errno
	}
	defer n.Put()
	a, err := nd.wfs().Setattr(n, setAttr(in))
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (nd *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	n, errno := nd.get()
	if errno != 0 {
		return nil, errno
	}
	defer n.Put()
	target, err := nd.wfs().Readlink(n)
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), 0
}

func (nd *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	n, errno := nd.get()
	if errno != 0 {
		return errno
	}
	defer n.Put()
	var uid, gid uint32
	if caller, ok := fuse.FromContext(ctx); ok {
		uid, gid = caller.Uid, caller.Gid
	}
	return toErrno(nd.wfs().Access(n, mask, uid, gid))
}

func (nd *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, err := nd.wfs().Statfs()
	if err != nil {
		return toErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.NameLen = st.NameLen
	return 0
}

func (nd *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n, errno := nd.get()
	if errno != 0 {
		return nil, 0, errno
	}
	defer n.Put()
	f, err := nd.wfs().Open(n, int(flags))
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &handle{f: f}, 0, 0
}

func (nd *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n, errno := nd.get()
	if errno != 0 {
		return nil, errno
	}
	defer n.Put()
	f, err := nd.wfs().Open(n, os.O_RDONLY)
	if err != nil {
		return nil, toErrno(err)
	}
	defer f.Release()
	ents, err := f.Readdir(-1)
	if err != nil && err != io.EOF {
		return nil, toErrno(err)
	}
	list := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		list = append(list, fuse.DirEntry{
			Name: e.Name,
			Ino:  e.Ino,
			Mode: unixMode(e.Mode) & syscall.S_IFMT,
		})
	}
	return fs.NewListDirStream(list), 0
}

// create runs mk for the negative node of name and wraps the result
func (nd *node) create(ctx context.Context, name string, out *fuse.EntryOut, mk func(dir, c *wrapfs.Node) error) (*wrapfs.Node, *fs.Inode, syscall.Errno) {
	dir, c, errno := nd.lookupChild(name)
	if errno != 0 {
		return nil, nil, errno
	}
	defer dir.Put()
	if !c.Negative() {
		c.Put()
		return nil, nil, syscall.EEXIST
	}
	if err := mk(dir, c); err != nil {
		c.Put()
		return nil, nil, toErrno(err)
	}
	a, err := nd.wfs().Getattr(c)
	if err != nil {
		c.Put()
		return nil, nil, toErrno(err)
	}
	return c, nd.child(ctx, c.Get(), a, out), 0
}

func (nd *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	c, ch, errno := nd.create(ctx, name, out, func(dir, c *wrapfs.Node) error {
		return nd.wfs().Create(dir, c, os.FileMode(mode).Perm())
	})
	if errno != 0 {
		return nil, nil, 0, errno
	}
	defer c.Put()
	f, err := nd.wfs().Open(c, int(flags))
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	return ch, &handle{f: f}, 0, 0
}

func (nd *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	c, ch, errno := nd.create(ctx, name, out, func(dir, c *wrapfs.Node) error {
		return nd.wfs().Mkdir(dir, c, os.FileMode(mode).Perm())
	})
	if errno != 0 {
		return nil, errno
	}
	c.Put()
	return ch, 0
}

func (nd *node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	c, ch, errno := nd.create(ctx, name, out, func(dir, c *wrapfs.Node) error {
		return nd.wfs().Mknod(dir, c, fileMode(mode), uint64(dev))
	})
	if errno != 0 {
		return nil, errno
	}
	c.Put()
	return ch, 0
}

func (nd *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	c, ch, errno := nd.create(ctx, name, out, func(dir, c *wrapfs.Node) error {
		return nd.wfs().Symlink(dir, c, target)
	})
	if errno != 0 {
		return nil, errno
	}
	c.Put()
	return ch, 0
}

func (nd *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	tnode, ok := target.(*node)
	if !ok {
		return nil, syscall.EXDEV
	}
	old, errno := tnode.get()
	if errno != 0 {
		return nil, errno
	}
	defer old.Put()
	c, ch, errno := nd.create(ctx, name, out, func(dir, c *wrapfs.Node) error {
		return nd.wfs().Link(old, dir, c)
	})
	if errno != 0 {
		return nil, errno
	}
	c.Put()
	return ch, 0
}

// remove looks name up and runs rm on it
func (nd *node) remove(name string, rm func(dir, c *wrapfs.Node) error) syscall.Errno {
	dir, c, errno := nd.lookupChild(name)
	if errno != 0 {
		return errno
	}
	defer dir.Put()
	defer c.Put()
	if c.Negative() {
		return syscall.ENOENT
	}
	return toErrno(rm(dir, c))
}

func (nd *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return nd.remove(name, nd.wfs().Unlink)
}

func (nd *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return nd.remove(name, nd.wfs().Rmdir)
}

func (nd *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	oldDir, old, errno := nd.lookupChild(name)
	if errno != 0 {
		return errno
	}
	defer oldDir.Put()
	defer old.Put()
	newDir, target, errno := np.lookupChild(newName)
	if errno != 0 {
		return errno
	}
	defer newDir.Put()
	defer target.Put()
	return toErrno(nd.wfs().Rename(oldDir, old, newDir, target, flags))
}
