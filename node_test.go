package wrapfs

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/absfs/wrapfs/lower"
)

func TestNodeCachedAfterPut(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()

	n := create(t, wfs, root, "f")
	id := n.ID()
	n.Put()
	require.Equal(t, int32(0), n.Refs())
	require.True(t, n.Hashed())
	require.Equal(t, int64(2), wfs.Nodes())

	again := lookup(t, root, "f")
	defer again.Put()
	require.Equal(t, id, again.ID())
}

func TestPrune(t *testing.T) {
	mem, wfs := newMount(t)
	require.NoError(t, mem.MkdirAll("/data/a/b", 0o755))
	require.NoError(t, afero.WriteFile(mem, "/data/a/b/f", nil, 0o644))

	held, err := wfs.Resolve("/a/b/f", false)
	require.NoError(t, err)
	neg, err := wfs.Resolve("/a/missing", false)
	require.NoError(t, err)
	neg.Put()
	require.Equal(t, int64(5), wfs.Nodes())

	// a held node keeps its ancestors
	require.Equal(t, 1, wfs.Prune())
	require.Equal(t, int64(4), wfs.Nodes())
	require.Equal(t, 4, wfs.Objects().Len())

	held.Put()
	require.Equal(t, 3, wfs.Prune())
	require.Equal(t, int64(1), wfs.Nodes())
	require.Equal(t, 1, wfs.Objects().Len())
	require.Equal(t, 0, wfs.Prune())
}

func TestNodeParentReference(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	d := mkdir(t, wfs, root, "d")
	f := create(t, wfs, d, "f")
	d.Put()

	require.Equal(t, int32(1), d.Refs(), "the child pins its parent")
	f.Put()
	require.Equal(t, int32(1), d.Refs(), "a cached child still pins its parent")

	require.Equal(t, 2, wfs.Prune())
	require.Equal(t, int64(1), wfs.Nodes())
}

func TestDropSubtree(t *testing.T) {
	mem, wfs := newMount(t)
	require.NoError(t, mem.MkdirAll("/data/d/e", 0o755))
	root := wfs.Root()
	defer root.Put()

	e, err := wfs.Resolve("/d/e", false)
	require.NoError(t, err)
	d := e.Parent()
	require.Equal(t, "d", d.Name())

	d.drop()
	require.False(t, d.Hashed())
	require.False(t, e.Hashed())
	require.Equal(t, int64(3), wfs.Nodes())

	e.Put()
	require.Equal(t, int64(1), wfs.Nodes())
	require.Equal(t, 1, wfs.Objects().Len())
}

func TestSpliceKeepsExisting(t *testing.T) {
	mem, wfs := newMount(t)
	require.NoError(t, afero.WriteFile(mem, "/data/f", nil, 0o644))
	root := wfs.Root()
	defer root.Put()

	first, err := wfs.interpose(root, "f")
	require.NoError(t, err)
	defer first.Put()
	second, err := wfs.interpose(root, "f")
	require.NoError(t, err)
	defer second.Put()

	require.Same(t, first, second)
	require.Equal(t, int64(2), wfs.Nodes())
}

func TestSpliceReplacesStale(t *testing.T) {
	mem, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()

	neg := lookup(t, root, "f")
	defer neg.Put()
	require.True(t, neg.Negative())

	require.NoError(t, afero.WriteFile(mem, "/data/f", nil, 0o644))
	pos, err := wfs.interpose(root, "f")
	require.NoError(t, err)
	defer pos.Put()

	require.NotSame(t, neg, pos)
	require.False(t, pos.Negative())
	require.False(t, neg.Hashed())
	require.True(t, pos.Hashed())
}

func TestBackingRefReset(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()
	n := create(t, wfs, root, "f")
	defer n.Put()

	const readers = 16
	var (
		g     errgroup.Group
		start sync.WaitGroup
		mu    sync.Mutex
		seen  []backingRef
	)
	start.Add(1)
	for i := 0; i < readers; i++ {
		g.Go(func() error {
			start.Wait()
			for j := 0; j < 100; j++ {
				ref := n.getRef()
				mu.Lock()
				seen = append(seen, ref)
				mu.Unlock()
				ref.release()
			}
			return nil
		})
	}
	g.Go(func() error {
		start.Wait()
		n.releaseAndReset()
		return nil
	})
	start.Done()
	require.NoError(t, g.Wait())

	for _, ref := range seen {
		require.Equal(t, ref.entry == nil, ref.mnt == nil, "a reference is never half reset")
	}
	require.False(t, n.getRef().valid())
}

func TestBackingRefClone(t *testing.T) {
	_, wfs := newMount(t)
	root := wfs.Root()
	defer root.Put()

	ref := root.getRef()
	require.True(t, ref.valid())
	entryRefs, mntRefs := ref.entry.Refs(), ref.mnt.Refs()

	clone := ref.clone()
	require.Equal(t, entryRefs+1, ref.entry.Refs())
	require.Equal(t, mntRefs+1, ref.mnt.Refs())
	clone.release()
	ref.release()
	require.Equal(t, entryRefs-1, ref.entry.Refs())

	require.False(t, backingRef{}.clone().valid())
	backingRef{}.release()
}

func TestObjectKind(t *testing.T) {
	require.Equal(t, "regular", Regular.String())
	require.Equal(t, "directory", Directory.String())
	require.Equal(t, "symlink", Symlink.String())
	require.Equal(t, "special", Special.String())
}

func TestCacheLookupOrCreate(t *testing.T) {
	c := newCache()
	id := lower.Ident{Dev: 1, Ino: 2}

	const workers = 32
	objs := make([]*Object, workers)
	var (
		g       errgroup.Group
		mu      sync.Mutex
		created int
	)
	for i := range objs {
		i := i
		g.Go(func() error {
			obj, fresh := c.lookupOrCreate(id, func() *Object {
				return newObject(nil, id)
			})
			if fresh {
				mu.Lock()
				created++
				mu.Unlock()
			}
			objs[i] = obj
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, created)
	for _, obj := range objs {
		require.Same(t, objs[0], obj)
	}
	require.Equal(t, int32(workers), objs[0].Refs())

	st := c.Stats()
	require.Equal(t, 1, st.Objects)
	require.Equal(t, uint64(workers-1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
}

func TestCacheReplacesDyingObject(t *testing.T) {
	c := newCache()
	id := lower.Ident{Dev: 1, Ino: 2}

	old, _ := c.lookupOrCreate(id, func() *Object { return newObject(nil, id) })
	old.refs.Store(0)
	require.Nil(t, c.lookup(id))

	fresh, created := c.lookupOrCreate(id, func() *Object { return newObject(nil, id) })
	require.True(t, created)
	require.NotSame(t, old, fresh)
	require.Equal(t, uint64(1), c.Stats().Races)

	// a late removal of the old object leaves the new one alone
	c.remove(old)
	require.Equal(t, 1, c.Len())
	c.remove(fresh)
	require.Equal(t, 0, c.Len())
}
