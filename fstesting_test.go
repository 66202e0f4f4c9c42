package wrapfs

import (
	"testing"

	"github.com/absfs/fstesting"
	"github.com/absfs/memfs"

	"github.com/absfs/wrapfs/lower"
)

// TestWrapFSSuite runs the fstesting suite against the absfs view of a
// mount over memfs. Hard links are off because path based lower
// filesystems cannot make them.
func TestWrapFSSuite(t *testing.T) {
	mfs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("failed to create lower filesystem: %v", err)
	}
	if err := mfs.MkdirAll("/export", 0755); err != nil {
		t.Fatalf("failed to create mount point: %v", err)
	}

	wfs, err := Mount("/export", WithLower(lower.NewAbsFS(mfs)), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("failed to mount: %v", err)
	}
	defer wfs.Unmount(UnmountForce)

	suite := &fstesting.Suite{
		FS: wfs.FileSystem(),
		Features: fstesting.Features{
			Symlinks:      true,
			HardLinks:     false,
			Permissions:   true,
			Timestamps:    true,
			CaseSensitive: true,
			AtomicRename:  true,
			SparseFiles:   false,
			LargeFiles:    true,
		},
	}

	suite.Run(t)
}
