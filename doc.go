/*
Package wrapfs provides a stackable pass-through filesystem for Go.

# Overview

A wrapfs mount mirrors one directory of a lower filesystem. Every
operation is forwarded to the lower filesystem, and the mount keeps its
own namespace cache and object identities on top of the lower ones. It
is the starting point for filesystems that want to intercept, observe or
transform operations without storing anything themselves.

# Key Features

  - One upper Object per lower inode, shared by every name that leads to it
  - Cached namespace nodes, including negative ones for missing names
  - Namespace changes checked against concurrent lower renames
  - Attributes mirrored from the lower filesystem after each operation
  - Open files forwarded to lower files, memory mappings included
  - Host, afero and absfs lower filesystems (see package lower)
  - An absfs.SymlinkFileSystem view and a FUSE front end (package fusefs)

# Architecture

The mount is built from a few parts:

  - Node: an entry of the upper namespace bound to a lower entry through
    a reference that pins both the entry and the lower mount
  - Object: the upper view of a lower inode, found through the identity
    cache keyed by the lower (device, inode) pair
  - Lookup: resolves a name by looking it up below, then splicing a new
    node into the cache or reusing the one a concurrent lookup won with
  - Namespace operations: lock the lower parent directories, check the
    lower entries are still where the upper nodes say, run the lower
    primitive and mirror the attributes it changed
  - File: an open file forwarding I/O to a lower file

Lookups never leave the lower device the mount started on: reaching an
object on another device fails with ErrCrossedBackend.

# Basic Usage

	package main

	import (
	    "log"

	    "github.com/absfs/wrapfs"
	    "github.com/absfs/wrapfs/lower"
	    "github.com/spf13/afero"
	)

	func main() {
	    mem := afero.NewMemMapFs()
	    afero.WriteFile(mem, "/data/hello.txt", []byte("hello"), 0644)

	    wfs, err := wrapfs.Mount("/data", wrapfs.WithLower(lower.NewAfero(mem)))
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer wfs.Unmount(0)

	    fs := wfs.FileSystem()
	    data, err := fs.ReadFile("/hello.txt")
	}

# Node Operations

The node API is what a kernel-facing front end uses:

	root := wfs.Root()
	defer root.Put()

	n, err := root.Lookup("new.txt") // negative node
	err = wfs.Create(root, n, 0644)
	f, err := wfs.Open(n, os.O_RDWR)
	f.Write([]byte("data"))
	f.Release()
	n.Put()

Every node and object returned carries a reference that the caller drops
with Put.

# Mount Flags

Mounts start read-write unless WithFlags(ReadOnly) is given. Remount
changes only ReadOnly, MandLock and Silent. Read-only mounts refuse every
namespace change, attribute change and writable open with EROFS.

# Errors

Failures are *os.PathError or *os.LinkError values wrapping a
syscall.Errno or one of the package sentinels. Each sentinel reports its
errno through Errno and matches it with errors.Is:

	errors.Is(err, wrapfs.ErrCrossedBackend) // true
	errors.Is(err, syscall.EXDEV)            // true as well

# Thread Safety

All operations are safe for concurrent use.
*/
package wrapfs
