package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs"
	"github.com/absfs/wrapfs/lower"
)

// List implements subcommands.Command for the "ls" command
type List struct {
	long bool
}

// Name implements subcommands.Command.Name
func (*List) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis
func (*List) Synopsis() string {
	return "list a directory through a wrapfs mount without FUSE"
}

// Usage implements subcommands.Command.Usage
func (*List) Usage() string {
	return `ls [flags] <source> [path] - mount <source> in process and list path.
`
}

// SetFlags implements subcommands.Command.SetFlags
func (l *List) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.long, "l", false, "show mode, links, owner and size.")
}

// Execute implements subcommands.Command.Execute
func (l *List) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	log := args[0].(*logrus.Logger)

	source, err := filepath.Abs(f.Arg(0))
	if err != nil {
		return fatalf(log, "resolving source: %v", err)
	}
	dir := "/"
	if f.NArg() == 2 {
		dir = f.Arg(1)
	}

	wfs, err := wrapfs.Mount(source, wrapfs.WithLogger(log), wrapfs.WithFlags(wrapfs.ReadOnly))
	if err != nil {
		return fatalf(log, "mounting %s: %v", source, err)
	}
	defer wfs.Unmount(wrapfs.UnmountForce)

	fsys := wfs.FileSystem()
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return fatalf(log, "listing %s: %v", dir, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		if !l.long {
			fmt.Println(e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.WithError(err).WithField("name", e.Name()).Warn("stat failed")
			continue
		}
		a, ok := info.Sys().(*lower.Attr)
		if !ok {
			fmt.Fprintf(w, "%v\t\t\t\t%d\t %s\t\n", info.Mode(), info.Size(), e.Name())
			continue
		}
		fmt.Fprintf(w, "%v\t%d\t%d\t%d\t%d\t %s\t\n", a.Mode, a.Nlink, a.Uid, a.Gid, a.Size, e.Name())
	}
	w.Flush()
	return subcommands.ExitSuccess
}
