package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/absfs/wrapfs"
)

// Statfs implements subcommands.Command for the "statfs" command
type Statfs struct{}

// Name implements subcommands.Command.Name
func (*Statfs) Name() string {
	return "statfs"
}

// Synopsis implements subcommands.Command.Synopsis
func (*Statfs) Synopsis() string {
	return "print filesystem statistics as seen through wrapfs"
}

// Usage implements subcommands.Command.Usage
func (*Statfs) Usage() string {
	return `statfs <source> - print the statistics of the filesystem holding <source>.
`
}

// SetFlags implements subcommands.Command.SetFlags
func (*Statfs) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute
func (*Statfs) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	log := args[0].(*logrus.Logger)

	source, err := filepath.Abs(f.Arg(0))
	if err != nil {
		return fatalf(log, "resolving source: %v", err)
	}
	wfs, err := wrapfs.Mount(source, wrapfs.WithLogger(log), wrapfs.WithFlags(wrapfs.ReadOnly))
	if err != nil {
		return fatalf(log, "mounting %s: %v", source, err)
	}
	defer wfs.Unmount(wrapfs.UnmountForce)

	st, err := wfs.Statfs()
	if err != nil {
		return fatalf(log, "statfs: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fatalf(log, "encoding: %v", err)
	}
	return subcommands.ExitSuccess
}
