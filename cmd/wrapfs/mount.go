package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/absfs/wrapfs"
	"github.com/absfs/wrapfs/fusefs"
)

// Mount implements subcommands.Command for the "mount" command
type Mount struct {
	readOnly   bool
	allowOther bool
	fuseDebug  bool
	name       string
	timeout    time.Duration
}

// Name implements subcommands.Command.Name
func (*Mount) Name() string {
	return "mount"
}

// Synopsis implements subcommands.Command.Synopsis
func (*Mount) Synopsis() string {
	return "serve a host directory at a mountpoint"
}

// Usage implements subcommands.Command.Usage
func (*Mount) Usage() string {
	return `mount [flags] <source> <mountpoint> - mount <source> at <mountpoint>
and serve it until interrupted.
`
}

// SetFlags implements subcommands.Command.SetFlags
func (m *Mount) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.readOnly, "ro", false, "mount read-only.")
	f.BoolVar(&m.allowOther, "allow-other", false, "let other users access the mount.")
	f.BoolVar(&m.fuseDebug, "fuse-debug", false, "trace every FUSE request.")
	f.StringVar(&m.name, "name", "wrapfs", "filesystem name shown in the mount table.")
	f.DurationVar(&m.timeout, "timeout", 0, "kernel entry and attribute cache timeout.")
}

// Execute implements subcommands.Command.Execute
func (m *Mount) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	log := args[0].(*logrus.Logger)

	source, err := filepath.Abs(f.Arg(0))
	if err != nil {
		return fatalf(log, "resolving source: %v", err)
	}
	var flags wrapfs.MountFlags
	if m.readOnly {
		flags |= wrapfs.ReadOnly
	}

	wfs, err := wrapfs.Mount(source,
		wrapfs.WithLogger(log),
		wrapfs.WithFlags(flags),
		wrapfs.WithName(m.name),
	)
	if err != nil {
		return fatalf(log, "mounting %s: %v", source, err)
	}

	srv, err := fusefs.Mount(f.Arg(1), wfs, fusefs.Options{
		Debug:      m.fuseDebug,
		AllowOther: m.allowOther,
		Timeout:    m.timeout,
		Logger:     log,
	})
	if err != nil {
		wfs.Unmount(wrapfs.UnmountForce)
		return fatalf(log, "serving %s: %v", f.Arg(1), err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig).Info("unmounting")
		if err := srv.Unmount(); err != nil {
			log.WithError(err).Error("unmount failed, retry with fusermount -u")
		}
	}()

	srv.Wait()
	if err := wfs.Unmount(wrapfs.UnmountForce); err != nil {
		return fatalf(log, "tearing down: %v", err)
	}
	return subcommands.ExitSuccess
}
