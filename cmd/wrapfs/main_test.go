package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.SetFlags(fs)
	require.NoError(t, fs.Parse(args))

	log := logrus.New()
	log.SetOutput(io.Discard)
	return cmd.Execute(context.Background(), fs, log)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	require.Equal(t, subcommands.ExitSuccess, run(t, new(List), dir))
	require.Equal(t, subcommands.ExitSuccess, run(t, new(List), "-l", dir, "/sub"))
	require.Equal(t, subcommands.ExitFailure, run(t, new(List), dir, "/missing"))
	require.Equal(t, subcommands.ExitUsageError, run(t, new(List)))
}

func TestStatfs(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, subcommands.ExitSuccess, run(t, new(Statfs), dir))
	require.Equal(t, subcommands.ExitFailure, run(t, new(Statfs), filepath.Join(dir, "missing")))
	require.Equal(t, subcommands.ExitUsageError, run(t, new(Statfs)))
}

func TestMountUsage(t *testing.T) {
	require.Equal(t, subcommands.ExitUsageError, run(t, new(Mount), "/only-source"))
	require.Equal(t, subcommands.ExitFailure, run(t, new(Mount), filepath.Join(t.TempDir(), "missing"), t.TempDir()))
}
