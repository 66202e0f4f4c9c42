// Binary wrapfs mounts a host directory through a wrapfs pass-through
// layer.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	debug   = flag.Bool("debug", false, "enable debug logging.")
	logJSON = flag.Bool("log-json", false, "log in JSON format.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(new(Mount), "")
	subcommands.Register(new(List), "")
	subcommands.Register(new(Statfs), "")

	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	if *logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx, log)))
}

// fatalf logs the error and returns the failure status
func fatalf(log logrus.FieldLogger, format string, args ...any) subcommands.ExitStatus {
	log.Errorf(format, args...)
	return subcommands.ExitFailure
}
