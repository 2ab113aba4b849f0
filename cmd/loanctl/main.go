// Command loanctl previews amortization schedules and late fees without a
// database.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&scheduleCmd{out: os.Stdout}, "")
	commander.Register(&lateFeeCmd{out: os.Stdout}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
