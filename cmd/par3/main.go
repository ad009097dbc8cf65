package main

import (
	"os"

	"github.com/marmos91/par3/cmd/par3/commands"
	"github.com/marmos91/par3/pkg/par3err"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	err := commands.Execute()
	os.Exit(int(par3err.ReturnCode(err)))
}
