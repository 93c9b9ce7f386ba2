package main

import (
	"os"

	"ex-scribe/cmd/scribectl/commands"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)

	// Errors are already printed by the printer package.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
