// Package main is the entry point for the dape debug client.
package main

import (
	"os"

	"github.com/timcharper/dape/cmd/dape/cmds"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cmds.New(cmds.Version{Version: version, Commit: commit, Date: date}).Execute(); err != nil {
		os.Exit(1)
	}
}
