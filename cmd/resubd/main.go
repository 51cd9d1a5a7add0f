// Command resubd runs the resuming GraphQL subscription proxy.
package main

import (
	"github.com/resubd/resubd/pkg/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.BuildDate = buildDate

	cli.Execute()
}
