/*
Package main is the entry point for vcctl, the vectorcache control CLI.

Usage:

	vcctl [command]

Available Commands:

	status       Show worker health
	search       Search cached tool responses
	fetch        Fetch a cached response by point id
	analytics    Count cached responses by tool, service or day
	resource     Read a qdrant:// resource
	cleanup      Delete cached responses older than the retention window
	reindex      Rebuild payload indexes in the background
	clear-cache  Delete every cached response
*/
package main

import (
	"fmt"
	"os"

	"github.com/thebtf/vectorcache/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := cli.NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
