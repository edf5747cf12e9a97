// Package main provides the entry point for the reposync CLI.
package main

import (
	"os"

	"github.com/axiomcode/reposync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
