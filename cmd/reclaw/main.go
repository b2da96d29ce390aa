// Package main provides the entry point for the reclaw CLI.
package main

import (
	"os"

	"github.com/reclaw/reclaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
