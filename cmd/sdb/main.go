// Package main is the entry point for the sdb CLI tool.
package main

import (
	"os"

	"github.com/aidanlsb/semanticdb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
