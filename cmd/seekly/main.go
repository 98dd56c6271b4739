// Package main provides the entry point for the seekly CLI.
package main

import (
	"os"

	"github.com/h12/seekly/cmd/seekly/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
