// Package main is the entry point for the emuhub CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "emuhub:", err)
		os.Exit(1)
	}
}
