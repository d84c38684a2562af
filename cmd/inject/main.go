// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command inject is a demo driver for the injection core: it launches a
// binary under ptrace and exercises the breakpoint manager and the
// injection module against it, the way demo/ptrace-linux-amd64 drives
// the older server package by hand but through the new actor-based
// core, with cobra in its intended role as a real subcommand dispatcher
// (cmd/viewcore's cobra import went unused by anything retrieved from
// that repo; this is the genuine article).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "inject",
		Short: "Drive the code-injection core against a test binary",
	}
	root.AddCommand(runCmd(), pokeCmd(), consoleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
