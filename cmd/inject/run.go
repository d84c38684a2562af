// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/traceinject/core/bp"
	"github.com/traceinject/core/target"
)

func runCmd() *cobra.Command {
	var breakAt string
	cmd := &cobra.Command{
		Use:   "run <binary>",
		Short: "Launch a binary, set one breakpoint, resume, and report the stop",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if breakAt == "" {
				exitf("run: --break is required (a hex offset from the binary's first mapped address)")
			}
			offset, err := parseHex(breakAt)
			if err != nil {
				exitf("run: --break: %v", err)
			}
			runBinary(args[0], offset)
		},
	}
	cmd.Flags().StringVar(&breakAt, "break", "", "breakpoint address, as a hex offset from the binary's load base (e.g. 0x1139)")
	return cmd
}

func runBinary(path string, offset uint64) {
	tr, err := target.Launch(path, []string{path})
	if err != nil {
		exitf("run: Launch: %v", err)
	}

	pid, err := target.Pid(tr)
	if err != nil {
		exitf("run: %v", err)
	}
	base, err := target.FirstMappedBase(pid)
	if err != nil {
		exitf("run: FirstMappedBase: %v", err)
	}
	addr := base + offset

	mgr := bp.NewManager(tr)
	if err := mgr.Set(addr, nil); err != nil {
		exitf("run: Set: %v", err)
	}

	if err := mgr.Resume(); err != nil {
		exitf("run: Resume: %v", err)
	}
	event, err := mgr.NextEvent()
	if err != nil {
		exitf("run: NextEvent: %v", err)
	}
	reportEvent(event)
}

func reportEvent(e bp.Event) {
	if e.Exited {
		fmt.Printf("process exited, status %d\n", e.ExitCode)
		return
	}
	fmt.Printf("stopped: hit=%v pc=%#x sp=%#x\n", e.Hit, e.PC, e.SP)
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
