// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/traceinject/core/bp"
	"github.com/traceinject/core/target"
	"golang.org/x/sys/unix"
)

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <binary>",
		Short: "Launch a binary, then interactively set breakpoints and resume it",
		Long: "console is an operator's line-at-a-time front end over bp.Manager and " +
			"target.Tracer: it does not declare, define, or run compiled objects " +
			"the way the injection module does, it only launches the binary and " +
			"controls the debuggee's breakpoints and resume state.",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runConsole(args[0])
		},
	}
}

func runConsole(path string) {
	tr, err := target.Launch(path, []string{path})
	if err != nil {
		exitf("console: Launch: %v", err)
	}
	mgr := bp.NewManager(tr)

	rl, err := readline.New("inject> ")
	if err != nil {
		exitf("console: readline: %v", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return
		}
		if err != nil {
			exitf("console: %v", err)
		}
		if err := dispatchConsoleLine(mgr, tr, strings.TrimSpace(line)); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Println(err)
		}
	}
}

func dispatchConsoleLine(mgr *bp.Manager, tr *target.Tracer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "break":
		if len(fields) != 2 {
			return fmt.Errorf("usage: break <hex address>")
		}
		addr, err := parseHex(fields[1])
		if err != nil {
			return fmt.Errorf("break: %v", err)
		}
		return mgr.Set(addr, nil)

	case "resume":
		if err := mgr.Resume(); err != nil {
			return err
		}
		event, err := mgr.NextEvent()
		if err != nil {
			return err
		}
		reportEvent(event)
		return nil

	case "regs":
		var regs unix.PtraceRegs
		if err := target.GetRegs(tr, &regs); err != nil {
			return err
		}
		fmt.Printf("rip=%#x rsp=%#x rax=%#x\n", regs.Rip, regs.Rsp, regs.Rax)
		return nil

	case "quit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try: break <addr>, resume, regs, quit)", fields[0])
	}
}

var errQuit = errors.New("quit")
