// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/traceinject/core/decl"
	"github.com/traceinject/core/inject"
	"github.com/traceinject/core/module"
	"github.com/traceinject/core/target"
	"golang.org/x/sys/unix"
)

func pokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poke <binary>",
		Short: "Define mov rax,42; ret, run it through a scratch stack, and confirm rax==42 at the trap",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			poke(args[0])
		},
	}
}

// poke reproduces end-to-end scenario 1: declare foo (no imports),
// define mov rax,42; ret, finalize, allocate a stack whose return
// address is the module's breakpoint trap, point the tracee at foo
// with that stack, and confirm the next SIGTRAP lands one byte past
// the trap with rax == 42.
func poke(path string) {
	tr, err := target.Launch(path, []string{path})
	if err != nil {
		exitf("poke: Launch: %v", err)
	}

	ctx := inject.New(tr, 0)
	m, err := module.New(ctx, func(string) uint64 { return 0 }, nil)
	if err != nil {
		exitf("poke: module.New: %v", err)
	}

	id, err := m.DeclareFunction("foo", decl.Local, decl.FuncSig{})
	if err != nil {
		exitf("poke: DeclareFunction: %v", err)
	}
	code := []byte{0x48, 0xc7, 0xc0, 0x2a, 0x00, 0x00, 0x00, 0xc3} // mov rax,42; ret
	if err := m.DefineFunctionBytes("foo", code); err != nil {
		exitf("poke: DefineFunctionBytes: %v", err)
	}
	if err := m.FinalizeAll(); err != nil {
		exitf("poke: FinalizeAll: %v", err)
	}

	fnAddr := m.LookupFunction(id)
	stackTop, err := m.NewStack(4096)
	if err != nil {
		exitf("poke: NewStack: %v", err)
	}

	var regs unix.PtraceRegs
	if err := target.GetRegs(tr, &regs); err != nil {
		exitf("poke: GetRegs: %v", err)
	}
	regs.Rip = fnAddr
	regs.Rsp = stackTop
	if err := target.SetRegs(tr, &regs); err != nil {
		exitf("poke: SetRegs: %v", err)
	}

	if err := target.Cont(tr, 0); err != nil {
		exitf("poke: Cont: %v", err)
	}
	pid, err := target.Pid(tr)
	if err != nil {
		exitf("poke: %v", err)
	}
	_, status, err := target.Wait(tr, pid)
	if err != nil {
		exitf("poke: Wait: %v", err)
	}
	if !status.Stopped() || status.StopSignal() != unix.SIGTRAP {
		exitf("poke: unexpected wait status %#x", uint32(status))
	}

	if err := target.GetRegs(tr, &regs); err != nil {
		exitf("poke: GetRegs: %v", err)
	}
	trap := m.BreakpointTrap()
	if regs.Rip != trap+1 {
		exitf("poke: stopped at pc=%#x, want %#x (trap+1)", regs.Rip, trap+1)
	}
	if regs.Rax != 42 {
		exitf("poke: rax=%d, want 42", regs.Rax)
	}
	fmt.Println("ok: foo() returned 42, landed at the breakpoint trap as expected")
}
