// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bp implements the breakpoint manager: software breakpoints
// via INT3 poking, with the save/restore and single-step-over dance
// needed to keep a breakpoint transparent to the instruction stream
// underneath it.
package bp

import (
	"fmt"

	"github.com/traceinject/core/arch"
	"github.com/traceinject/core/target"
	"golang.org/x/sys/unix"
)

// Callback is invoked by NextEvent when the tracee stops at the
// breakpoint it is registered against.
type Callback func(Event)

// entry records what a breakpoint overwrote, so Remove and the
// step-over-own-breakpoint dance can put it back, plus the callback to
// run (and hand back to Remove) when the breakpoint traps.
type entry struct {
	orig   byte
	onTrap Callback
}

// Manager owns the set of active breakpoints for one Tracer and the
// state needed to step over whichever one the tracee is currently
// stopped on. Like target.TargetState, it is meant to be driven from a
// single goroutine; it issues its own Tracer dispatches and does not
// defend against concurrent callers.
type Manager struct {
	t       *target.Tracer
	entries map[uint64]entry

	started   bool
	stoppedAt uint64 // PC the tracee is stopped at, post-rewind; 0 before the first Resume
}

// NewManager returns a breakpoint manager for t. t must already be
// attached to a stopped tracee (e.g. via target.Launch, which leaves
// the tracee stopped at its initial SIGTRAP).
func NewManager(t *target.Tracer) *Manager {
	return &Manager{t: t, entries: make(map[uint64]entry)}
}

// ErrAlreadySet is returned by Set when a breakpoint already exists at
// addr.
type ErrAlreadySet struct{ Addr uint64 }

func (e *ErrAlreadySet) Error() string {
	return fmt.Sprintf("bp: breakpoint already set at %#x", e.Addr)
}

// Set arms a breakpoint at addr: the original byte is saved, onTrap is
// recorded against addr, and the trap is written into the tracee
// immediately so it is live even before the next Resume. onTrap may be
// nil if the caller only cares about the Event returned from NextEvent.
func (m *Manager) Set(addr uint64, onTrap Callback) error {
	if _, ok := m.entries[addr]; ok {
		return &ErrAlreadySet{Addr: addr}
	}
	var orig [arch.BreakpointSize]byte
	if err := target.PeekText(m.t, uintptr(addr), orig[:]); err != nil {
		return fmt.Errorf("bp: Set: %v", err)
	}
	m.entries[addr] = entry{orig: orig[0], onTrap: onTrap}
	if err := m.arm(addr); err != nil {
		delete(m.entries, addr)
		return fmt.Errorf("bp: Set: %v", err)
	}
	return nil
}

// Remove disarms the breakpoint at addr, restoring the original byte,
// and hands back the callback it was set with. Removing an address with
// no breakpoint is a no-op and returns a nil callback.
func (m *Manager) Remove(addr uint64) (Callback, error) {
	e, ok := m.entries[addr]
	if !ok {
		return nil, nil
	}
	if err := target.PokeText(m.t, uintptr(addr), []byte{e.orig}); err != nil {
		return nil, fmt.Errorf("bp: Remove: %v", err)
	}
	delete(m.entries, addr)
	return e.onTrap, nil
}

func (m *Manager) arm(addr uint64) error {
	return target.PokeText(m.t, uintptr(addr), []byte{arch.BreakpointInstr})
}

func (m *Manager) disarm(addr uint64, e entry) error {
	return target.PokeText(m.t, uintptr(addr), []byte{e.orig})
}

// Event describes why NextEvent returned.
type Event struct {
	// Hit is true when the tracee is stopped at an armed breakpoint;
	// PC and SP reflect the rewound registers (PC points at the
	// breakpoint's address, not one past it).
	Hit bool
	PC  uint64
	SP  uint64

	// Exited is true when the tracee ran to completion instead of
	// hitting a breakpoint; ExitCode is only meaningful then.
	Exited   bool
	ExitCode int
}

// Resume continues the tracee: if it is currently sitting on an armed
// breakpoint, disarm-step-rearm first so the original instruction
// actually executes once, then continue. Every registered breakpoint
// stays armed (byte 0xcc) throughout, including while the tracee is
// stopped; Resume never lifts them, it only ever steps around the one
// it is sitting on. Callers must follow Resume with NextEvent to learn
// how the tracee next stopped.
func (m *Manager) Resume() error {
	if !m.started {
		m.started = true
	} else if e, ok := m.entries[m.stoppedAt]; ok {
		if err := m.stepOverOwnBreakpoint(m.stoppedAt, e); err != nil {
			return fmt.Errorf("bp: Resume: %v", err)
		}
	}

	if err := target.Cont(m.t, 0); err != nil {
		return fmt.Errorf("bp: Resume: %v", err)
	}
	return nil
}

// NextEvent waits for the tracee to stop following a Resume. If the
// stop was a breakpoint trap, it rewinds PC by arch.BreakpointSize so
// the caller sees the address the breakpoint was set at rather than one
// past it, and invokes the breakpoint's on-trap callback (if any)
// before returning.
func (m *Manager) NextEvent() (Event, error) {
	pid, err := target.Pid(m.t)
	if err != nil {
		return Event{}, fmt.Errorf("bp: NextEvent: %v", err)
	}
	_, status, err := target.Wait(m.t, pid)
	if err != nil {
		return Event{}, fmt.Errorf("bp: NextEvent: %v", err)
	}

	if status.Exited() {
		return Event{Exited: true, ExitCode: status.ExitStatus()}, nil
	}

	var regs unix.PtraceRegs
	if err := target.GetRegs(m.t, &regs); err != nil {
		return Event{}, fmt.Errorf("bp: NextEvent: %v", err)
	}

	hit := false
	var e entry
	if e2, ok := m.entries[regs.Rip-arch.BreakpointSize]; ok {
		regs.Rip -= arch.BreakpointSize
		if err := target.SetRegs(m.t, &regs); err != nil {
			return Event{}, fmt.Errorf("bp: NextEvent: %v", err)
		}
		hit = true
		e = e2
	}

	m.stoppedAt = regs.Rip
	event := Event{Hit: hit, PC: regs.Rip, SP: regs.Rsp}
	if hit && e.onTrap != nil {
		e.onTrap(event)
	}
	return event, nil
}

// stepOverOwnBreakpoint temporarily restores the original instruction
// at addr, single-steps past it, then re-arms, so the breakpoint does
// not block its own instruction from ever executing.
func (m *Manager) stepOverOwnBreakpoint(addr uint64, e entry) error {
	if err := m.disarm(addr, e); err != nil {
		return err
	}
	if err := target.SingleStep(m.t); err != nil {
		return err
	}
	pid, err := target.Pid(m.t)
	if err != nil {
		return err
	}
	if _, _, err := target.Wait(m.t, pid); err != nil {
		return err
	}
	return m.arm(addr)
}
