// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inject implements the injection context: the single entry
// point that ties one traced process to the three region allocators
// (code, read-only data, read-write data) and its stack allocations.
package inject

import (
	"fmt"

	"github.com/traceinject/core/arch"
	"github.com/traceinject/core/memio"
	"github.com/traceinject/core/region"
	"github.com/traceinject/core/target"
)

// DefaultStackSize is a stack size, in bytes, offered to callers;
// AllocateStack does not apply it and always takes an explicit size.
// Stacks are carved out of read-write pages like any other read-write
// allocation;
// they get their own allocator instance only so a stack's lifetime
// policy (stacks are never reclaimed) can one day diverge from general
// read-write data without touching callers.
const DefaultStackSize = 64 * 1024

// Context is the top-level handle a caller holds on an injected
// process: one Tracer plus one bump allocator per protection class.
type Context struct {
	Tracer *target.Tracer

	code      *region.Allocator
	readonly  *region.Allocator
	readwrite *region.Allocator
	stack     *region.Allocator
}

// New wraps an already-attached Tracer with fresh allocators for all
// three protection classes plus the stack class, each backed by
// target.RemoteMmap on t. pageSize is the host's mmap granularity
// (pass 0 to use arch.PageSize).
func New(t *target.Tracer, pageSize uint64) *Context {
	mapper := func(size uint64, prot int) (uint64, error) {
		return target.RemoteMmap(t, size, prot)
	}
	return &Context{
		Tracer:    t,
		code:      region.New(region.Code, pageSize, mapper),
		readonly:  region.New(region.Readonly, pageSize, mapper),
		readwrite: region.New(region.ReadWrite, pageSize, mapper),
		stack:     region.New(region.ReadWrite, pageSize, mapper),
	}
}

// NewWithAllocators builds a Context directly from existing allocators,
// bypassing target.RemoteMmap. Production code wants New; this exists
// so a Context can be exercised against fake Mappers (backed by real
// local memory in a self-targeting Tracer, the same trick memio's tests
// use) without a real ptrace relationship.
func NewWithAllocators(t *target.Tracer, code, readonly, readwrite, stack *region.Allocator) *Context {
	return &Context{Tracer: t, code: code, readonly: readonly, readwrite: readwrite, stack: stack}
}

// AllocateCode reserves size bytes of executable space.
func (c *Context) AllocateCode(size, align uint64) (uint64, error) {
	addr, err := c.code.Allocate(size, align)
	if err != nil {
		return 0, fmt.Errorf("inject: AllocateCode: %v", err)
	}
	return addr, nil
}

// AllocateReadonly reserves size bytes of read-only data space.
func (c *Context) AllocateReadonly(size, align uint64) (uint64, error) {
	addr, err := c.readonly.Allocate(size, align)
	if err != nil {
		return 0, fmt.Errorf("inject: AllocateReadonly: %v", err)
	}
	return addr, nil
}

// AllocateReadWrite reserves size bytes of read-write data space.
func (c *Context) AllocateReadWrite(size, align uint64) (uint64, error) {
	addr, err := c.readwrite.Allocate(size, align)
	if err != nil {
		return 0, fmt.Errorf("inject: AllocateReadWrite: %v", err)
	}
	return addr, nil
}

// AllocateStack reserves size writable bytes aligned to 0x10 and writes
// returnAddr into the last machine word of the region, returning the
// address of that word. Loading that address into RSP before jumping
// to an injected function means the function's own `ret` pops
// returnAddr into RIP — the mechanism used to land back on a
// caller-chosen trap (typically the breakpoint trap slot) after an
// injected call completes.
func (c *Context) AllocateStack(size, returnAddr uint64) (uint64, error) {
	base, err := c.stack.Allocate(size, 0x10)
	if err != nil {
		return 0, fmt.Errorf("inject: AllocateStack: %v", err)
	}
	top := base + size - 8
	var word [8]byte
	arch.ByteOrder.PutUint64(word[:], returnAddr)
	if err := c.Write(top, word[:]); err != nil {
		return 0, fmt.Errorf("inject: AllocateStack: %v", err)
	}
	return top, nil
}

// Write copies data into the debuggee at addr, going through memio so
// it is ordered with respect to every other ptrace-bearing operation
// issued against the same Tracer.
func (c *Context) Write(addr uint64, data []byte) error {
	var plan memio.WritePlan
	plan.Write(data, uintptr(addr))
	return plan.Apply(c.Tracer)
}

// Read copies len(buf) bytes from addr in the debuggee into buf.
func (c *Context) Read(addr uint64, buf []byte) error {
	var plan memio.ReadPlan
	plan.Read(buf, uintptr(addr))
	return plan.Apply(c.Tracer)
}
