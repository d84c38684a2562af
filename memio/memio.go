// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memio provides batched scatter-gather reads and writes of a
// debuggee's virtual memory.
package memio

import (
	"fmt"

	"github.com/traceinject/core/target"
	"golang.org/x/sys/unix"
)

// op is one entry of a batched read or write: len(Local) bytes at Remote
// in the debuggee, local storage in Local.
type op struct {
	remote uintptr
	local  []byte
}

// ReadPlan accumulates read operations and applies them as a single
// process_vm_readv(2) call. Operations within one plan have no
// inter-op ordering guarantee.
type ReadPlan struct {
	ops []op
}

// Read schedules len(buf) bytes to be read from remote into buf once
// Apply is called. buf must remain valid and unused until Apply returns;
// the caller asserts buf's type has no invalid bit patterns.
func (p *ReadPlan) Read(buf []byte, remote uintptr) *ReadPlan {
	p.ops = append(p.ops, op{remote: remote, local: buf})
	return p
}

// Apply submits every scheduled read as one process_vm_readv syscall,
// dispatched through the tracer actor so it is ordered relative to every
// other ptrace-bearing operation.
func (p *ReadPlan) Apply(t *target.Tracer) error {
	if len(p.ops) == 0 {
		return nil
	}
	ops := p.ops
	err, dispatchErr := target.Dispatch(t, func(ts *target.TargetState) error {
		n, err := processVMReadv(ts.Pid, ops)
		if err != nil {
			return fmt.Errorf("process_vm_readv: %v", err)
		}
		want := 0
		for _, o := range ops {
			want += len(o.local)
		}
		if n != want {
			// Short reads are not decomposed into per-op fault
			// information; a caller only learns that the batch as a
			// whole came up short, not which op(s) faulted.
			return fmt.Errorf("short read: got %d bytes, want %d", n, want)
		}
		return nil
	})
	if dispatchErr != nil {
		return dispatchErr
	}
	if err != nil {
		return fmt.Errorf("memio: %v", err)
	}
	return nil
}

// WritePlan accumulates write operations and applies them as a single
// process_vm_writev(2) call, falling back to word-granular
// PTRACE_POKEDATA when process_vm_writev fails or writes short (e.g. a
// read-only-from-the-tracer's-view text segment).
type WritePlan struct {
	ops []op
}

// Write schedules data to be written to remote once Apply is called.
func (p *WritePlan) Write(data []byte, remote uintptr) *WritePlan {
	p.ops = append(p.ops, op{remote: remote, local: data})
	return p
}

// Apply submits every scheduled write as one process_vm_writev syscall.
// If that call fails or writes fewer bytes than scheduled (e.g. a text
// segment not writable from the tracer's view), every scheduled op is
// written again with word-granular ptrace pokes, not only the ones that
// were rejected. Both the attempt and the fallback run inside a single
// dispatch so they stay ordered with every other ptrace-bearing
// operation.
func (p *WritePlan) Apply(t *target.Tracer) error {
	if len(p.ops) == 0 {
		return nil
	}
	ops := p.ops
	err, dispatchErr := target.Dispatch(t, func(ts *target.TargetState) error {
		want := 0
		for _, o := range ops {
			want += len(o.local)
		}
		n, werr := processVMWritev(ts.Pid, ops)
		if werr == nil && n == want {
			return nil
		}
		for _, o := range ops {
			if pokeErr := pokeBytes(ts.Pid, o.remote, o.local); pokeErr != nil {
				return fmt.Errorf("process_vm_writev failed (%v) and ptrace poke fallback failed: %v", werr, pokeErr)
			}
		}
		return nil
	})
	if dispatchErr != nil {
		return dispatchErr
	}
	if err != nil {
		return fmt.Errorf("memio: %v", err)
	}
	return nil
}

// pokeBytes writes data at addr one machine word at a time via
// PTRACE_POKETEXT, read-modify-writing the final partial word so
// neighboring bytes are preserved. Must run on the tracer thread.
func pokeBytes(pid int, addr uintptr, data []byte) error {
	const wordSize = 8
	off := uintptr(0)
	for off < uintptr(len(data)) {
		wordAddr := addr + off
		remain := len(data) - int(off)
		n := wordSize
		if remain < wordSize {
			n = remain
		}
		var word [wordSize]byte
		if n < wordSize {
			if pn, err := unix.PtracePeekText(pid, wordAddr, word[:]); err != nil || pn != wordSize {
				return fmt.Errorf("ptracePeekText: %v (n=%d)", err, pn)
			}
		}
		copy(word[:], data[off:off+uintptr(n)])
		if pn, err := unix.PtracePokeText(pid, wordAddr, word[:]); err != nil || pn != wordSize {
			return fmt.Errorf("ptracePokeText: %v (n=%d)", err, pn)
		}
		off += uintptr(n)
	}
	return nil
}

func toIovec(b []byte) unix.Iovec {
	var iov unix.Iovec
	if len(b) > 0 {
		iov.Base = &b[0]
	}
	iov.SetLen(len(b))
	return iov
}
