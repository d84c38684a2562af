// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package region implements the remote region allocator: one bump
// allocator per protection class (executable, read-only, read-write),
// backed by pages mapped into the debuggee.
package region

import (
	"fmt"

	"github.com/traceinject/core/arch"
	"golang.org/x/sys/unix"
)

// Class identifies a protection class for a remote region.
type Class int

const (
	// Code regions are executable and (at most) readable.
	Code Class = iota
	// Readonly regions are readable only.
	Readonly
	// ReadWrite regions are readable and writable.
	ReadWrite
)

func (c Class) String() string {
	switch c {
	case Code:
		return "code"
	case Readonly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("region.Class(%d)", int(c))
	}
}

// Prot returns the mmap(2) PROT_* bits for the class.
func (c Class) Prot() int {
	switch c {
	case Code:
		return unix.PROT_READ | unix.PROT_EXEC
	case Readonly:
		return unix.PROT_READ
	case ReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	default:
		panic(fmt.Sprintf("region: unknown class %d", int(c)))
	}
}

func (c Class) defaultAlign() uint64 {
	switch c {
	case Code:
		return arch.CodeAlign
	case Readonly:
		return arch.ReadonlyAlign
	case ReadWrite:
		return arch.ReadWriteAlign
	default:
		return 1
	}
}

// Mapper maps a fresh page of the given size and protection bits inside
// the debuggee, returning its base address. In production this is
// target.RemoteMmap bound to a specific tracer; tests supply a fake.
type Mapper func(size uint64, prot int) (uint64, error)

// Allocator is a bump allocator over pages mapped in a single debuggee,
// all sharing one protection class. It holds no lock of its own; the
// caller (inject.Context) is expected to serialize access to a given
// Allocator the same way the rest of the core's non-tracer state is
// single-owner.
type Allocator struct {
	class Class
	mmap  Mapper

	pageSize    uint64
	currentPage uint64 // 0 means "no page open"
	nextFree    uint64
}

// New creates an allocator for the given protection class. pageSize is
// the host's mmap granularity (typically 4096); mmap is invoked whenever
// the current page (if any) cannot satisfy a request.
func New(class Class, pageSize uint64, mmap Mapper) *Allocator {
	if pageSize == 0 {
		pageSize = arch.PageSize
	}
	return &Allocator{class: class, pageSize: pageSize, mmap: mmap}
}

// Allocate reserves size bytes aligned to align, or to the class's
// default alignment if align is 0 or smaller than that default, mapping
// a fresh page when the current one cannot satisfy the request. The
// returned address always lies within a single mapped,
// correctly-protected page.
func (a *Allocator) Allocate(size, align uint64) (uint64, error) {
	if def := a.class.defaultAlign(); align < def {
		align = def
	}

	if a.currentPage == 0 {
		if err := a.openPage(max(a.pageSize, ceilToPage(size, a.pageSize))); err != nil {
			return 0, err
		}
	}

	offset := alignUp(a.nextFree, align)
	if offset+size > a.pageSize {
		newPageSize := max(a.pageSize, ceilToPage(size, a.pageSize))
		if err := a.openPage(newPageSize); err != nil {
			return 0, err
		}
		offset = alignUp(a.nextFree, align)
	}

	addr := a.currentPage + offset
	a.nextFree = offset + size
	return addr, nil
}

func (a *Allocator) openPage(size uint64) error {
	base, err := a.mmap(size, a.class.Prot())
	if err != nil {
		return fmt.Errorf("region: mmap %d bytes (%s): %v", size, a.class, err)
	}
	a.currentPage = base
	a.pageSize = size
	a.nextFree = 0
	return nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func ceilToPage(size, pageSize uint64) uint64 {
	if pageSize == 0 {
		return size
	}
	return ((size + pageSize - 1) / pageSize) * pageSize
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
