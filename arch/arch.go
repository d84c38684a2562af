// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions for the
// injection core. Only linux/amd64 is supported.
package arch

import "encoding/binary"

// BreakpointSize is the size, in bytes, of the trap instruction used to
// implement breakpoints on amd64 (a single INT3).
const BreakpointSize = 1

// BreakpointInstr is the opcode written at a breakpoint address.
const BreakpointInstr byte = 0xCC

// PointerSize is the only pointer width the relocation engine supports.
// Data relocations are always emitted as Abs8; see module.DefineData.
const PointerSize = 8

// Default alignments for each protection class.
// A caller may request a stricter (larger) alignment; these are floors.
const (
	CodeAlign      = 0x10
	ReadonlyAlign  = 0x01
	ReadWriteAlign = 0x08
)

// ByteOrder is the byte order used for all integers exchanged with the
// debuggee.
var ByteOrder = binary.LittleEndian

// PageSize is the granularity the region allocator maps pages at when it
// has no better information (overridden by the real host page size once
// known; see region.Allocator).
const PageSize = 4096
