// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reloc implements the relocation engine: the symbolic
// reference and relocation-kind types, and the patching pass that turns
// a SymRef into an address and writes it into compiled bytes at the
// right width and encoding.
package reloc

import (
	"fmt"

	"github.com/traceinject/core/arch"
	"github.com/traceinject/core/decl"
)

// LibCall names a runtime support routine the compiled code may call
// without the caller having declared it explicitly, resolved through
// the module's configured libcall-naming callback. The tag set covers
// memcpy/memmove/memset plus the handful of float/int helpers most code
// generators need.
type LibCall string

const (
	LibCallMemcpy  LibCall = "memcpy"
	LibCallMemmove LibCall = "memmove"
	LibCallMemset  LibCall = "memset"
	LibCallFloor   LibCall = "floor"
	LibCallCeil    LibCall = "ceil"
	LibCallTrunc   LibCall = "trunc"
	LibCallNearest LibCall = "nearbyint"
)

// symKind discriminates the union inside SymRef.
type symKind int

const (
	symFunc symKind = iota
	symData
	symLibCall
)

// SymRef is a symbolic reference used inside a relocation entry: either
// a previously declared function or data object, or a well-known
// runtime library call. Construct with UserFunc, UserData or LibCallRef;
// the zero value is not a valid SymRef.
type SymRef struct {
	kind    symKind
	fn      decl.FuncId
	data    decl.DataId
	libcall LibCall
}

// UserFunc references a declared function by Id.
func UserFunc(id decl.FuncId) SymRef { return SymRef{kind: symFunc, fn: id} }

// UserData references a declared data object by Id.
func UserData(id decl.DataId) SymRef { return SymRef{kind: symData, data: id} }

// LibCallRef references a runtime library call by tag.
func LibCallRef(tag LibCall) SymRef { return SymRef{kind: symLibCall, libcall: tag} }

func (s SymRef) String() string {
	switch s.kind {
	case symFunc:
		return fmt.Sprintf("func#%d", s.fn)
	case symData:
		return fmt.Sprintf("data#%d", s.data)
	case symLibCall:
		return fmt.Sprintf("libcall(%s)", s.libcall)
	default:
		return "<invalid SymRef>"
	}
}

// Kind identifies the encoding a relocation must produce. The four
// supported kinds cover absolute and PC-relative references
// at the widths x86-64 position-dependent code generators actually
// emit; GOTPCRel4 and CallPLTRel4 are recognized only so patching can
// reject them with a clear message instead of silently corrupting an
// instruction.
type Kind int

const (
	Abs4 Kind = iota
	Abs8
	PCRel4
	CallPCRel4
	GOTPCRel4
	CallPLTRel4
)

func (k Kind) String() string {
	switch k {
	case Abs4:
		return "Abs4"
	case Abs8:
		return "Abs8"
	case PCRel4:
		return "PCRel4"
	case CallPCRel4:
		return "CallPCRel4"
	case GOTPCRel4:
		return "GOTPCRel4"
	case CallPLTRel4:
		return "CallPLTRel4"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// width reports the number of bytes a relocation of this kind writes.
func (k Kind) width() int {
	switch k {
	case Abs8:
		return 8
	default:
		return 4
	}
}

// Entry is a single relocation: at byte Offset within the compiled
// object, write an encoding of Kind for Target plus Addend.
type Entry struct {
	Offset uint32
	Kind   Kind
	Target SymRef
	Addend int64
}

// Resolver answers the three kinds of symbolic reference a relocation
// may carry. It is implemented by the top-level module facade, which
// has access to the declaration table, the compiled-object store and
// the caller's symbol-lookup/libcall-naming callbacks.
type Resolver interface {
	ResolveUserFunc(id decl.FuncId) (uint64, error)
	ResolveUserData(id decl.DataId) (uint64, error)
	ResolveLibCall(tag LibCall) (uint64, error)
}

// Resolve dispatches sym to the appropriate Resolver method.
func Resolve(r Resolver, sym SymRef) (uint64, error) {
	switch sym.kind {
	case symFunc:
		return r.ResolveUserFunc(sym.fn)
	case symData:
		return r.ResolveUserData(sym.data)
	case symLibCall:
		return r.ResolveLibCall(sym.libcall)
	default:
		panic("reloc: invalid SymRef")
	}
}

// ErrUnresolved wraps a failure to resolve a relocation's target.
type ErrUnresolved struct {
	Target SymRef
	Err    error
}

func (e *ErrUnresolved) Error() string {
	return fmt.Sprintf("reloc: resolving %s: %v", e.Target, e.Err)
}

func (e *ErrUnresolved) Unwrap() error { return e.Err }

// Patch resolves and writes every entry into buf, a local copy of the
// bytes that will eventually sit at region in the debuggee's address
// space. PC-relative kinds are computed against region+Offset, the
// address the relocated bytes will occupy once written remotely.
//
// PC-relative encodings here approximate the true "relative to the end
// of the instruction" semantics by using the relocation's own offset as
// the origin. This is a known simplification, preserved rather than
// silently fixed, since getting it exactly right requires knowing the
// instruction length, which this core does not track. Abs4 likewise
// keeps only the low 32 bits of the value, with no overflow check.
// GOTPCRel4 and
// CallPLTRel4 indicate the caller asked for position-independent code
// generation, which this core does not support; encountering one is a
// programming error in the caller, not a runtime condition to recover
// from.
func Patch(buf []byte, region uint64, entries []Entry, r Resolver) error {
	for _, e := range entries {
		if int(e.Offset)+e.Kind.width() > len(buf) {
			panic(fmt.Sprintf("reloc: entry at offset %d (width %d) overruns %d-byte object", e.Offset, e.Kind.width(), len(buf)))
		}

		switch e.Kind {
		case GOTPCRel4, CallPLTRel4:
			panic(fmt.Sprintf("reloc: unsupported position-independent relocation %s against %s", e.Kind, e.Target))
		}

		addr, err := Resolve(r, e.Target)
		if err != nil {
			return &ErrUnresolved{Target: e.Target, Err: err}
		}
		value := int64(addr) + e.Addend

		switch e.Kind {
		case Abs4:
			arch.ByteOrder.PutUint32(buf[e.Offset:], uint32(value))
		case Abs8:
			arch.ByteOrder.PutUint64(buf[e.Offset:], uint64(value))
		case PCRel4, CallPCRel4:
			origin := int64(region) + int64(e.Offset)
			rel := value - origin
			arch.ByteOrder.PutUint32(buf[e.Offset:], uint32(int32(rel)))
		default:
			panic(fmt.Sprintf("reloc: unknown relocation kind %d", int(e.Kind)))
		}
	}
	return nil
}
