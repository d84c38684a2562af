// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package object implements the compiled-object store: a per-Id record
// of emitted bytes, pending relocations, the assigned remote region,
// and the finalized flag.
package object

import (
	"fmt"

	"github.com/traceinject/core/decl"
	"github.com/traceinject/core/reloc"
)

// Compiled is a compiled object: emitted bytes plus pending relocations,
// fixed to a remote region at define time. Bytes holds the local,
// not-yet-patched copy until finalize; Finalized starts false and is a
// one-way transition.
type Compiled struct {
	Bytes     []byte
	Relocs    []reloc.Entry
	Region    uint64
	Finalized bool
}

// ErrIllegalDefinition covers both illegal-definition cases: defining
// an Import-linkage symbol, and defining the same Id twice.
type ErrIllegalDefinition struct {
	Name   string
	Reason string
}

func (e *ErrIllegalDefinition) Error() string {
	return fmt.Sprintf("object: illegal definition of %q: %s", e.Name, e.Reason)
}

// ErrUninitializedData is returned when a data object is defined with
// an Uninitialized init.
type ErrUninitializedData struct {
	Name string
}

func (e *ErrUninitializedData) Error() string {
	return fmt.Sprintf("object: data %q defined with an uninitialized init", e.Name)
}

// Store holds the compiled-object records for both namespaces plus the
// finalize queues. Not safe for concurrent use.
type Store struct {
	funcs map[decl.FuncId]*Compiled
	data  map[decl.DataId]*Compiled

	pendingFuncs []decl.FuncId
	pendingData  []decl.DataId
}

// NewStore returns an empty compiled-object store.
func NewStore() *Store {
	return &Store{
		funcs: make(map[decl.FuncId]*Compiled),
		data:  make(map[decl.DataId]*Compiled),
	}
}

// DefineFunction records a new compiled function and enqueues it for the
// next FinalizeAll pass. It is the caller's job (module.Module) to have
// already checked that funcDecl.Linkage.Definable() and that no prior
// definition exists; DefineFunction itself just enforces the latter
// defensively with a panic, since by the time we get here it is a
// programming error in this package, not a recoverable one.
func (s *Store) DefineFunction(id decl.FuncId, bytes []byte, relocs []reloc.Entry, region uint64) {
	if _, exists := s.funcs[id]; exists {
		panic(fmt.Sprintf("object: function %d defined twice", id))
	}
	s.funcs[id] = &Compiled{Bytes: bytes, Relocs: relocs, Region: region}
	s.pendingFuncs = append(s.pendingFuncs, id)
}

// DefineData records a new compiled data object and enqueues it.
func (s *Store) DefineData(id decl.DataId, bytes []byte, relocs []reloc.Entry, region uint64) {
	if _, exists := s.data[id]; exists {
		panic(fmt.Sprintf("object: data object %d defined twice", id))
	}
	s.data[id] = &Compiled{Bytes: bytes, Relocs: relocs, Region: region}
	s.pendingData = append(s.pendingData, id)
}

// HasFunction reports whether id has been defined (not necessarily
// finalized).
func (s *Store) HasFunction(id decl.FuncId) bool {
	_, ok := s.funcs[id]
	return ok
}

// HasData reports whether id has been defined.
func (s *Store) HasData(id decl.DataId) bool {
	_, ok := s.data[id]
	return ok
}

// Function returns the compiled record for id, or nil if undefined.
func (s *Store) Function(id decl.FuncId) *Compiled { return s.funcs[id] }

// Data returns the compiled record for id, or nil if undefined.
func (s *Store) Data(id decl.DataId) *Compiled { return s.data[id] }

// TakePendingFunctions returns and clears the queue of functions defined
// since the last FinalizeAll, in definition order. Objects defined
// during a finalize pass are deferred to the next one, simply because
// this queue is drained before any callback that might re-enter
// DefineFunction/DefineData runs.
func (s *Store) TakePendingFunctions() []decl.FuncId {
	p := s.pendingFuncs
	s.pendingFuncs = nil
	return p
}

// TakePendingData is TakePendingFunctions for data objects.
func (s *Store) TakePendingData() []decl.DataId {
	p := s.pendingData
	s.pendingData = nil
	return p
}

// RequeueFunctions puts ids back at the front of the pending-functions
// queue, for the objects a partially-failed FinalizeAll pass did not
// get to.
func (s *Store) RequeueFunctions(ids []decl.FuncId) {
	s.pendingFuncs = append(ids, s.pendingFuncs...)
}

// RequeueData is RequeueFunctions for data objects.
func (s *Store) RequeueData(ids []decl.DataId) {
	s.pendingData = append(ids, s.pendingData...)
}

// MarkFunctionFinalized flips the finalized flag, panicking if it was
// already set.
func (s *Store) MarkFunctionFinalized(id decl.FuncId) {
	c := s.funcs[id]
	if c.Finalized {
		panic(fmt.Sprintf("object: function %d finalized twice", id))
	}
	c.Finalized = true
}

// MarkDataFinalized is MarkFunctionFinalized for data objects.
func (s *Store) MarkDataFinalized(id decl.DataId) {
	c := s.data[id]
	if c.Finalized {
		panic(fmt.Sprintf("object: data object %d finalized twice", id))
	}
	c.Finalized = true
}
