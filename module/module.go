// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package module implements the top-level injection module facade: the
// thing a consumer actually holds, composing the declaration table, the
// compiled-object store, the injection context, and the two external
// callbacks (symbol lookup and libcall naming) behind a
// declare/define/finalize surface.
package module

import (
	"fmt"

	"github.com/traceinject/core/decl"
	"github.com/traceinject/core/inject"
	"github.com/traceinject/core/object"
	"github.com/traceinject/core/reloc"
)

// DataFuncRef is one embedded function reference inside a data object's
// bytes, expanded into an Abs8 relocation at finalize time.
type DataFuncRef struct {
	Offset uint32
	Func   decl.FuncId
}

// DataDataRef is the data-to-data counterpart of DataFuncRef.
type DataDataRef struct {
	Offset uint32
	Data   decl.DataId
	Addend int64
}

// Module is the consumer-facing facade: declare symbols against Decl,
// define them (which allocates a region via Inject and records the
// compiled bytes in Objects), then FinalizeAll to patch and write
// everything out. Not safe for concurrent use.
type Module struct {
	Decl    *decl.Table
	Objects *object.Store
	Inject  *inject.Context

	// LookupSymbol resolves an external (Import-linkage, or simply
	// not-yet-defined) symbol's name to its absolute address in the
	// debuggee. The caller is expected to provide a total function over
	// the set of names it declares as imports.
	LookupSymbol func(name string) uint64

	// LibCallName maps a reloc.LibCall tag to the external symbol name
	// LookupSymbol expects, defaulting to the identity if unset.
	LibCallName func(tag reloc.LibCall) string

	trapAddr uint64
}

// New builds a Module around an already-constructed injection context,
// and allocates the breakpoint-trap slot (one executable byte, written
// with the INT3 opcode) that NewStack uses as the default
// return-into-trap address.
func New(ctx *inject.Context, lookupSymbol func(string) uint64, libCallName func(reloc.LibCall) string) (*Module, error) {
	m := &Module{
		Decl:         decl.NewTable(),
		Objects:      object.NewStore(),
		Inject:       ctx,
		LookupSymbol: lookupSymbol,
		LibCallName:  libCallName,
	}

	trap, err := ctx.AllocateCode(1, 1)
	if err != nil {
		return nil, fmt.Errorf("module: allocating breakpoint trap slot: %v", err)
	}
	if err := ctx.Write(trap, []byte{0xCC}); err != nil {
		return nil, fmt.Errorf("module: writing breakpoint trap slot: %v", err)
	}
	m.trapAddr = trap
	return m, nil
}

// BreakpointTrap returns the address of the module's standing INT3
// slot, a stable landing pad for injected calls to return into.
func (m *Module) BreakpointTrap() uint64 { return m.trapAddr }

// DeclareFunction forwards to Decl.
func (m *Module) DeclareFunction(name string, linkage decl.Linkage, sig decl.FuncSig) (decl.FuncId, error) {
	return m.Decl.DeclareFunction(name, linkage, sig)
}

// DeclareData forwards to Decl.
func (m *Module) DeclareData(name string, linkage decl.Linkage, writable, tls bool) (decl.DataId, error) {
	return m.Decl.DeclareData(name, linkage, writable, tls)
}

// DefineFunction stores bytes and relocs for name, sized an executable
// region for them, and enqueues the function for the next FinalizeAll.
// Precondition: name's declaration is definable (linkage != Import) and
// has no prior definition.
func (m *Module) DefineFunction(name string, bytes []byte, relocs []reloc.Entry) error {
	id, err := m.Decl.GetFunctionId(name)
	if err != nil {
		return fmt.Errorf("module: DefineFunction: %v", err)
	}
	if !m.Decl.GetFunctionDecl(id).Linkage.Definable() {
		return &object.ErrIllegalDefinition{Name: name, Reason: "cannot define an Import-linkage symbol"}
	}
	if m.Objects.HasFunction(id) {
		return &object.ErrIllegalDefinition{Name: name, Reason: "already defined"}
	}

	region, err := m.Inject.AllocateCode(uint64(len(bytes)), 0)
	if err != nil {
		return fmt.Errorf("module: DefineFunction %q: %v", name, err)
	}
	m.Objects.DefineFunction(id, bytes, relocs, region)
	return nil
}

// DefineFunctionBytes is DefineFunction with an empty relocation list.
func (m *Module) DefineFunctionBytes(name string, bytes []byte) error {
	return m.DefineFunction(name, bytes, nil)
}

// DefineData stores the bytes produced by init for name, expands
// funcRefs/dataRefs into Abs8 relocations against them, allocates a
// region in the class matching the declaration's writable flag, and
// enqueues the data object for the next FinalizeAll.
func (m *Module) DefineData(name string, init decl.DataInit, funcRefs []DataFuncRef, dataRefs []DataDataRef) error {
	id, err := m.Decl.GetDataId(name)
	if err != nil {
		return fmt.Errorf("module: DefineData: %v", err)
	}
	dd := m.Decl.GetDataDecl(id)
	if !dd.Linkage.Definable() {
		return &object.ErrIllegalDefinition{Name: name, Reason: "cannot define an Import-linkage symbol"}
	}
	if m.Objects.HasData(id) {
		return &object.ErrIllegalDefinition{Name: name, Reason: "already defined"}
	}
	if dd.TLS {
		panic(fmt.Sprintf("module: DefineData(%q): TLS data is not supported", name))
	}

	var bytes []byte
	switch init.Kind {
	case decl.Uninitialized:
		return &object.ErrUninitializedData{Name: name}
	case decl.Zeros:
		bytes = make([]byte, init.Size)
	case decl.Bytes:
		bytes = make([]byte, len(init.Bytes))
		copy(bytes, init.Bytes)
	default:
		panic(fmt.Sprintf("module: unknown DataInit kind %d", int(init.Kind)))
	}

	relocs := make([]reloc.Entry, 0, len(funcRefs)+len(dataRefs))
	for _, r := range funcRefs {
		relocs = append(relocs, reloc.Entry{Offset: r.Offset, Kind: reloc.Abs8, Target: reloc.UserFunc(r.Func)})
	}
	for _, r := range dataRefs {
		relocs = append(relocs, reloc.Entry{Offset: r.Offset, Kind: reloc.Abs8, Target: reloc.UserData(r.Data), Addend: r.Addend})
	}

	var region uint64
	if dd.Writable {
		region, err = m.Inject.AllocateReadWrite(uint64(len(bytes)), 0)
	} else {
		region, err = m.Inject.AllocateReadonly(uint64(len(bytes)), 0)
	}
	if err != nil {
		return fmt.Errorf("module: DefineData %q: %v", name, err)
	}
	m.Objects.DefineData(id, bytes, relocs, region)
	return nil
}

// FinalizeAll patches and writes out every pending function, then every
// pending data object: all pending functions are patched-and-written
// before any pending data object. A failure stops the current pass; the
// failing object is dropped (it cannot be redefined under the same Id,
// so retrying it automatically would only repeat the same failure), and
// objects not yet reached stay pending for the next call.
func (m *Module) FinalizeAll() error {
	if err := m.finalizeFuncs(); err != nil {
		return err
	}
	return m.finalizeData()
}

func (m *Module) finalizeFuncs() error {
	pending := m.Objects.TakePendingFunctions()
	for i, id := range pending {
		c := m.Objects.Function(id)
		if err := reloc.Patch(c.Bytes, c.Region, c.Relocs, m); err != nil {
			m.Objects.RequeueFunctions(pending[i+1:])
			return fmt.Errorf("module: finalize function %q: %v", m.Decl.GetFunctionDecl(id).Name, err)
		}
		if err := m.Inject.Write(c.Region, c.Bytes); err != nil {
			m.Objects.RequeueFunctions(pending[i+1:])
			return fmt.Errorf("module: finalize function %q: write: %v", m.Decl.GetFunctionDecl(id).Name, err)
		}
		m.Objects.MarkFunctionFinalized(id)
	}
	return nil
}

func (m *Module) finalizeData() error {
	pending := m.Objects.TakePendingData()
	for i, id := range pending {
		c := m.Objects.Data(id)
		if err := reloc.Patch(c.Bytes, c.Region, c.Relocs, m); err != nil {
			m.Objects.RequeueData(pending[i+1:])
			return fmt.Errorf("module: finalize data %q: %v", m.Decl.GetDataDecl(id).Name, err)
		}
		if err := m.Inject.Write(c.Region, c.Bytes); err != nil {
			m.Objects.RequeueData(pending[i+1:])
			return fmt.Errorf("module: finalize data %q: write: %v", m.Decl.GetDataDecl(id).Name, err)
		}
		m.Objects.MarkDataFinalized(id)
	}
	return nil
}

// LookupFunction returns the remote region of a finalized function,
// panicking if it was never defined or not yet finalized — a finalize
// precondition violation is treated here as a programming error, not a
// recoverable one.
func (m *Module) LookupFunction(id decl.FuncId) uint64 {
	c := m.Objects.Function(id)
	if c == nil || !c.Finalized {
		panic(fmt.Sprintf("module: LookupFunction(%d): not finalized", id))
	}
	return c.Region
}

// LookupDataObject is LookupFunction for data objects.
func (m *Module) LookupDataObject(id decl.DataId) uint64 {
	c := m.Objects.Data(id)
	if c == nil || !c.Finalized {
		panic(fmt.Sprintf("module: LookupDataObject(%d): not finalized", id))
	}
	return c.Region
}

// NewStack allocates a fresh stack of size bytes whose top slot returns
// into the module's breakpoint trap, the usual way to get control back
// after letting an injected function run to completion.
func (m *Module) NewStack(size uint64) (uint64, error) {
	return m.Inject.AllocateStack(size, m.trapAddr)
}

// ResolveUserFunc implements reloc.Resolver: a compiled-but-unfinalized
// (or finalized) function's region takes priority over the external
// lookup, since later relocations may target a function defined
// earlier in the same finalize pass.
func (m *Module) ResolveUserFunc(id decl.FuncId) (uint64, error) {
	if c := m.Objects.Function(id); c != nil {
		return c.Region, nil
	}
	return m.resolveExternal(m.Decl.GetFunctionDecl(id).Name), nil
}

// ResolveUserData is ResolveUserFunc for data objects.
func (m *Module) ResolveUserData(id decl.DataId) (uint64, error) {
	if c := m.Objects.Data(id); c != nil {
		return c.Region, nil
	}
	return m.resolveExternal(m.Decl.GetDataDecl(id).Name), nil
}

// ResolveLibCall maps tag to a name via LibCallName (or the tag's own
// string form if unset) and resolves it externally.
func (m *Module) ResolveLibCall(tag reloc.LibCall) (uint64, error) {
	name := string(tag)
	if m.LibCallName != nil {
		name = m.LibCallName(tag)
	}
	return m.resolveExternal(name), nil
}

// resolveExternal calls LookupSymbol. A zero return is passed through
// rather than turned into an error here — LookupSymbol is assumed total
// over the names it will ever be asked about, and this facade preserves
// that assumption rather than second-guessing it. A missing symbol is
// therefore currently undetected.
func (m *Module) resolveExternal(name string) uint64 {
	return m.LookupSymbol(name)
}
