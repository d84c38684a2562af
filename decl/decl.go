// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decl implements the declaration table: a name to (Func or
// Data) Id mapping that keeps forward declarations decoupled from
// definitions.
package decl

import "fmt"

// FuncId and DataId are opaque, dense, non-negative identifiers assigned
// at declaration, in distinct namespaces, never reused once issued.
type FuncId uint32
type DataId uint32

// Linkage describes how a declared symbol is expected to be resolved.
type Linkage int

const (
	Import Linkage = iota
	Local
	Preemptible
	Export
)

func (l Linkage) String() string {
	switch l {
	case Import:
		return "import"
	case Local:
		return "local"
	case Preemptible:
		return "preemptible"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("Linkage(%d)", int(l))
	}
}

// Definable reports whether a symbol with this linkage may be defined
// locally. Import-linkage symbols are declared but never defined; their
// address always comes from the external symbol-lookup callback.
func (l Linkage) Definable() bool { return l != Import }

// FuncSig is an opaque function signature, compared only for equality by
// the caller (the code generator owns its shape; the core never
// inspects it beyond that).
type FuncSig struct {
	// Params and Returns are deliberately untyped here: the core treats
	// a signature as an opaque token supplied by the (out-of-scope)
	// code generator. Equality is what matters for idempotent
	// redeclaration, not structure.
	Params  []byte
	Returns []byte
}

func (a FuncSig) equal(b FuncSig) bool {
	return string(a.Params) == string(b.Params) && string(a.Returns) == string(b.Returns)
}

// FuncDecl is the declared shape of a function symbol.
type FuncDecl struct {
	Name    string
	Linkage Linkage
	Sig     FuncSig
}

func (d FuncDecl) shapeEqual(o FuncDecl) bool {
	return d.Linkage == o.Linkage && d.Sig.equal(o.Sig)
}

// DataDecl is the declared shape of a data symbol.
type DataDecl struct {
	Name     string
	Linkage  Linkage
	Writable bool
	TLS      bool
}

func (d DataDecl) shapeEqual(o DataDecl) bool {
	return d.Linkage == o.Linkage && d.Writable == o.Writable && d.TLS == o.TLS
}

// DataInitKind discriminates DataInit's three shapes.
type DataInitKind int

const (
	Uninitialized DataInitKind = iota
	Zeros
	Bytes
)

// DataInit describes how a data object's bytes are produced at define
// time. Uninitialized is always rejected; Zeros(n) yields n zero bytes;
// Bytes(b) copies b verbatim. Construct with ZerosInit/BytesInit rather
// than the struct literal so the Kind/Size/Bytes fields stay consistent.
type DataInit struct {
	Kind  DataInitKind
	Size  uint64
	Bytes []byte
}

// ZerosInit describes n zero bytes.
func ZerosInit(n uint64) DataInit { return DataInit{Kind: Zeros, Size: n} }

// BytesInit describes a verbatim copy of b.
func BytesInit(b []byte) DataInit { return DataInit{Kind: Bytes, Size: uint64(len(b)), Bytes: b} }

// ErrConflict is returned when a redeclaration's shape does not match
// the existing declaration for that name.
type ErrConflict struct {
	Name string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("decl: %q already declared with a different shape", e.Name)
}

// ErrWrongKind is returned when a name is looked up as the wrong kind
// (e.g. GetDataId on a name declared as a function).
type ErrWrongKind struct {
	Name string
}

func (e *ErrWrongKind) Error() string {
	return fmt.Sprintf("decl: %q is not declared with the requested kind", e.Name)
}

// Table is the declaration table. It is not safe for concurrent use;
// callers access it from the one goroutine that issues Tracer
// dispatches.
type Table struct {
	funcsByName map[string]FuncId
	dataByName  map[string]DataId
	funcs       []FuncDecl
	data        []DataDecl
}

// NewTable returns an empty declaration table.
func NewTable() *Table {
	return &Table{
		funcsByName: make(map[string]FuncId),
		dataByName:  make(map[string]DataId),
	}
}

// DeclareFunction declares (or idempotently redeclares) a function
// symbol, returning its FuncId. Redeclaration with a conflicting shape
// (different linkage or signature) fails with ErrConflict.
func (t *Table) DeclareFunction(name string, linkage Linkage, sig FuncSig) (FuncId, error) {
	decl := FuncDecl{Name: name, Linkage: linkage, Sig: sig}
	if id, ok := t.funcsByName[name]; ok {
		if !t.funcs[id].shapeEqual(decl) {
			return 0, &ErrConflict{Name: name}
		}
		return id, nil
	}
	id := FuncId(len(t.funcs))
	t.funcs = append(t.funcs, decl)
	t.funcsByName[name] = id
	return id, nil
}

// DeclareData declares (or idempotently redeclares) a data symbol,
// returning its DataId. Redeclaration with a conflicting shape fails
// with ErrConflict. tls=true is accepted here; it is defining a TLS
// symbol, not declaring one, that is rejected as an unsupported
// construct.
func (t *Table) DeclareData(name string, linkage Linkage, writable, tls bool) (DataId, error) {
	decl := DataDecl{Name: name, Linkage: linkage, Writable: writable, TLS: tls}
	if id, ok := t.dataByName[name]; ok {
		if !t.data[id].shapeEqual(decl) {
			return 0, &ErrConflict{Name: name}
		}
		return id, nil
	}
	id := DataId(len(t.data))
	t.data = append(t.data, decl)
	t.dataByName[name] = id
	return id, nil
}

// IsFunction reports whether name was declared as a function.
func (t *Table) IsFunction(name string) bool {
	_, ok := t.funcsByName[name]
	return ok
}

// IsData reports whether name was declared as a data object.
func (t *Table) IsData(name string) bool {
	_, ok := t.dataByName[name]
	return ok
}

// GetFunctionId returns the FuncId for a declared function name.
func (t *Table) GetFunctionId(name string) (FuncId, error) {
	id, ok := t.funcsByName[name]
	if !ok {
		return 0, &ErrWrongKind{Name: name}
	}
	return id, nil
}

// GetDataId returns the DataId for a declared data name.
func (t *Table) GetDataId(name string) (DataId, error) {
	id, ok := t.dataByName[name]
	if !ok {
		return 0, &ErrWrongKind{Name: name}
	}
	return id, nil
}

// GetFunctionDecl returns the declaration for a FuncId.
func (t *Table) GetFunctionDecl(id FuncId) FuncDecl { return t.funcs[id] }

// GetDataDecl returns the declaration for a DataId.
func (t *Table) GetDataDecl(id DataId) DataDecl { return t.data[id] }
