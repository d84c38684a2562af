// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package module

import (
	"os"
	"testing"
	"unsafe"

	"github.com/traceinject/core/decl"
	"github.com/traceinject/core/inject"
	"github.com/traceinject/core/object"
	"github.com/traceinject/core/region"
	"github.com/traceinject/core/reloc"
	"github.com/traceinject/core/target"
)

// selfTracer is the self-targeting trick used throughout this repo's
// tests: a Tracer whose pid is this process, so writes through it land
// in ordinary, directly-readable local memory.
func selfTracer(t *testing.T) *target.Tracer {
	t.Helper()
	tr, _, err := target.NewTracer(func() (*target.TargetState, struct{}, error) {
		return &target.TargetState{Pid: os.Getpid()}, struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	return tr
}

// backedMapper hands out successive addresses inside a real local byte
// slice, so a region.Allocator can be exercised against a self-Tracer
// without any real ptrace/mmap relationship.
func backedMapper(backing []byte) region.Mapper {
	base := uint64(uintptr(unsafe.Pointer(&backing[0])))
	next := base
	limit := base + uint64(len(backing))
	return func(size uint64, prot int) (uint64, error) {
		addr := next
		next += size
		if next > limit {
			panic("module test: backing store exhausted")
		}
		return addr, nil
	}
}

func newTestModule(t *testing.T) *Module {
	t.Helper()
	tr := selfTracer(t)
	code := make([]byte, 4096)
	ro := make([]byte, 4096)
	rw := make([]byte, 4096)
	stack := make([]byte, 4096)

	ctx := inject.NewWithAllocators(tr,
		region.New(region.Code, 4096, backedMapper(code)),
		region.New(region.Readonly, 4096, backedMapper(ro)),
		region.New(region.ReadWrite, 4096, backedMapper(rw)),
		region.New(region.ReadWrite, 4096, backedMapper(stack)),
	)

	m, err := New(ctx, func(string) uint64 { return 0 }, nil)
	if err != nil {
		t.Skipf("process_vm_writev unavailable in this sandbox: %v", err)
	}
	return m
}

func TestDefineFinalizeLookupRoundTrip(t *testing.T) {
	m := newTestModule(t)

	id, err := m.DeclareFunction("foo", decl.Local, decl.FuncSig{})
	if err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	code := []byte{0x48, 0xc7, 0xc0, 0x2a, 0x00, 0x00, 0x00, 0xc3} // mov rax,42; ret
	if err := m.DefineFunctionBytes("foo", code); err != nil {
		t.Fatalf("DefineFunctionBytes: %v", err)
	}
	if err := m.FinalizeAll(); err != nil {
		t.Fatalf("FinalizeAll: %v", err)
	}

	region := m.LookupFunction(id)
	got := (*[8]byte)(unsafe.Pointer(uintptr(region)))[:]
	if string(got) != string(code) {
		t.Errorf("finalized bytes at region = %x, want %x", got, code)
	}
}

func TestDefineFunctionTwiceIsIllegal(t *testing.T) {
	m := newTestModule(t)
	if _, err := m.DeclareFunction("foo", decl.Local, decl.FuncSig{}); err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	if err := m.DefineFunctionBytes("foo", []byte{0xc3}); err != nil {
		t.Fatalf("DefineFunctionBytes: %v", err)
	}
	err := m.DefineFunctionBytes("foo", []byte{0xc3})
	if err == nil {
		t.Fatal("expected an error defining the same function twice")
	}
	if _, ok := err.(*object.ErrIllegalDefinition); !ok {
		t.Errorf("got %T, want *object.ErrIllegalDefinition", err)
	}
}

func TestDefineImportFunctionIsIllegal(t *testing.T) {
	m := newTestModule(t)
	if _, err := m.DeclareFunction("ext", decl.Import, decl.FuncSig{}); err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	err := m.DefineFunctionBytes("ext", []byte{0xc3})
	if err == nil {
		t.Fatal("expected an error defining an Import-linkage function")
	}
}

func TestDefineUninitializedDataIsRejected(t *testing.T) {
	m := newTestModule(t)
	if _, err := m.DeclareData("d", decl.Local, true, false); err != nil {
		t.Fatalf("DeclareData: %v", err)
	}
	err := m.DefineData("d", decl.DataInit{Kind: decl.Uninitialized}, nil, nil)
	if err == nil {
		t.Fatal("expected an error for Uninitialized data")
	}
	if _, ok := err.(*object.ErrUninitializedData); !ok {
		t.Errorf("got %T, want *object.ErrUninitializedData", err)
	}
}

func TestDefineTLSDataPanics(t *testing.T) {
	m := newTestModule(t)
	if _, err := m.DeclareData("tls_d", decl.Local, true, true); err != nil {
		t.Fatalf("DeclareData: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected DefineData to panic on a TLS declaration")
		}
	}()
	m.DefineData("tls_d", decl.ZerosInit(8), nil, nil)
}

func TestDefineDataAbs8Relocation(t *testing.T) {
	m := newTestModule(t)

	fid, err := m.DeclareFunction("target_fn", decl.Local, decl.FuncSig{})
	if err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	if err := m.DefineFunctionBytes("target_fn", []byte{0xc3}); err != nil {
		t.Fatalf("DefineFunctionBytes: %v", err)
	}

	if _, err := m.DeclareData("ptr_to_fn", decl.Local, false, false); err != nil {
		t.Fatalf("DeclareData: %v", err)
	}
	init := decl.ZerosInit(8)
	if err := m.DefineData("ptr_to_fn", init, []DataFuncRef{{Offset: 0, Func: fid}}, nil); err != nil {
		t.Fatalf("DefineData: %v", err)
	}

	if err := m.FinalizeAll(); err != nil {
		t.Fatalf("FinalizeAll: %v", err)
	}

	fnRegion := m.LookupFunction(fid)
	didRegion := m.LookupDataObject(func() decl.DataId {
		id, _ := m.Decl.GetDataId("ptr_to_fn")
		return id
	}())

	got := (*[8]byte)(unsafe.Pointer(uintptr(didRegion)))[:]
	want := make([]byte, 8)
	for i := 0; i < 8; i++ {
		want[i] = byte(fnRegion >> (8 * i))
	}
	if string(got) != string(want) {
		t.Errorf("data bytes = %x, want %x (Abs8 of function region %#x)", got, want, fnRegion)
	}
}

func TestNewStackReturnsIntoBreakpointTrap(t *testing.T) {
	m := newTestModule(t)

	top, err := m.NewStack(256)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	got := (*[8]byte)(unsafe.Pointer(uintptr(top)))[:]
	want := make([]byte, 8)
	trap := m.BreakpointTrap()
	for i := 0; i < 8; i++ {
		want[i] = byte(trap >> (8 * i))
	}
	if string(got) != string(want) {
		t.Errorf("stack top return address = %x, want %x (breakpoint trap %#x)", got, want, trap)
	}
}

var _ reloc.Resolver = (*Module)(nil)
