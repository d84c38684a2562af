// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decl

import "testing"

func TestDeclareFunctionIdempotent(t *testing.T) {
	table := NewTable()
	sig := FuncSig{Params: []byte{'i'}, Returns: []byte{'i'}}

	id1, err := table.DeclareFunction("foo", Local, sig)
	if err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	id2, err := table.DeclareFunction("foo", Local, sig)
	if err != nil {
		t.Fatalf("DeclareFunction (redeclare): %v", err)
	}
	if id1 != id2 {
		t.Errorf("idempotent redeclaration returned a new id: %d != %d", id1, id2)
	}
}

func TestDeclareFunctionConflict(t *testing.T) {
	table := NewTable()
	if _, err := table.DeclareFunction("foo", Local, FuncSig{}); err != nil {
		t.Fatalf("DeclareFunction: %v", err)
	}
	_, err := table.DeclareFunction("foo", Export, FuncSig{})
	if err == nil {
		t.Fatal("expected ErrConflict for mismatched linkage, got nil")
	}
	if _, ok := err.(*ErrConflict); !ok {
		t.Errorf("got %T, want *ErrConflict", err)
	}
}

func TestDeclareDataConflict(t *testing.T) {
	table := NewTable()
	if _, err := table.DeclareData("d", Local, true, false); err != nil {
		t.Fatalf("DeclareData: %v", err)
	}
	_, err := table.DeclareData("d", Local, false, false)
	if err == nil {
		t.Fatal("expected ErrConflict for mismatched writable flag, got nil")
	}
}

func TestIdsAreDenseAndNamespaced(t *testing.T) {
	table := NewTable()
	f0, _ := table.DeclareFunction("f0", Local, FuncSig{})
	f1, _ := table.DeclareFunction("f1", Local, FuncSig{})
	d0, _ := table.DeclareData("d0", Local, true, false)

	if f0 != 0 || f1 != 1 {
		t.Errorf("func ids not dense from zero: f0=%d f1=%d", f0, f1)
	}
	if d0 != 0 {
		t.Errorf("data id namespace should start at 0 independently of func ids, got %d", d0)
	}
}

func TestGetFunctionIdUnknown(t *testing.T) {
	table := NewTable()
	if _, err := table.GetFunctionId("missing"); err == nil {
		t.Fatal("expected error for undeclared name")
	}
}
