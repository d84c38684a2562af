// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reloc

import (
	"encoding/binary"
	"testing"

	"github.com/traceinject/core/decl"
)

type fakeResolver struct {
	funcs    map[decl.FuncId]uint64
	data     map[decl.DataId]uint64
	libcalls map[LibCall]uint64
	err      error
}

func (r *fakeResolver) ResolveUserFunc(id decl.FuncId) (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.funcs[id], nil
}

func (r *fakeResolver) ResolveUserData(id decl.DataId) (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.data[id], nil
}

func (r *fakeResolver) ResolveLibCall(tag LibCall) (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.libcalls[tag], nil
}

func TestPatchAbs8(t *testing.T) {
	r := &fakeResolver{data: map[decl.DataId]uint64{5: 0xdeadbeefcafe}}
	buf := make([]byte, 8)
	err := Patch(buf, 0x1000, []Entry{{Offset: 0, Kind: Abs8, Target: UserData(5)}}, r)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf); got != 0xdeadbeefcafe {
		t.Errorf("got %#x, want %#x", got, uint64(0xdeadbeefcafe))
	}
}

func TestPatchAbs4WithAddend(t *testing.T) {
	r := &fakeResolver{funcs: map[decl.FuncId]uint64{0: 0x2000}}
	buf := make([]byte, 4)
	err := Patch(buf, 0x1000, []Entry{{Offset: 0, Kind: Abs4, Target: UserFunc(0), Addend: 4}}, r)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf); got != 0x2004 {
		t.Errorf("got %#x, want 0x2004", got)
	}
}

func TestPatchPCRel4IsRelativeToEntryOffset(t *testing.T) {
	r := &fakeResolver{funcs: map[decl.FuncId]uint64{1: 0x3000}}
	buf := make([]byte, 8)
	err := Patch(buf, 0x1000, []Entry{{Offset: 4, Kind: CallPCRel4, Target: UserFunc(1)}}, r)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	want := int32(0x3000 - (0x1000 + 4))
	if got := int32(binary.LittleEndian.Uint32(buf[4:])); got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestPatchLibCall(t *testing.T) {
	r := &fakeResolver{libcalls: map[LibCall]uint64{LibCallMemcpy: 0x7fff0000}}
	buf := make([]byte, 8)
	err := Patch(buf, 0x1000, []Entry{{Offset: 0, Kind: Abs8, Target: LibCallRef(LibCallMemcpy)}}, r)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got := binary.LittleEndian.Uint64(buf); got != 0x7fff0000 {
		t.Errorf("got %#x, want 0x7fff0000", got)
	}
}

func TestPatchUnresolvedReturnsError(t *testing.T) {
	r := &fakeResolver{err: errUnknown}
	buf := make([]byte, 8)
	err := Patch(buf, 0x1000, []Entry{{Offset: 0, Kind: Abs8, Target: UserData(0)}}, r)
	if err == nil {
		t.Fatal("expected an error for an unresolvable target")
	}
	if _, ok := err.(*ErrUnresolved); !ok {
		t.Errorf("got %T, want *ErrUnresolved", err)
	}
}

func TestPatchGOTPCRel4Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unsupported PIC relocation")
		}
	}()
	r := &fakeResolver{}
	buf := make([]byte, 4)
	Patch(buf, 0x1000, []Entry{{Offset: 0, Kind: GOTPCRel4, Target: UserData(0)}}, r)
}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }

var errUnknown = &stubErr{"symbol not found"}
