// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inject

import (
	"encoding/binary"
	"os"
	"testing"
	"unsafe"

	"github.com/traceinject/core/region"
	"github.com/traceinject/core/target"
)

func fakeMapper(next *uint64) region.Mapper {
	return func(size uint64, prot int) (uint64, error) {
		addr := *next
		*next += size
		return addr, nil
	}
}

// selfTracer is the same self-targeting trick memio's tests use: a
// Tracer whose pid is this process, so process_vm_writev against
// addresses backed by real local memory succeeds without any attach.
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

func TestAllocateStackWritesReturnAddrAtTopSlot(t *testing.T) {
	var page [256]byte
	base := uint64(uintptr(unsafe.Pointer(&page[0])))
	next := base

	c := &Context{
		Tracer: selfTracer(t),
		stack:  region.New(region.ReadWrite, 256, fakeMapper(&next)),
	}

	const returnAddr = 0x41414141
	top, err := c.AllocateStack(256, returnAddr)
	if err != nil {
		t.Skipf("process_vm_writev unavailable in this sandbox: %v", err)
	}
	if top != base+256-8 {
		t.Errorf("top slot = %#x, want %#x", top, base+256-8)
	}
	if got := binary.LittleEndian.Uint64(page[248:]); got != returnAddr {
		t.Errorf("return address at top slot = %#x, want %#x", got, uint64(returnAddr))
	}
}

func TestAllocateClassesAreIndependent(t *testing.T) {
	codeNext, roNext, rwNext := uint64(0x10000), uint64(0x20000), uint64(0x30000)
	c := &Context{
		code:      region.New(region.Code, 4096, fakeMapper(&codeNext)),
		readonly:  region.New(region.Readonly, 4096, fakeMapper(&roNext)),
		readwrite: region.New(region.ReadWrite, 4096, fakeMapper(&rwNext)),
	}

	codeAddr, err := c.AllocateCode(16, 0)
	if err != nil {
		t.Fatalf("AllocateCode: %v", err)
	}
	roAddr, err := c.AllocateReadonly(16, 0)
	if err != nil {
		t.Fatalf("AllocateReadonly: %v", err)
	}
	rwAddr, err := c.AllocateReadWrite(16, 0)
	if err != nil {
		t.Fatalf("AllocateReadWrite: %v", err)
	}

	if codeAddr < 0x10000 || codeAddr >= 0x20000 {
		t.Errorf("code allocation %#x landed outside the code allocator's pages", codeAddr)
	}
	if roAddr < 0x20000 || roAddr >= 0x30000 {
		t.Errorf("readonly allocation %#x landed outside the readonly allocator's pages", roAddr)
	}
	if rwAddr < 0x30000 {
		t.Errorf("readwrite allocation %#x landed outside the readwrite allocator's pages", rwAddr)
	}
}
