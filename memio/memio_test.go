// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"os"
	"testing"
	"unsafe"

	"github.com/traceinject/core/target"
)

func ptrOf(p *[16]byte) unsafe.Pointer { return unsafe.Pointer(p) }

// selfTracer builds a Tracer whose TargetState.Pid is this very process:
// reads/writes against one's own memory don't require an attach.
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

func TestReadWriteRoundTrip(t *testing.T) {
	tr := selfTracer(t)

	var local [16]byte
	src := []byte("hello, debuggee!")

	var wp WritePlan
	wp.Write(src, uintptr(localAddr(&local)))
	if err := wp.Apply(tr); err != nil {
		t.Skipf("process_vm_writev unavailable in this sandbox: %v", err)
	}

	var out [16]byte
	var rp ReadPlan
	rp.Read(out[:], uintptr(localAddr(&local)))
	if err := rp.Apply(tr); err != nil {
		t.Fatalf("ReadPlan.Apply: %v", err)
	}

	if string(out[:]) != string(src) {
		t.Errorf("round trip: got %q, want %q", out, src)
	}
}

func localAddr(p *[16]byte) uintptr {
	return uintptr(ptrOf(p))
}
