// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func unsafePointer(iov *unix.Iovec) unsafe.Pointer { return unsafe.Pointer(iov) }

// unsafePointerFromUintptr builds the unsafe.Pointer libc's iovec
// expects for a remote address that has no local Go allocation backing
// it. This is intentionally the only place the package fabricates a
// pointer from a bare integer.
func unsafePointerFromUintptr(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet // remote address, not a local object
}
