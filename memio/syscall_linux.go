// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix does not wrap process_vm_readv/process_vm_writev
// directly; this is the one place the core reaches for the raw syscall
// number plus unix.Iovec rather than a ready-made wrapper.

func processVMReadv(pid int, ops []op) (int, error) {
	localIov := make([]unix.Iovec, len(ops))
	remoteIov := make([]unix.Iovec, len(ops))
	for i, o := range ops {
		localIov[i] = toIovec(o.local)
		remoteIov[i] = remoteIovec(o.remote, len(o.local))
	}
	return processVM(unix.SYS_PROCESS_VM_READV, pid, localIov, remoteIov)
}

func processVMWritev(pid int, ops []op) (int, error) {
	localIov := make([]unix.Iovec, len(ops))
	remoteIov := make([]unix.Iovec, len(ops))
	for i, o := range ops {
		localIov[i] = toIovec(o.local)
		remoteIov[i] = remoteIovec(o.remote, len(o.local))
	}
	return processVM(unix.SYS_PROCESS_VM_WRITEV, pid, localIov, remoteIov)
}

func processVM(trap uintptr, pid int, localIov, remoteIov []unix.Iovec) (int, error) {
	var localPtr, remotePtr uintptr
	if len(localIov) > 0 {
		localPtr = uintptr(unsafePointer(&localIov[0]))
	}
	if len(remoteIov) > 0 {
		remotePtr = uintptr(unsafePointer(&remoteIov[0]))
	}
	n, _, errno := unix.Syscall6(trap,
		uintptr(pid),
		localPtr, uintptr(len(localIov)),
		remotePtr, uintptr(len(remoteIov)),
		0)
	if errno != 0 {
		return int(n), errno
	}
	return int(n), nil
}

func remoteIovec(addr uintptr, length int) unix.Iovec {
	var iov unix.Iovec
	iov.Base = (*byte)(unsafePointerFromUintptr(addr))
	iov.SetLen(length)
	return iov
}
