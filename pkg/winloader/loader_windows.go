//go:build windows

// Package winloader wraps the OS loader for the runtime forwarder.
// Loading an already-loaded library is a reference-count bump, so
// concurrent callers acquiring the same module are safe by design of
// the loader itself, not of this package.
package winloader

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hamflx/forward-dll/pkg/errors"
)

// Library owns one loader reference to a target module.
type Library struct {
	Name   string
	Handle windows.Handle
}

// Open loads the named library and takes a reference on it.
func Open(name string) (*Library, error) {
	h, err := windows.LoadLibrary(name)
	if err != nil {
		return nil, sysErr("LoadLibraryW", name, err)
	}
	return &Library{Name: name, Handle: h}, nil
}

// Proc resolves an export of the loaded copy by name. A miss means the
// copy loaded now lacks an export the generation-time copy had.
func (l *Library) Proc(name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(l.Handle, name)
	if err != nil {
		return 0, sysErr("GetProcAddress", name, err)
	}
	return addr, nil
}

// ProcByOrdinal resolves an export by its ordinal, the only handle on
// an export that has no name.
func (l *Library) ProcByOrdinal(ordinal uint32) (uintptr, error) {
	addr, err := windows.GetProcAddressByOrdinal(l.Handle, uintptr(ordinal))
	if err != nil {
		return 0, sysErr("GetProcAddress", fmt.Sprintf("#%d", ordinal), err)
	}
	return addr, nil
}

// Release drops the reference. Never called on a handle the forwarder
// has retained.
func (l *Library) Release() error {
	return windows.FreeLibrary(l.Handle)
}

// GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS, libloaderapi.h
const getModuleHandleExFromAddress = 0x00000004

// Pin bumps the reference count of the module containing addr, keeping
// it loaded for the rest of the process lifetime unless released.
func Pin(addr uintptr) (windows.Handle, error) {
	var h windows.Handle
	err := windows.GetModuleHandleEx(getModuleHandleExFromAddress, (*uint16)(unsafe.Pointer(addr)), &h)
	if err != nil {
		return 0, sysErr("GetModuleHandleExW", fmt.Sprintf("0x%x", addr), err)
	}
	return h, nil
}

func sysErr(op, subject string, err error) error {
	// Names with embedded NULs are rejected before the API is called;
	// the conversion helpers report that as EINVAL.
	errno, ok := err.(syscall.Errno)
	if !ok || errno == syscall.EINVAL {
		return &errors.EncodingError{Name: subject}
	}
	return &errors.SysError{Op: op, Subject: subject, Code: uint32(errno)}
}
