//go:build windows && (amd64 || 386)

package forward

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// EntryPoints returns one generated entry point per slot, in slot
// order. The code is emitted once into executable memory and lives as
// long as the process; each entry point obeys the tail-transfer
// contract documented on encodeStub.
func (t *Table) EntryPoints() ([]uintptr, error) {
	if t.stubs == 0 {
		if err := t.emitStubs(); err != nil {
			return nil, err
		}
	}
	out := make([]uintptr, len(t.addrs))
	for i := range out {
		out[i] = t.stubs + uintptr(i)*stubSize
	}
	return out, nil
}

func (t *Table) emitStubs() error {
	t.resolver = windows.NewCallback(t.resolveSlot)
	t.exit = windows.NewCallback(terminate)

	size := uintptr(len(t.addrs)) * stubSize
	mem, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return err
	}
	code := unsafe.Slice((*byte)(unsafe.Pointer(mem)), size)
	for i := range code {
		code[i] = 0xCC // int3
	}
	for i := range t.addrs {
		t.encodeStub(code[uintptr(i)*stubSize:][:stubSize], i)
	}

	var old uint32
	if err := windows.VirtualProtect(mem, size, windows.PAGE_EXECUTE_READ, &old); err != nil {
		windows.VirtualFree(mem, 0, windows.MEM_RELEASE)
		return err
	}
	t.stubs = mem
	return nil
}
