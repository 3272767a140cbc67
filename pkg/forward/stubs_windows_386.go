//go:build windows && 386

package forward

import (
	"encoding/binary"
	"unsafe"
)

const stubSize = 32

// encodeStub writes the entry point for slot i.
//
// On x86 only the registers the convention reserves for register-passed
// arguments need saving: ecx and edx cover fastcall and thiscall, and
// stack-passed arguments are untouched above the return address. The
// resolver is a stdcall callback and pops its own argument.
func (t *Table) encodeStub(b []byte, i int) {
	p := 0
	put := func(bs ...byte) { p += copy(b[p:], bs) }
	put32 := func(v uint32) { binary.LittleEndian.PutUint32(b[p:], v); p += 4 }

	put(0xB8) // mov eax, &slot[i]
	put32(uint32(uintptr(unsafe.Pointer(&t.addrs[i]))))
	put(0x8B, 0x00) // mov eax, [eax]
	put(0x85, 0xC0) // test eax, eax
	put(0x75, 0x00) // jnz tail (patched below)
	jnz := p - 1

	put(0x51) // push ecx
	put(0x52) // push edx
	put(0x68) // push i
	put32(uint32(i))
	put(0xB8) // mov eax, resolver
	put32(uint32(t.resolver))
	put(0xFF, 0xD0) // call eax
	put(0x5A)       // pop edx
	put(0x59)       // pop ecx

	b[jnz] = byte(p - (jnz + 1)) // tail:
	put(0xFF, 0xE0)              // jmp eax
}
