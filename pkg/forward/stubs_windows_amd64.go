//go:build windows && amd64

package forward

import (
	"encoding/binary"
	"unsafe"
)

const stubSize = 80

// encodeStub writes the entry point for slot i.
//
// Contract: control reaches the resolved target with every argument
// register and all stack-passed arguments bit-for-bit as the caller set
// them, via a tail jump, so the target returns straight to the caller.
// The resolver call on the slow path clobbers the volatile registers of
// the Microsoft x64 convention, so rcx, rdx, r8, r9, r10 and r11 are
// saved around it and restored in reverse order. The 0x28 adjustment
// provides the callee's shadow space and keeps rsp 16-byte aligned at
// the call.
func (t *Table) encodeStub(b []byte, i int) {
	p := 0
	put := func(bs ...byte) { p += copy(b[p:], bs) }
	put64 := func(v uint64) { binary.LittleEndian.PutUint64(b[p:], v); p += 8 }

	put(0x48, 0xB8) // mov rax, &slot[i]
	put64(uint64(uintptr(unsafe.Pointer(&t.addrs[i]))))
	put(0x48, 0x8B, 0x00) // mov rax, [rax]
	put(0x48, 0x85, 0xC0) // test rax, rax
	put(0x75, 0x00)       // jnz tail (patched below)
	jnz := p - 1

	put(0x51)                   // push rcx
	put(0x52)                   // push rdx
	put(0x41, 0x50)             // push r8
	put(0x41, 0x51)             // push r9
	put(0x41, 0x52)             // push r10
	put(0x41, 0x53)             // push r11
	put(0x48, 0x83, 0xEC, 0x28) // sub rsp, 0x28
	put(0x48, 0xB9)             // mov rcx, i
	put64(uint64(i))
	put(0x48, 0xB8) // mov rax, resolver
	put64(uint64(t.resolver))
	put(0xFF, 0xD0)             // call rax
	put(0x48, 0x83, 0xC4, 0x28) // add rsp, 0x28
	put(0x41, 0x5B)             // pop r11
	put(0x41, 0x5A)             // pop r10
	put(0x41, 0x59)             // pop r9
	put(0x41, 0x58)             // pop r8
	put(0x5A)                   // pop rdx
	put(0x59)                   // pop rcx

	b[jnz] = byte(p - (jnz + 1)) // tail:
	put(0xFF, 0xE0)              // jmp rax
}
