// Package implib builds a minimal COFF import library from an export
// list, so a linker can bind against the generated forwarding module
// without the real binary present. Every member is a short-format
// import object (PE/COFF spec §8); no section data is emitted.
package implib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/hamflx/forward-dll/pkg/errors"
)

// Machine selects the COFF machine type of the generated members.
type Machine uint16

const (
	I386  Machine = 0x14c
	AMD64 Machine = 0x8664
)

// Entry declares one export: its (possibly synthesized) symbol name and
// ordinal. NoName entries are imported by ordinal only.
type Entry struct {
	Symbol  string
	Ordinal uint16
	NoName  bool
}

// Import type and name-type fields of the short-import header.
const (
	importCode         = 0 // bits 0-1
	importByOrdinal    = 0 // bits 2-4
	importByName       = 1
	importNameNoPrefix = 2
)

const archiveMagic = "!<arch>\n"

// Write emits the import library for dll to w: the two linker members
// (symbol maps), an optional long-name table, and one short-import
// member per entry.
func Write(w io.Writer, dll string, machine Machine, entries []Entry) error {
	switch machine {
	case I386, AMD64:
	default:
		return &errors.FormatError{
			Kind:   errors.UnsupportedArchitecture,
			Detail: fmt.Sprintf("machine 0x%x", uint16(machine)),
		}
	}

	type member struct {
		name string
		data []byte
		syms []string
	}
	members := make([]member, 0, len(entries))
	for _, e := range entries {
		sym := e.Symbol
		if machine == I386 {
			sym = "_" + sym
		}
		members = append(members, member{
			name: dll,
			data: shortImport(machine, dll, sym, e),
			syms: []string{"__imp_" + sym, sym},
		})
	}

	// Long member names go through the "//" table, MSVC style:
	// NUL-terminated strings referenced as "/<offset>".
	var longnames bytes.Buffer
	memberName := make([]string, len(members))
	for i, m := range members {
		if len(m.name)+1 <= 16 {
			memberName[i] = m.name + "/"
			continue
		}
		memberName[i] = fmt.Sprintf("/%d", longnames.Len())
		longnames.WriteString(m.name)
		longnames.WriteByte(0)
	}

	var syms []string
	for _, m := range members {
		syms = append(syms, m.syms...)
	}
	sorted := make([]int, len(syms)) // symbol positions ordered by name
	for i := range sorted {
		sorted[i] = i
	}
	sort.Slice(sorted, func(a, b int) bool { return syms[sorted[a]] < syms[sorted[b]] })

	symsSize := 0
	for _, s := range syms {
		symsSize += len(s) + 1
	}
	first := 4 + 4*len(syms) + symsSize
	second := 4 + 4*len(members) + 4 + 2*len(syms) + symsSize

	// Lay the archive out to learn every member's header offset.
	off := len(archiveMagic)
	off += 60 + pad2(first)
	off += 60 + pad2(second)
	if longnames.Len() > 0 {
		off += 60 + pad2(longnames.Len())
	}
	memberOff := make([]int, len(members))
	for i, m := range members {
		memberOff[i] = off
		off += 60 + pad2(len(m.data))
	}

	var out bytes.Buffer
	out.WriteString(archiveMagic)

	// First linker member: big-endian offsets in member order.
	var b1 bytes.Buffer
	putU32BE(&b1, uint32(len(syms)))
	for i := range members {
		for range members[i].syms {
			putU32BE(&b1, uint32(memberOff[i]))
		}
	}
	for _, s := range syms {
		b1.WriteString(s)
		b1.WriteByte(0)
	}
	writeMember(&out, "/", b1.Bytes())

	// Second linker member: little-endian, symbols sorted for binary
	// search, indices 1-based into the member offset array.
	var b2 bytes.Buffer
	putU32LE(&b2, uint32(len(members)))
	for i := range members {
		putU32LE(&b2, uint32(memberOff[i]))
	}
	putU32LE(&b2, uint32(len(syms)))
	for _, pos := range sorted {
		putU16LE(&b2, uint16(pos/2+1)) // two symbols per member
	}
	for _, pos := range sorted {
		b2.WriteString(syms[pos])
		b2.WriteByte(0)
	}
	writeMember(&out, "/", b2.Bytes())

	if longnames.Len() > 0 {
		writeMember(&out, "//", longnames.Bytes())
	}
	for i, m := range members {
		writeMember(&out, memberName[i], m.data)
	}

	_, err := w.Write(out.Bytes())
	if err != nil {
		return fmt.Errorf("write import library: %w", err)
	}
	return nil
}

// shortImport renders one short-format import object: the 20-byte
// 0x0000/0xFFFF header followed by the public symbol and dll name.
func shortImport(machine Machine, dll, sym string, e Entry) []byte {
	nameType := importByName
	if e.NoName {
		nameType = importByOrdinal
	} else if machine == I386 {
		// The public symbol carries a "_" prefix the import name must
		// not have.
		nameType = importNameNoPrefix
	}

	var names bytes.Buffer
	names.WriteString(sym)
	names.WriteByte(0)
	names.WriteString(dll)
	names.WriteByte(0)

	var b bytes.Buffer
	putU16LE(&b, 0)      // Sig1: IMAGE_FILE_MACHINE_UNKNOWN
	putU16LE(&b, 0xFFFF) // Sig2
	putU16LE(&b, 0)      // Version
	putU16LE(&b, uint16(machine))
	putU32LE(&b, 0) // TimeDateStamp
	putU32LE(&b, uint32(names.Len()))
	putU16LE(&b, e.Ordinal) // ordinal, or hint for by-name imports
	putU16LE(&b, uint16(importCode|nameType<<2))
	b.Write(names.Bytes())
	return b.Bytes()
}

// writeMember emits a 60-byte archive member header and the data,
// padded to an even boundary.
func writeMember(out *bytes.Buffer, name string, data []byte) {
	hdr := make([]byte, 60)
	for i := range hdr {
		hdr[i] = ' '
	}
	copy(hdr[0:16], name)
	copy(hdr[16:28], "0")  // mtime
	copy(hdr[40:48], "0")  // mode
	copy(hdr[48:58], fmt.Sprintf("%d", len(data)))
	copy(hdr[58:60], "`\n")
	out.Write(hdr)
	out.Write(data)
	if len(data)%2 != 0 {
		out.WriteByte('\n')
	}
}

func pad2(n int) int {
	if n%2 != 0 {
		return n + 1
	}
	return n
}

func putU16LE(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

func putU32LE(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func putU32BE(b *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}
