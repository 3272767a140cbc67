package implib

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hamflx/forward-dll/pkg/errors"
)

type archiveMember struct {
	name   string
	offset int // byte offset of the 60-byte header
	data   []byte
}

// parseArchive splits an ar archive into its members, checking the
// framing invariants along the way.
func parseArchive(t *testing.T, raw []byte) []archiveMember {
	t.Helper()
	require.True(t, bytes.HasPrefix(raw, []byte(archiveMagic)), "missing archive magic")

	var members []archiveMember
	off := len(archiveMagic)
	for off < len(raw) {
		require.LessOrEqual(t, off+60, len(raw), "truncated member header")
		hdr := raw[off : off+60]
		require.Equal(t, "`\n", string(hdr[58:60]), "bad header terminator")
		size, err := strconv.Atoi(strings.TrimSpace(string(hdr[48:58])))
		require.NoError(t, err)
		require.LessOrEqual(t, off+60+size, len(raw), "member data past end")
		members = append(members, archiveMember{
			name:   strings.TrimRight(string(hdr[0:16]), " "),
			offset: off,
			data:   raw[off+60 : off+60+size],
		})
		off += 60 + size
		if size%2 != 0 {
			off++
		}
	}
	return members
}

func sampleEntries() []Entry {
	return []Entry{
		{Symbol: "Foo", Ordinal: 1},
		{Symbol: "forward_anon_1", Ordinal: 3, NoName: true},
	}
}

func TestWriteArchiveLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", AMD64, sampleEntries()))

	members := parseArchive(t, buf.Bytes())
	require.Len(t, members, 4)
	require.Equal(t, "/", members[0].name)
	require.Equal(t, "/", members[1].name)
	require.Equal(t, "target.dll/", members[2].name)
	require.Equal(t, "target.dll/", members[3].name)
}

func TestFirstLinkerMember(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", AMD64, sampleEntries()))
	members := parseArchive(t, buf.Bytes())

	data := members[0].data
	count := binary.BigEndian.Uint32(data[0:4])
	require.Equal(t, uint32(4), count, "two symbols per import member")

	offsets := make([]int, count)
	for i := range offsets {
		offsets[i] = int(binary.BigEndian.Uint32(data[4+4*i:]))
	}
	// Offsets appear in member order and point at real member headers.
	require.Equal(t, members[2].offset, offsets[0])
	require.Equal(t, members[2].offset, offsets[1])
	require.Equal(t, members[3].offset, offsets[2])
	require.Equal(t, members[3].offset, offsets[3])

	names := strings.Split(strings.TrimRight(string(data[4+4*count:]), "\x00"), "\x00")
	require.Equal(t, []string{"__imp_Foo", "Foo", "__imp_forward_anon_1", "forward_anon_1"}, names)
}

func TestSecondLinkerMember(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", AMD64, sampleEntries()))
	members := parseArchive(t, buf.Bytes())

	data := members[1].data
	nMembers := binary.LittleEndian.Uint32(data[0:4])
	require.Equal(t, uint32(2), nMembers)
	require.Equal(t, uint32(members[2].offset), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint32(members[3].offset), binary.LittleEndian.Uint32(data[8:12]))

	nSyms := binary.LittleEndian.Uint32(data[12:16])
	require.Equal(t, uint32(4), nSyms)

	indices := make([]uint16, nSyms)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint16(data[16+2*i:])
	}
	// Symbols sorted by name for binary search, indices 1-based.
	names := strings.Split(strings.TrimRight(string(data[16+2*int(nSyms):]), "\x00"), "\x00")
	require.Equal(t, []string{"Foo", "__imp_Foo", "__imp_forward_anon_1", "forward_anon_1"}, names)
	require.Equal(t, []uint16{1, 1, 2, 2}, indices)
}

func TestShortImportByName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", AMD64, sampleEntries()))
	members := parseArchive(t, buf.Bytes())

	data := members[2].data
	require.Equal(t, uint16(0x0000), binary.LittleEndian.Uint16(data[0:2]))
	require.Equal(t, uint16(0xFFFF), binary.LittleEndian.Uint16(data[2:4]))
	require.Equal(t, uint16(AMD64), binary.LittleEndian.Uint16(data[6:8]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[16:18]), "hint")
	require.Equal(t, uint16(importCode|importByName<<2), binary.LittleEndian.Uint16(data[18:20]))
	require.Equal(t, "Foo\x00target.dll\x00", string(data[20:]))
}

func TestShortImportByOrdinal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", AMD64, sampleEntries()))
	members := parseArchive(t, buf.Bytes())

	data := members[3].data
	require.Equal(t, uint16(3), binary.LittleEndian.Uint16(data[16:18]), "ordinal")
	require.Equal(t, uint16(importCode|importByOrdinal<<2), binary.LittleEndian.Uint16(data[18:20]))
	require.Equal(t, "forward_anon_1\x00target.dll\x00", string(data[20:]))
}

func TestI386SymbolDecoration(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "target.dll", I386, []Entry{{Symbol: "Foo", Ordinal: 1}}))
	members := parseArchive(t, buf.Bytes())

	data := members[0].data
	count := binary.BigEndian.Uint32(data[0:4])
	names := strings.Split(strings.TrimRight(string(data[4+4*count:]), "\x00"), "\x00")
	require.Equal(t, []string{"__imp__Foo", "_Foo"}, names)

	obj := members[2].data
	require.Equal(t, uint16(I386), binary.LittleEndian.Uint16(obj[6:8]))
	require.Equal(t, uint16(importCode|importNameNoPrefix<<2), binary.LittleEndian.Uint16(obj[18:20]))
	require.Equal(t, "_Foo\x00target.dll\x00", string(obj[20:]))
}

func TestLongDllNameUsesLongnameTable(t *testing.T) {
	dll := "a_rather_long_module_name.dll"
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dll, AMD64, []Entry{{Symbol: "Foo", Ordinal: 1}}))
	members := parseArchive(t, buf.Bytes())

	require.Len(t, members, 4)
	require.Equal(t, "//", members[2].name)
	require.Equal(t, dll+"\x00", string(members[2].data))
	require.Equal(t, "/0", members[3].name)
}

func TestWriteUnsupportedMachine(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, "target.dll", Machine(0xaa64), sampleEntries())
	require.Error(t, err)
	require.True(t, errors.IsKind(err, errors.UnsupportedArchitecture))
	require.Zero(t, buf.Len())
}
