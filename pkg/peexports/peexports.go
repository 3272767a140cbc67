package peexports

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Binject/debug/pe"

	"github.com/hamflx/forward-dll/pkg/errors"
)

// Export is one entry of a PE export directory, in directory order.
// Name is empty for ordinal-only exports.
type Export struct {
	Ordinal uint32
	Name    string
}

// exportDirectory mirrors IMAGE_EXPORT_DIRECTORY.
type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// maxExports bounds table sizes read from the image. Name ordinals and
// import ordinals are 16-bit, so a larger count cannot belong to a real
// directory and would let a corrupt count drive allocation.
const maxExports = 1 << 16

// ReadFile enumerates the export directory of the PE image at path.
func ReadFile(path string) ([]Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(data)
}

// machineOf extracts the COFF machine field without parsing further.
// The full parser rejects machine values it does not know, which would
// misreport a valid image for a foreign architecture as unrecognized,
// so the field is classified before the image is handed over.
func machineOf(data []byte) (uint16, error) {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return 0, &errors.FormatError{Kind: errors.NotRecognized}
	}
	lfanew := binary.LittleEndian.Uint32(data[0x3C:])
	if int64(lfanew)+6 > int64(len(data)) {
		return 0, &errors.FormatError{Kind: errors.NotRecognized}
	}
	if !bytes.Equal(data[lfanew:lfanew+4], []byte("PE\x00\x00")) {
		return 0, &errors.FormatError{Kind: errors.NotRecognized}
	}
	return binary.LittleEndian.Uint16(data[lfanew+4:]), nil
}

// Read enumerates the export directory of a PE image held in memory.
// Entries come back exactly as the directory stores them: directory
// order, ordinals verbatim, unnamed entries with an empty name. No
// deduplication, no sorting.
func Read(data []byte) ([]Export, error) {
	machine, err := machineOf(data)
	if err != nil {
		return nil, err
	}
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_AMD64:
	default:
		return nil, &errors.FormatError{
			Kind:   errors.UnsupportedArchitecture,
			Detail: fmt.Sprintf("machine 0x%x", machine),
		}
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &errors.FormatError{Kind: errors.NotRecognized, Detail: err.Error()}
	}
	defer f.Close()

	// The optional header flavor decides the image layout; the export
	// data directory is entry 0 in both.
	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > 0 {
			dir = oh.DataDirectory[0]
		}
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > 0 {
			dir = oh.DataDirectory[0]
		}
	default:
		return nil, &errors.FormatError{Kind: errors.NotRecognized, Detail: "no optional header"}
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, &errors.FormatError{Kind: errors.NoExportTable}
	}

	r := &imageReader{file: f, data: data}
	var ed exportDirectory
	if err := r.readAt(dir.VirtualAddress, &ed); err != nil {
		return nil, err
	}
	if ed.NumberOfFunctions > maxExports || ed.NumberOfNames > maxExports {
		return nil, &errors.FormatError{Kind: errors.Malformed, Detail: "export count out of range"}
	}

	// Names bind to function indices through AddressOfNameOrdinals.
	nameByIndex := make(map[uint16]string, ed.NumberOfNames)
	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA, err := r.uint32At(ed.AddressOfNames + i*4)
		if err != nil {
			return nil, err
		}
		index, err := r.uint16At(ed.AddressOfNameOrdinals + i*2)
		if err != nil {
			return nil, err
		}
		name, err := r.cstringAt(nameRVA)
		if err != nil {
			return nil, err
		}
		nameByIndex[index] = name
	}

	// Directory order. Zero RVAs are gaps left by skipped ordinals;
	// forwarder entries are exports like any other.
	exports := make([]Export, 0, ed.NumberOfFunctions)
	for i := uint32(0); i < ed.NumberOfFunctions; i++ {
		funcRVA, err := r.uint32At(ed.AddressOfFunctions + i*4)
		if err != nil {
			return nil, err
		}
		if funcRVA == 0 {
			continue
		}
		exports = append(exports, Export{
			Ordinal: ed.Base + i,
			Name:    nameByIndex[uint16(i)],
		})
	}
	return exports, nil
}

// imageReader reads structures out of the raw file by RVA.
type imageReader struct {
	file *pe.File
	data []byte
}

func (r *imageReader) offset(rva uint32) (uint32, error) {
	for _, s := range r.file.Sections {
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			return rva - s.VirtualAddress + s.Offset, nil
		}
	}
	return 0, &errors.FormatError{
		Kind:   errors.Malformed,
		Detail: fmt.Sprintf("rva 0x%x outside every section", rva),
	}
}

func (r *imageReader) readAt(rva uint32, v any) error {
	off, err := r.offset(rva)
	if err != nil {
		return err
	}
	if int64(off) > int64(len(r.data)) {
		return &errors.FormatError{Kind: errors.Malformed, Detail: "structure past end of file"}
	}
	if err := binary.Read(bytes.NewReader(r.data[off:]), binary.LittleEndian, v); err != nil {
		return &errors.FormatError{Kind: errors.Malformed, Detail: err.Error()}
	}
	return nil
}

func (r *imageReader) uint32At(rva uint32) (uint32, error) {
	off, err := r.offset(rva)
	if err != nil {
		return 0, err
	}
	if int64(off)+4 > int64(len(r.data)) {
		return 0, &errors.FormatError{Kind: errors.Malformed, Detail: "read past end of file"}
	}
	return binary.LittleEndian.Uint32(r.data[off:]), nil
}

func (r *imageReader) uint16At(rva uint32) (uint16, error) {
	off, err := r.offset(rva)
	if err != nil {
		return 0, err
	}
	if int64(off)+2 > int64(len(r.data)) {
		return 0, &errors.FormatError{Kind: errors.Malformed, Detail: "read past end of file"}
	}
	return binary.LittleEndian.Uint16(r.data[off:]), nil
}

func (r *imageReader) cstringAt(rva uint32) (string, error) {
	off, err := r.offset(rva)
	if err != nil {
		return "", err
	}
	for i := off; int64(i) < int64(len(r.data)); i++ {
		if r.data[i] == 0 {
			return string(r.data[off:i]), nil
		}
	}
	return "", &errors.FormatError{Kind: errors.Malformed, Detail: "unterminated name"}
}
