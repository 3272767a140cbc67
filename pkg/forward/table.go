// Package forward holds the slot table shared by the forwarding
// mechanisms and, on Windows, the generated entry points that redirect
// calls into the target library.
package forward

import (
	"sync/atomic"

	"github.com/hamflx/forward-dll/pkg/errors"
	"github.com/hamflx/forward-dll/pkg/peexports"
)

// Table is the fixed table of forwarding slots, one per export of the
// target library. Slot index equals position in the export list handed
// to NewTable and never changes afterwards: generated artifacts bake
// the numbering in. Slots are written at most once, by resolution, and
// only through sync/atomic, so a half-written address is never visible.
type Table struct {
	lib   string
	ords  []uint32
	names []string
	addrs []uintptr

	// initialized never reverts to false once set. It is a misuse
	// guard, not a concurrency primitive: bulk resolution runs inside
	// the loader-serialized load notification.
	initialized bool
	warned      bool

	// handle of the target library, kept for the remaining process
	// lifetime; trampolines may call into it at any later point.
	handle uintptr

	stubs    uintptr
	resolver uintptr
	exit     uintptr
}

// NewTable builds the slot table from an export enumeration, usually of
// a build-time copy of the target. The order of exports is the order of
// slots.
func NewTable(lib string, exports []peexports.Export) (*Table, error) {
	if len(exports) == 0 {
		return nil, &errors.FormatError{Kind: errors.NoExportTable}
	}
	t := &Table{
		lib:   lib,
		ords:  make([]uint32, len(exports)),
		names: make([]string, len(exports)),
		addrs: make([]uintptr, len(exports)),
	}
	for i, e := range exports {
		t.ords[i] = e.Ordinal
		t.names[i] = e.Name
	}
	return t, nil
}

// Library returns the target library identifier used for loading.
func (t *Table) Library() string { return t.lib }

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.addrs) }

// Name returns the export name of slot i, empty for ordinal-only
// exports.
func (t *Table) Name(i int) string { return t.names[i] }

// Ordinal returns the export ordinal of slot i.
func (t *Table) Ordinal(i int) uint32 { return t.ords[i] }

// Addr returns the resolved target address of slot i, zero while the
// slot is unresolved.
func (t *Table) Addr(i int) uintptr { return atomic.LoadUintptr(&t.addrs[i]) }

// Initialized reports whether bulk resolution has completed.
func (t *Table) Initialized() bool { return t.initialized }
