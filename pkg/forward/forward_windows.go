//go:build windows

package forward

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/hamflx/forward-dll/pkg/errors"
	"github.com/hamflx/forward-dll/pkg/winloader"
)

// ForwardAll resolves every slot against the target library, in slot
// order, and is meant to run once from the hosting module's load
// notification. A second call is rejected with ErrAlreadyInitialized
// and performs no writes.
//
// The first failed lookup aborts the whole operation; slots already
// written stay written. That is deliberate: a partially resolved table
// is only ever consulted by entry points that resolve themselves on
// miss. On success the library handle is retained for the remaining
// process lifetime.
func (t *Table) ForwardAll() error {
	if t.initialized {
		return errors.ErrAlreadyInitialized
	}
	lib, err := winloader.Open(t.lib)
	if err != nil {
		return err
	}
	for i := range t.addrs {
		addr, err := t.resolveIn(lib, i)
		if err != nil {
			return err
		}
		atomic.StoreUintptr(&t.addrs[i], addr)
	}
	t.handle = uintptr(lib.Handle)
	t.initialized = true
	return nil
}

func (t *Table) resolveIn(lib *winloader.Library, i int) (uintptr, error) {
	if name := t.names[i]; name != "" {
		return lib.Proc(name)
	}
	return lib.ProcByOrdinal(t.ords[i])
}

// resolveSlot backs the generated entry points. It runs on the first
// call through a still-unresolved slot, acquires the target library
// itself and resolves its own symbol, tolerating missing or out-of-order
// initialization. Concurrent callers converge: loading an already
// loaded library bumps a reference count, and resolving the same name
// against the same image always yields the same address.
//
// There is no way to report failure through a call whose signature is
// unknown, so a failed resolution diverts the caller to the terminal
// thunk after a line on stderr.
func (t *Table) resolveSlot(i uintptr) uintptr {
	if addr := atomic.LoadUintptr(&t.addrs[i]); addr != 0 {
		return addr
	}
	if !t.initialized && !t.warned {
		// Benign race on warned: the worst case is a duplicate line.
		t.warned = true
		fmt.Fprintf(os.Stderr, "forward-dll: %s slot %d resolved lazily before initialization\n", t.lib, i)
	}
	// The reference taken here is never dropped; the resolved address
	// must stay valid for callers that arrive later.
	lib, err := winloader.Open(t.lib)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forward-dll: %v\n", err)
		return t.exit
	}
	addr, err := t.resolveIn(lib, int(i))
	if err != nil {
		fmt.Fprintf(os.Stderr, "forward-dll: %v\n", err)
		return t.exit
	}
	atomic.StoreUintptr(&t.addrs[i], addr)
	return addr
}

// terminate ends the process. Entry points jump here when resolution
// fails; it must never return into the caller's frame.
func terminate() uintptr {
	os.Exit(1)
	return 0
}
