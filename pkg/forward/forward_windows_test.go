//go:build windows

package forward

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/hamflx/forward-dll/pkg/errors"
	"github.com/hamflx/forward-dll/pkg/peexports"
)

func kernel32Table(t *testing.T, names ...string) *Table {
	t.Helper()
	exports := make([]peexports.Export, len(names))
	for i, n := range names {
		exports[i] = peexports.Export{Ordinal: uint32(i + 1), Name: n}
	}
	table, err := NewTable("kernel32.dll", exports)
	require.NoError(t, err)
	return table
}

func directAddr(t *testing.T, name string) uintptr {
	t.Helper()
	h, err := windows.LoadLibrary("kernel32.dll")
	require.NoError(t, err)
	addr, err := windows.GetProcAddress(h, name)
	require.NoError(t, err)
	return addr
}

func TestForwardAllResolvesEverySlot(t *testing.T) {
	names := []string{"GetCurrentProcessId", "GetTickCount", "MulDiv"}
	table := kernel32Table(t, names...)

	require.NoError(t, table.ForwardAll())
	require.True(t, table.Initialized())
	for i, n := range names {
		require.Equal(t, directAddr(t, n), table.Addr(i), "slot %d (%s)", i, n)
	}
}

func TestForwardAllSecondCallRejected(t *testing.T) {
	table := kernel32Table(t, "GetCurrentProcessId")
	require.NoError(t, table.ForwardAll())
	before := table.Addr(0)

	err := table.ForwardAll()
	require.ErrorIs(t, err, errors.ErrAlreadyInitialized)
	require.Equal(t, before, table.Addr(0))
}

func TestForwardAllMissingSymbolAborts(t *testing.T) {
	table := kernel32Table(t, "GetCurrentProcessId", "DefinitelyNotAnExport123")
	err := table.ForwardAll()
	var sysErr *errors.SysError
	require.ErrorAs(t, err, &sysErr)
	require.Equal(t, "GetProcAddress", sysErr.Op)
	require.False(t, table.Initialized())
	// Intentionally not transactional: the slot resolved before the
	// failure keeps its address.
	require.NotZero(t, table.Addr(0))
	require.Zero(t, table.Addr(1))
}

func TestForwardAllLoadFailure(t *testing.T) {
	table, err := NewTable("forward_dll_no_such_library.dll", []peexports.Export{{Ordinal: 1, Name: "Foo"}})
	require.NoError(t, err)
	err = table.ForwardAll()
	var sysErr *errors.SysError
	require.ErrorAs(t, err, &sysErr)
	require.Equal(t, "LoadLibraryW", sysErr.Op)
	require.Equal(t, uint32(windows.ERROR_MOD_NOT_FOUND), sysErr.Code)
	require.False(t, table.Initialized())
}

func TestLazyResolutionConverges(t *testing.T) {
	table := kernel32Table(t, "GetTickCount")
	want := directAddr(t, "GetTickCount")

	const callers = 16
	got := make([]uintptr, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = table.resolveSlot(0)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.Equal(t, want, got[i])
	}
	require.Equal(t, want, table.Addr(0))
}

func TestLazyResolutionAfterBulkUsesStoredAddress(t *testing.T) {
	table := kernel32Table(t, "GetCurrentProcessId")
	require.NoError(t, table.ForwardAll())
	require.Equal(t, table.Addr(0), table.resolveSlot(0))
}
