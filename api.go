// Package forwarddll builds forwarding DLL artifacts: given a target
// library and its export table, it produces a module surface that
// exposes the identical exports and redirects every call to the real
// implementation, without knowing any function's signature.
//
// Two mechanisms exist. The link-time path emits /EXPORT forwarder
// directives plus a synthetic import library, and the OS loader does
// the forwarding natively. The runtime path builds a slot table
// (pkg/forward) whose generated entry points tail-jump into addresses
// resolved in bulk from the hosting module's load notification, or
// lazily on first call.
package forwarddll

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hamflx/forward-dll/pkg/forward"
	"github.com/hamflx/forward-dll/pkg/implib"
	"github.com/hamflx/forward-dll/pkg/linker"
	"github.com/hamflx/forward-dll/pkg/peexports"
)

// Export is one export directory entry of the target library.
type Export = peexports.Export

// Table is the runtime forwarder's slot table.
type Table = forward.Table

var (
	ReadExports   = peexports.ReadFile
	ParseExports  = peexports.Read
	NewTable      = forward.NewTable
	ExportNames   = linker.ExportNames
	Directives    = linker.Directives
	Def           = linker.Def
	WriteLinkArgs = linker.WriteLinkArgs
	ReadLinkArgs  = linker.ReadLinkArgs
)

// Config drives generation.
type Config struct {
	// Target is the library identifier used for loading at runtime and
	// for naming forwarder entries.
	Target string
	// DevPath optionally points at a build-time copy of the target,
	// used only to read the export table. Empty means Target.
	DevPath string
	// OrdinalExact routes the directives through an intermediate file
	// consumed by a later build stage, preserving the target's exact
	// ordinal-to-symbol mapping across nested builds.
	OrdinalExact bool
	// OutDir receives the generated artifacts.
	OutDir string
	// Machine of the import library. Defaults to AMD64.
	Machine implib.Machine
}

// LinkArgsName is the intermediate file carrying ordinal-exact
// directives between build stages.
const LinkArgsName = "ordinal_link_args.txt"

// Artifacts is what Generate produced.
type Artifacts struct {
	// ExportNames equals, one-to-one, the target's export names at
	// generation time, with synthesized placeholders for anonymous
	// exports.
	ExportNames  []string
	Directives   []string
	ImportLib    string
	LinkArgsFile string
}

// Generate reads the target's export table and produces the link-time
// artifacts: the directive list, the import library, and in
// ordinal-exact mode the intermediate link-args file.
func Generate(cfg Config) (*Artifacts, error) {
	dev := cfg.DevPath
	if dev == "" {
		dev = cfg.Target
	}
	exports, err := peexports.ReadFile(dev)
	if err != nil {
		return nil, err
	}

	machine := cfg.Machine
	if machine == 0 {
		machine = implib.AMD64
	}

	art := &Artifacts{
		ExportNames: linker.ExportNames(exports),
		Directives:  linker.Directives(cfg.Target, exports),
	}

	art.ImportLib = filepath.Join(cfg.OutDir, linker.BaseName(cfg.Target)+"_proxy.lib")
	f, err := os.Create(art.ImportLib)
	if err != nil {
		return nil, fmt.Errorf("create import library: %w", err)
	}
	defer f.Close()
	if err := implib.Write(f, linker.FileName(cfg.Target), machine, linker.ImportEntries(exports)); err != nil {
		return nil, err
	}

	if cfg.OrdinalExact {
		art.LinkArgsFile = filepath.Join(cfg.OutDir, LinkArgsName)
		if err := linker.WriteLinkArgs(art.LinkArgsFile, art.Directives); err != nil {
			return nil, err
		}
	}
	return art, nil
}
