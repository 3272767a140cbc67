// Package linker generates the link-time forwarding artifacts: export
// directives that make the OS loader forward natively through the
// export directory, the module-definition text describing them, and the
// intermediate link-args file used for ordinal-exact builds.
package linker

import (
	"fmt"
	"os"
	"strings"

	"github.com/hamflx/forward-dll/pkg/implib"
	"github.com/hamflx/forward-dll/pkg/peexports"
)

// FileName strips any directory from the target identifier. Both
// separators are handled regardless of host OS: generation may run
// anywhere while the identifier is a Windows path.
func FileName(target string) string {
	if i := strings.LastIndexAny(target, `\/`); i >= 0 {
		return target[i+1:]
	}
	return target
}

// BaseName strips any directory and a trailing ".dll" from the target
// identifier; forwarder entries name the target module without the
// extension.
func BaseName(target string) string {
	base := FileName(target)
	if strings.HasSuffix(strings.ToLower(base), ".dll") {
		base = base[:len(base)-len(".dll")]
	}
	return base
}

// anonName synthesizes the placeholder export name for the k-th
// anonymous export (1-based). Placeholders must be unique and
// deterministic: the numbering is part of the generated artifact.
func anonName(k int) string {
	return fmt.Sprintf("forward_anon_%d", k)
}

// ExportNames returns the generated module's export-name list, one per
// target export in directory order, with placeholders standing in for
// anonymous entries.
func ExportNames(exports []peexports.Export) []string {
	names := make([]string, len(exports))
	anon := 0
	for i, e := range exports {
		if e.Name == "" {
			anon++
			names[i] = anonName(anon)
		} else {
			names[i] = e.Name
		}
	}
	return names
}

// Directives renders one linker export directive per target export.
// Named exports forward by name, anonymous ones by #ordinal under a
// placeholder marked NONAME. No code backs these exports: the loader
// resolves them through forwarder RVAs.
func Directives(target string, exports []peexports.Export) []string {
	base := BaseName(target)
	out := make([]string, len(exports))
	anon := 0
	for i, e := range exports {
		if e.Name == "" {
			anon++
			out[i] = fmt.Sprintf("/EXPORT:%s=%s.#%d,@%d,NONAME", anonName(anon), base, e.Ordinal, e.Ordinal)
		} else {
			out[i] = fmt.Sprintf("/EXPORT:%s=%s.%s,@%d", e.Name, base, e.Name, e.Ordinal)
		}
	}
	return out
}

// Def renders the module-definition text declaring every export with
// its ordinal, anonymous ones NONAME. This is the descriptor the
// import-library builder consumes.
func Def(target string, exports []peexports.Export) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LIBRARY %s\nEXPORTS\n", BaseName(target))
	names := ExportNames(exports)
	for i, e := range exports {
		if e.Name == "" {
			fmt.Fprintf(&b, "  %s @%d NONAME\n", names[i], e.Ordinal)
		} else {
			fmt.Fprintf(&b, "  %s @%d\n", names[i], e.Ordinal)
		}
	}
	return b.String()
}

// ImportEntries pairs the generated export-name list with ordinals for
// the import-library builder, so placeholders match the directives.
func ImportEntries(exports []peexports.Export) []implib.Entry {
	names := ExportNames(exports)
	entries := make([]implib.Entry, len(exports))
	for i, e := range exports {
		entries[i] = implib.Entry{
			Symbol:  names[i],
			Ordinal: uint16(e.Ordinal),
			NoName:  e.Name == "",
		}
	}
	return entries
}

// WriteLinkArgs writes the directives to an intermediate file, one per
// line, for a later build stage to re-emit as linker arguments.
// Ordinal-exact forwarding goes through this file because linker
// arguments do not propagate reliably across nested build stages.
func WriteLinkArgs(path string, directives []string) error {
	return os.WriteFile(path, []byte(strings.Join(directives, "\n")+"\n"), 0o644)
}

// ReadLinkArgs reads a file written by WriteLinkArgs back, trimming
// whitespace and skipping blank lines.
func ReadLinkArgs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
