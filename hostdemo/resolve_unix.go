//go:build unix

// Package hostdemo is a minimal reference embedding host: it resolves a
// real libc symbol, drives the interception core's full
// create/activate/deactivate/destroy lifecycle against it, and keeps the
// small amount of bookkeeping (return-address stack, page-protection
// transitions) spec.md names as "external collaborator" responsibilities
// the core itself does not implement. It is intentionally not a
// production embedding host: no thread suspension, no codesigning
// workarounds, single library handle, single hook at a time per function.
package hostdemo

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// ResolveSymbol opens library (a dlopen-able name or path, e.g.
// "libc.so.6" or "libSystem.dylib") and returns the absolute address of
// symbol within it. Grounded on purego's Dlopen/Dlsym pair as used
// throughout tinyrange-cc's platform bindings (e.g.
// internal/gowin/window/clipboard_linux.go's initClipboardX11), except
// this module needs the raw symbol address rather than a typed
// RegisterLibFunc wrapper, since the interception core patches machine
// code at that address rather than calling through it.
func ResolveSymbol(library, symbol string) (uintptr, error) {
	handle, err := purego.Dlopen(library, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, fmt.Errorf("hostdemo: dlopen %s: %w", library, err)
	}

	addr, err := purego.Dlsym(handle, symbol)
	if err != nil {
		return 0, fmt.Errorf("hostdemo: dlsym %s in %s: %w", symbol, library, err)
	}
	return addr, nil
}
