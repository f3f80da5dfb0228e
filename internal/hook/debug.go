package hook

import (
	"fmt"
	"os"
)

// debugTrampolines gates debugf's diagnostic output; no code in this
// package currently calls debugf. Compile-time constant so the branch
// folds away entirely in normal builds, same convention as wazevoapi's
// debug consts.
const debugTrampolines = false

func debugf(format string, args ...any) {
	if !debugTrampolines {
		return
	}
	fmt.Fprintf(os.Stderr, "hook: "+format+"\n", args...)
}
