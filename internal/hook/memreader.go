package hook

import "unsafe"

// processMemoryReader reads directly out of this process's own address
// space. Unlike frida-gum, which instruments foreign processes over a
// debugging API, this module's Non-goals restrict it to in-process
// interception (see SPEC_FULL.md §1), so "reading a candidate function's
// bytes" is just a pointer dereference.
type processMemoryReader struct{}

func (processMemoryReader) ReadUint32(addr uintptr) (uint32, error) {
	return *(*uint32)(unsafe.Pointer(addr)), nil
}
