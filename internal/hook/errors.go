package hook

import "errors"

// Sentinel errors returned by Backend methods. Wrapped with fmt.Errorf's
// %w where extra context helps a caller decide what to do next; compared
// with errors.Is everywhere else. Mirrors the plain error/panic("BUG")
// convention used throughout the teacher's arm64 backend rather than
// introducing a third-party error-wrapping library (see SPEC_FULL.md §7).
var (
	// ErrUnhookable is returned when the Reach Analyser cannot find any
	// redirect size (4, 8 or 16 bytes) the target function's prologue
	// can accommodate while still yielding a scratch register, or when
	// the relocator hits an instruction it cannot safely relocate before
	// accumulating enough bytes for the smallest viable redirect.
	ErrUnhookable = errors.New("hook: function prologue cannot be intercepted")

	// ErrOutOfExecMemory is returned, wrapping the allocator's own error,
	// when the allocator cannot produce any executable slice at all (not
	// merely "not near enough" — that case falls back to a deflector
	// instead of failing).
	ErrOutOfExecMemory = errors.New("hook: no executable memory available")

	// ErrDeflectorFailed is returned when a redirect size needs a
	// deflector (the trampoline landed out of direct branch range) but
	// the allocator could not place one within range of the call site
	// either.
	ErrDeflectorFailed = errors.New("hook: could not allocate a deflector within branch range")

	// ErrTrampolineTooLarge is what the post-emission size checks return
	// when a writer's offset ends past its code slice. The writer itself
	// panics as soon as an instruction would not fit its buffer, so an
	// overflow surfaces as that panic before these checks run; either
	// way it is a backend bug, not a caller error.
	ErrTrampolineTooLarge = errors.New("hook: trampoline overflowed its code slice")
)
