package hook

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/oleavr/arm64interceptor/internal/arm64enc"
	"github.com/oleavr/arm64interceptor/internal/codealloc"
)

// Backend is the ARM64 interception core: one instance owns a shared pair
// of enter/leave thunks and serializes trampoline construction behind a
// mutex, the same shape as GumInterceptorBackend (one writer, one
// relocator, reused and reset for every call instead of allocated fresh
// per function). See SPEC_FULL.md §5 for why trampoline construction is
// serialized rather than made safe for concurrent CreateTrampoline calls:
// the writer/relocator pair is reset-and-reused exactly as the teacher's
// native backend does it, which only works single-threaded.
type Backend struct {
	mu    sync.Mutex
	alloc codealloc.Allocator

	writer    arm64enc.Writer
	relocator *arm64enc.Relocator
	reader    memReader

	enterThunk *codealloc.Slice
	leaveThunk *codealloc.Slice
}

// memReader reads target-process memory for the relocator. The real
// deployment reads the same address space the backend itself runs in (an
// in-process hook), so it is just raw pointer dereferencing; see
// memreader.go's processMemoryReader.
type memReader = arm64enc.Reader

// NewBackend creates the shared enter/leave thunks and returns a Backend
// ready to hook functions in the current process's address space.
// Grounded on _gum_interceptor_backend_create.
func NewBackend(alloc codealloc.Allocator) (*Backend, error) {
	b := &Backend{
		alloc:  alloc,
		reader: processMemoryReader{},
	}
	b.relocator = arm64enc.NewRelocator(b.reader)

	if err := b.createThunks(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) createThunks() error {
	enterDispatch := purego.NewCallback(dispatchEnter)
	leaveDispatch := purego.NewCallback(dispatchLeave)

	enter, err := b.alloc.AllocSlice()
	if err != nil {
		return fmt.Errorf("%w: enter thunk", err)
	}
	b.writer.Reset(enter.Bytes(), enter.Addr())
	buildEnterThunk(&b.writer, enterDispatch)
	if b.writer.Offset() > enter.Size() {
		return ErrTrampolineTooLarge
	}
	b.enterThunk = enter

	leave, err := b.alloc.AllocSlice()
	if err != nil {
		return fmt.Errorf("%w: leave thunk", err)
	}
	b.writer.Reset(leave.Bytes(), leave.Addr())
	buildLeaveThunk(&b.writer, leaveDispatch)
	if b.writer.Offset() > leave.Size() {
		return ErrTrampolineTooLarge
	}
	b.leaveThunk = leave

	return nil
}

// Close releases the shared thunks. Any FunctionContext still active must
// be destroyed first via DestroyTrampoline.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.enterThunk != nil {
		b.alloc.FreeSlice(b.enterThunk)
		b.enterThunk = nil
	}
	if b.leaveThunk != nil {
		b.alloc.FreeSlice(b.leaveThunk)
		b.leaveThunk = nil
	}
	return nil
}
