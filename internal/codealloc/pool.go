package codealloc

// pool hands out small byte ranges carved out of larger, page-granular
// backing slices, so that many shared deflector stubs can share one
// mmap'd page instead of costing a page each. Grounded on the bump-pointer
// reset/reuse shape of wazero's wazevoapi.Pool[T], adapted here to pool
// byte ranges of a backing allocation rather than typed Go values.
type pool struct {
	backing []*Slice
	offsets []int
}

func newPool() *pool {
	return &pool{}
}

// carve returns a size-byte range within one of the pool's backing
// slices, allocating a fresh backing slice via alloc if none has room.
// The returned sub-slice shares memory with its backing slice and must
// not be freed independently.
func (p *pool) carve(size int, alloc func() (*Slice, error)) ([]byte, uintptr, error) {
	for i, off := range p.offsets {
		s := p.backing[i]
		if off+size <= s.Size() {
			p.offsets[i] += size
			return s.data[off : off+size], s.addr + uintptr(off), nil
		}
	}
	s, err := alloc()
	if err != nil {
		return nil, 0, err
	}
	if s == nil || size > s.Size() {
		return nil, 0, ErrNoExecutableMemory
	}
	p.backing = append(p.backing, s)
	p.offsets = append(p.offsets, size)
	return s.data[:size], s.addr, nil
}
