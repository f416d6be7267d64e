// Package arena implements typed, index-addressed growable stores.
//
// The revision tree, the string pool and the treap all need the same
// shape of storage: many small fixed-size records that are allocated in
// bulk, never individually freed, but sometimes "freed from the top"
// when a speculative allocation turns out to be unnecessary. Go slices
// already grow geometrically, so Pool is a thin wrapper that adds the
// two operations append doesn't give you for free: a stable offset for
// every element, and shrinking the live region without giving back the
// backing array.
package arena

// Absent is the sentinel offset meaning "no such element". It is the Go
// analogue of the original pool's NULL/~0 convention.
const Absent uint32 = ^uint32(0)

// initialCapacity mirrors the original obj_pool_gen macro's starting
// capacity before the first doubling.
const initialCapacity = 4096

// Pool is a growable, index-addressed store of T. The zero value is not
// usable; construct with New.
type Pool[T any] struct {
	items []T
}

// New creates a Pool with room for at least initialCapacity elements
// before its first reallocation.
func New[T any]() *Pool[T] {
	return &Pool[T]{items: make([]T, 0, initialCapacity)}
}

// Alloc appends n zero-valued elements and returns the offset of the
// first one. Like the C pool, growth is geometric (Go's append already
// does this); there is no explicit capacity management needed here.
func (p *Pool[T]) Alloc(n int) uint32 {
	off := uint32(len(p.items))
	var zero T
	for i := 0; i < n; i++ {
		p.items = append(p.items, zero)
	}
	return off
}

// FreeTop shrinks the live region by n elements, undoing a speculative
// Alloc. It does not release the backing array.
func (p *Pool[T]) FreeTop(n int) {
	p.items = p.items[:len(p.items)-n]
}

// Pointer returns a mutable view of the element at off, or nil if off is
// Absent. The returned pointer is only valid until the next Alloc call,
// which may grow (and therefore relocate) the backing slice.
func (p *Pool[T]) Pointer(off uint32) *T {
	if off == Absent {
		return nil
	}
	return &p.items[off]
}

// Get is a convenience for reading a copy of the element at off.
func (p *Pool[T]) Get(off uint32) T {
	return p.items[off]
}

// Set writes v into the element at off.
func (p *Pool[T]) Set(off uint32, v T) {
	p.items[off] = v
}

// Slice returns a view over the n elements starting at off. Like
// Pointer, it is only valid until the next Alloc.
func (p *Pool[T]) Slice(off uint32, n uint32) []T {
	return p.items[off : off+n]
}

// Size returns the number of live elements, i.e. the offset the next
// Alloc(1) would return.
func (p *Pool[T]) Size() uint32 {
	return uint32(len(p.items))
}

// Reset empties the pool without releasing its backing array.
func (p *Pool[T]) Reset() {
	p.items = p.items[:0]
}
