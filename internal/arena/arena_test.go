package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocReturnsStableOffsets(t *testing.T) {
	p := New[int]()
	a := p.Alloc(3)
	b := p.Alloc(2)
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(3), b)
	assert.Equal(t, uint32(5), p.Size())
}

func TestSetAndGetRoundTrip(t *testing.T) {
	p := New[string]()
	off := p.Alloc(1)
	p.Set(off, "hello")
	assert.Equal(t, "hello", p.Get(off))
}

func TestFreeTopUndoesSpeculativeAlloc(t *testing.T) {
	p := New[int]()
	p.Alloc(4)
	off := p.Alloc(2)
	p.Set(off, 42)
	p.FreeTop(2)
	assert.Equal(t, uint32(4), p.Size())
}

func TestPointerAbsentIsNil(t *testing.T) {
	p := New[int]()
	require.Nil(t, p.Pointer(Absent))
	off := p.Alloc(1)
	ptr := p.Pointer(off)
	require.NotNil(t, ptr)
	*ptr = 7
	assert.Equal(t, 7, p.Get(off))
}

func TestSliceViewsContiguousRun(t *testing.T) {
	p := New[int]()
	off := p.Alloc(3)
	s := p.Slice(off, 3)
	s[0], s[1], s[2] = 1, 2, 3
	assert.Equal(t, []int{1, 2, 3}, p.Slice(off, 3))
}

func TestResetEmptiesPool(t *testing.T) {
	p := New[int]()
	p.Alloc(10)
	p.Reset()
	assert.Equal(t, uint32(0), p.Size())
}

func TestGeometricGrowthPastInitialCapacity(t *testing.T) {
	p := New[byte]()
	off := p.Alloc(initialCapacity + 10)
	assert.Equal(t, uint32(0), off)
	assert.Equal(t, uint32(initialCapacity+10), p.Size())
}
