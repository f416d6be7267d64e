// Package strpool interns byte strings into 32-bit ids. Two calls to
// Intern with equal bytes always return the same id within the
// lifetime of a Pool; the id doubles as the node index of a treap kept
// over the interned values, giving lookup without a separate hash map.
package strpool

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/barrbrain/svn-fast-export/internal/arena"
	"github.com/barrbrain/svn-fast-export/internal/treap"
)

// Absent is the id Intern returns for a nil key, and the value callers
// use for a string that is not there (no author, log, uuid or url).
// TokenizeSeq never returns it: empty tokens are dropped, not interned.
const Absent = arena.Absent

// MaxPathDepth bounds the number of interned components a single path
// may carry, matching the original's fixed path_stack size.
const MaxPathDepth = 1000

type node struct {
	offset uint32
	length uint32
	left   uint32
	right  uint32
}

// Pool interns byte strings to ids. The zero value is not usable;
// construct with New.
type Pool struct {
	data  *arena.Pool[byte]
	nodes *arena.Pool[node]
	tree  *treap.Tree
}

// New returns an empty interning pool. Id 0 is not reserved for
// anything special here (unlike the C pool, which reserves index 0 for
// NULL) because Go already has a dedicated Absent sentinel distinct
// from any valid id.
func New() *Pool {
	return &Pool{
		data:  arena.New[byte](),
		nodes: arena.New[node](),
		tree:  treap.NewTree(),
	}
}

// Left, Right, SetLeft, SetRight and Compare implement treap.Ops so Pool
// itself can drive Tree.Search/Insert without a parallel node store.
func (p *Pool) Left(id uint32) uint32     { return p.nodes.Get(id).left }
func (p *Pool) Right(id uint32) uint32    { return p.nodes.Get(id).right }
func (p *Pool) SetLeft(id, left uint32)   { n := p.nodes.Get(id); n.left = left; p.nodes.Set(id, n) }
func (p *Pool) SetRight(id, right uint32) { n := p.nodes.Get(id); n.right = right; p.nodes.Set(id, n) }

func (p *Pool) Compare(a, b uint32) int {
	c := bytes.Compare(p.bytesOf(a), p.bytesOf(b))
	if c != 0 {
		return c
	}
	// Identity tiebreak: keeps the treap a proper BST even while two
	// distinct ids are briefly interned with equal bytes (during the
	// speculative-insert race window Intern itself resolves).
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (p *Pool) bytesOf(id uint32) []byte {
	n := p.nodes.Get(id)
	return p.data.Slice(n.offset, n.length)
}

// Fetch returns the interned bytes for id. id must have come from
// Intern on this Pool.
func (p *Pool) Fetch(id uint32) []byte {
	return p.bytesOf(id)
}

// FetchString is Fetch with a string conversion for callers that only
// ever interned text (paths, author names, log messages).
func (p *Pool) FetchString(id uint32) string {
	return string(p.Fetch(id))
}

// Intern returns the id for key, minting a new one if key has never
// been seen. A nil key returns Absent rather than interning anything.
func (p *Pool) Intern(key []byte) uint32 {
	if key == nil {
		return Absent
	}
	// Speculatively append the node and its bytes at the current tops;
	// if this turns out to duplicate an existing value, both allocations
	// are rolled back with FreeTop.
	id := p.nodes.Alloc(1)
	off := p.data.Alloc(len(key))
	copy(p.data.Slice(off, uint32(len(key))), key)
	p.nodes.Set(id, node{offset: off, length: uint32(len(key)), left: treap.Nil, right: treap.Nil})

	// Search by value alone: Compare's identity tiebreak would never let
	// the speculative id compare equal to an existing node.
	match := treap.Nil
	for cur := p.tree.Root; cur != treap.Nil; {
		c := bytes.Compare(key, p.bytesOf(cur))
		if c == 0 {
			match = cur
			break
		}
		if c < 0 {
			cur = p.Left(cur)
		} else {
			cur = p.Right(cur)
		}
	}
	if match != treap.Nil {
		p.nodes.FreeTop(1)
		p.data.FreeTop(len(key))
		return match
	}
	p.tree.Insert(p, id)
	return id
}

// InternString is Intern for callers holding a Go string.
func (p *Pool) InternString(key string) uint32 {
	return p.Intern([]byte(key))
}

// TokenizeSeq splits s on any byte in delim, interns each non-empty
// token and returns the resulting ids. A path tokenising to more than
// MaxPathDepth components fails cleanly rather than truncating, per the
// boundary behaviour spec.md requires. Unlike the C pool_tok_seq this
// does not write a trailing Absent sentinel into the result; callers
// use len(ids) instead of scanning for one, which is the idiomatic Go
// equivalent spec.md's own design notes endorse for arena offsets.
func TokenizeSeq(p *Pool, s string, delim string) ([]uint32, error) {
	var ids []uint32
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(delim, r)
	}) {
		if len(ids) >= MaxPathDepth {
			return nil, fmt.Errorf("path exceeds maximum depth of %d components: %q", MaxPathDepth, s)
		}
		ids = append(ids, p.InternString(tok))
	}
	return ids, nil
}

// PrintSeq joins the strings for ids with sep.
func (p *Pool) PrintSeq(ids []uint32, sep byte) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(sep)
		}
		b.Write(p.Fetch(id))
	}
	return b.String()
}
