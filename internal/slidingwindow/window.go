// Package slidingwindow implements a forward-only view over a source
// byte stream, used to hold the portion of a preimage blob a svndiff0
// window currently needs without buffering the whole blob up front.
package slidingwindow

import (
	"fmt"
)

// Source is anything a View can pull more bytes from sequentially. Both
// *linebuf.Reader (reading a cat-blob backchannel response) and an
// in-memory buffer wrapped the same way satisfy it.
type Source interface {
	ReadBinary(n int) ([]byte, error)
	SkipBytes(n int) (int, error)
}

// View represents bytes [off, off+len(buf)) of a Source that has
// already been read. off only ever increases.
type View struct {
	src Source
	off uint64
	buf []byte
}

// New returns a View with nothing buffered yet, reading from src.
func New(src Source) *View {
	return &View{src: src}
}

// Offset returns the absolute start of the currently buffered window.
func (v *View) Offset() uint64 {
	return v.off
}

// Bytes returns the currently buffered window.
func (v *View) Bytes() []byte {
	return v.buf
}

// Move advances/extends the window to [newOff, newOff+newLen), reading
// sequentially from the source as needed. It rejects any move that
// would require the window to slide left, matching the original's
// move_window contract: a svndiff0 source view's offset is monotonic
// non-decreasing within a blob, because the blob itself is delivered
// once, in order, over cat-blob.
func (v *View) Move(newOff uint64, newLen int) error {
	fileOffset := v.off + uint64(len(v.buf))
	if newOff < v.off || newOff+uint64(newLen) < fileOffset {
		return fmt.Errorf("slidingwindow: window cannot slide left (have [%d,%d), want [%d,%d))",
			v.off, fileOffset, newOff, newOff+uint64(newLen))
	}

	if newOff < fileOffset {
		drop := newOff - v.off
		v.buf = append([]byte(nil), v.buf[drop:]...)
	} else {
		v.buf = v.buf[:0]
		skip := newOff - fileOffset
		if skip > 0 {
			if _, err := v.src.SkipBytes(int(skip)); err != nil {
				return fmt.Errorf("slidingwindow: preimage ends early: %w", err)
			}
		}
	}
	v.off = newOff

	need := newLen - len(v.buf)
	if need > 0 {
		more, err := v.src.ReadBinary(need)
		if len(more) < need {
			return fmt.Errorf("slidingwindow: preimage ends early (wanted %d more bytes, got %d)", need, len(more))
		}
		v.buf = append(v.buf, more...)
		if err != nil {
			return fmt.Errorf("slidingwindow: preimage ends early: %w", err)
		}
	}
	return nil
}
