// Package svndiff applies svndiff0, Subversion's windowed binary delta
// format, reconstructing a post-image from a preimage view plus an
// instruction/data stream. Unlike the reference decoder this
// implementation actually executes COPYFROM_SOURCE/COPYFROM_TARGET/
// COPYFROM_DATA rather than rejecting any window carrying
// instructions.
package svndiff

import (
	"bytes"
	"fmt"
	"io"

	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/slidingwindow"
)

var magic = [4]byte{'S', 'V', 'N', 0}

const (
	vliContinue  = 0x80
	vliDigitMask = 0x7f
	vliBits      = 7
)

// opcode is the 2-bit instruction selector packed into an instruction
// byte's top bits.
type opcode byte

const (
	opSource opcode = 0
	opTarget opcode = 1
	opData   opcode = 2
)

// Source is the preimage a delta is applied against: a forward-only
// sliding view, positioned per-window by Apply before instructions run.
type Source interface {
	Bytes() []byte
	Move(off uint64, length int) error
}

var _ Source = (*slidingwindow.View)(nil)

// Apply reads a svndiff0 stream of exactly deltaLen bytes from r,
// applying each window against source and writing the reconstructed
// post-image to out.
func Apply(r *linebuf.Reader, deltaLen int64, source Source, out io.Writer) error {
	remaining := deltaLen
	if err := readMagic(r, &remaining); err != nil {
		return err
	}
	for remaining > 0 {
		srcOff, err := readVLI(r, &remaining)
		if err != nil {
			return err
		}
		srcLen, err := readLength(r, &remaining)
		if err != nil {
			return err
		}
		if err := source.Move(srcOff, srcLen); err != nil {
			return fmt.Errorf("svndiff: %w", err)
		}
		if err := applyWindow(r, &remaining, source.Bytes(), out); err != nil {
			return err
		}
	}
	return nil
}

func readMagic(r *linebuf.Reader, remaining *int64) error {
	if *remaining < int64(len(magic)) {
		return fmt.Errorf("svndiff: invalid delta: no file type header")
	}
	got, err := r.ReadString(len(magic))
	*remaining -= int64(len(got))
	if err != nil {
		return fmt.Errorf("svndiff: invalid delta: no file type header: %w", err)
	}
	if !bytes.Equal(got, magic[:]) {
		return fmt.Errorf("svndiff: unrecognized file type %q", got)
	}
	return nil
}

// readVLI decodes one base-128 big-endian varint, high bit set on
// continuation, consuming bytes from the delta's own accounting budget.
func readVLI(r *linebuf.Reader, remaining *int64) (uint64, error) {
	var rv uint64
	for *remaining > 0 {
		c, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("svndiff: delta ends early (%d bytes remaining): %w", *remaining, err)
		}
		*remaining--
		rv = rv<<vliBits | uint64(c&vliDigitMask)
		if c&vliContinue == 0 {
			return rv, nil
		}
	}
	return 0, fmt.Errorf("svndiff: invalid delta: incomplete integer %d", rv)
}

func readLength(r *linebuf.Reader, remaining *int64) (int, error) {
	v, err := readVLI(r, remaining)
	if err != nil {
		return 0, err
	}
	if v > uint64(^uint(0)>>1) {
		return 0, fmt.Errorf("svndiff: unrepresentable length: %d", v)
	}
	return int(v), nil
}

func readChunk(r *linebuf.Reader, remaining *int64, n int) ([]byte, error) {
	if int64(n) > *remaining {
		return nil, fmt.Errorf("svndiff: invalid delta: incomplete section")
	}
	buf, err := r.ReadString(n)
	*remaining -= int64(len(buf))
	if err != nil {
		return nil, fmt.Errorf("svndiff: invalid delta: incomplete section: %w", err)
	}
	return buf, nil
}

// parseVLI decodes one base-128 varint from an in-memory instruction
// buffer, returning the value and the number of bytes consumed.
func parseVLI(buf []byte) (uint64, int, error) {
	var rv uint64
	for i, c := range buf {
		rv = rv<<vliBits | uint64(c&vliDigitMask)
		if c&vliContinue == 0 {
			return rv, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("svndiff: invalid instruction: incomplete integer %d", rv)
}

func applyWindow(r *linebuf.Reader, remaining *int64, preimage []byte, out io.Writer) error {
	outLen, err := readLength(r, remaining)
	if err != nil {
		return err
	}
	insnsLen, err := readLength(r, remaining)
	if err != nil {
		return err
	}
	dataLen, err := readLength(r, remaining)
	if err != nil {
		return err
	}
	insns, err := readChunk(r, remaining, insnsLen)
	if err != nil {
		return err
	}
	data, err := readChunk(r, remaining, dataLen)
	if err != nil {
		return err
	}

	outBuf := make([]byte, 0, outLen)
	dataCursor := 0
	for ip := 0; ip < len(insns); {
		b := insns[ip]
		ip++
		op := opcode(b >> 6)
		n := int(b & 0x3f)
		if n == 0 {
			v, consumed, err := parseVLI(insns[ip:])
			if err != nil {
				return err
			}
			n = int(v)
			ip += consumed
		}

		switch op {
		case opSource:
			m, consumed, err := parseVLI(insns[ip:])
			if err != nil {
				return err
			}
			ip += consumed
			if int(m)+n > len(preimage) {
				return fmt.Errorf("svndiff: source copy out of range (%d+%d > %d)", m, n, len(preimage))
			}
			outBuf = append(outBuf, preimage[int(m):int(m)+n]...)
		case opTarget:
			m, consumed, err := parseVLI(insns[ip:])
			if err != nil {
				return err
			}
			ip += consumed
			if int(m) > len(outBuf) {
				return fmt.Errorf("svndiff: target copy out of range (%d > %d)", m, len(outBuf))
			}
			for i := 0; i < n; i++ {
				outBuf = append(outBuf, outBuf[int(m)+i])
			}
		case opData:
			if dataCursor+n > len(data) {
				return fmt.Errorf("svndiff: data copy out of range (%d+%d > %d)", dataCursor, n, len(data))
			}
			outBuf = append(outBuf, data[dataCursor:dataCursor+n]...)
			dataCursor += n
		default:
			return fmt.Errorf("svndiff: reserved instruction opcode %d", op)
		}
	}

	if dataCursor != len(data) {
		return fmt.Errorf("svndiff: data cursor mismatch (consumed %d of %d)", dataCursor, len(data))
	}
	if len(outBuf) != outLen {
		return fmt.Errorf("svndiff: output length mismatch (produced %d, window declares %d)", len(outBuf), outLen)
	}
	_, err = out.Write(outBuf)
	return err
}
