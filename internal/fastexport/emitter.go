// Package fastexport writes a git-fast-import command stream: blob,
// commit, M and D lines, plus the cat-blob back-channel handshake used
// to retrieve a prior blob as the preimage for a svndiff0 delta.
package fastexport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/quote"
	"github.com/barrbrain/svn-fast-export/internal/slidingwindow"
	"github.com/barrbrain/svn-fast-export/internal/strpool"
	"github.com/barrbrain/svn-fast-export/internal/svndiff"
	"github.com/barrbrain/svn-fast-export/internal/tree"
)

// NoMark is the sentinel for "no source blob": a delta node with no
// copy source to retrieve via cat-blob before applying its window.
const NoMark uint32 = 0

const backchannelSHA1Len = 40

// Metrics receives counters the emitter produces. internal/metrics
// implements this over Prometheus collectors; nil disables counting.
type Metrics interface {
	RevisionProcessed()
	NodeProcessed(action string)
	BlobEmitted(n int)
	WindowApplied()
}

// BlobSniffer is handed a blob's bytes right before they're written,
// for optional content-aware diagnostics. internal/verify implements
// this with h2non/filetype sniffing plus digest verification against
// md5hex/sha1hex, either of which may be empty when the dump didn't
// carry that header for this node.
type BlobSniffer interface {
	Sniff(mark uint32, mode tree.Mode, data []byte, md5hex, sha1hex string)
}

// Emitter holds everything needed to turn tree mutations and blob
// payloads into a fast-import stream, plus the state (first-commit
// flag, string pool, quoting mode) that spans the whole run.
type Emitter struct {
	out  *bufio.Writer
	back *linebuf.Reader
	pool *strpool.Pool
	quot quote.Mode

	Metrics Metrics
	Sniffer BlobSniffer

	DefaultAuthor string
	DefaultDomain string

	firstCommitDone bool
}

// New returns an Emitter writing to out, reading cat-blob responses
// from back (the fd-3 back-channel), formatting paths with pool and
// quot.
func New(out io.Writer, back *linebuf.Reader, pool *strpool.Pool, quot quote.Mode) *Emitter {
	return &Emitter{
		out:           bufio.NewWriter(out),
		back:          back,
		pool:          pool,
		quot:          quot,
		DefaultAuthor: "nobody",
		DefaultDomain: "local",
	}
}

// Flush drains any buffered output; callers must call this before
// blocking on the back-channel (cat-blob) and once at end of run.
func (e *Emitter) Flush() error {
	return e.out.Flush()
}

func (e *Emitter) quotedPath(path []uint32) string {
	return e.quot.Path(e.pool.PrintSeq(path, '/'))
}

// Delete implements tree.Sink.
func (e *Emitter) Delete(path []uint32) error {
	if _, err := fmt.Fprintf(e.out, "D %s\n", e.quotedPath(path)); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.NodeProcessed("delete")
	}
	return nil
}

// Modify implements tree.Sink. mode must be one of tree's blob/link/exe
// modes; mark is a blob mark already emitted via Blob.
func (e *Emitter) Modify(path []uint32, mode tree.Mode, mark uint32) error {
	if _, err := fmt.Fprintf(e.out, "M %06o :%d %s\n", uint32(mode), mark, e.quotedPath(path)); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.NodeProcessed("modify")
	}
	return nil
}

// Commit writes a commit header, diffs revision rev-1 against rev via
// t.FinalizeRevision (emitting the M/D lines for that diff through
// this Emitter as tree.Sink), and trails with a progress line. author,
// log, uuid and url are string-pool ids, or strpool.Absent. Revision 0
// is the dump's implicit empty root: it carries no commit of its own
// (every real svnadmin dump starts with "Revision-number: 0"), so
// Commit(0) writes nothing to out and leaves t untouched; tree.New has
// already opened revision 1's active commit.
func (e *Emitter) Commit(rev uint32, author, log, uuid, url uint32, timestamp int64, t *tree.Tree) error {
	if rev != 0 {
		logText := ""
		if log != strpool.Absent {
			logText = e.pool.FetchString(log)
		}
		var gitSvnLine string
		if uuid != strpool.Absent && url != strpool.Absent {
			gitSvnLine = fmt.Sprintf("\n\ngit-svn-id: %s@%d %s\n", e.pool.FetchString(url), rev, e.pool.FetchString(uuid))
		}

		authorName := e.DefaultAuthor
		if author != strpool.Absent {
			authorName = e.pool.FetchString(author)
		}
		domain := e.DefaultDomain
		if uuid != strpool.Absent {
			domain = e.pool.FetchString(uuid)
		}

		if _, err := fmt.Fprintf(e.out, "commit refs/heads/master\n"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(e.out, "committer %s <%s@%s> %d +0000\n", authorName, authorName, domain, timestamp); err != nil {
			return err
		}
		data := logText + gitSvnLine
		if _, err := fmt.Fprintf(e.out, "data %d\n%s\n", len(data), data); err != nil {
			return err
		}

		if !e.firstCommitDone {
			if rev > 1 {
				if _, err := fmt.Fprintf(e.out, "from refs/heads/master^0\n"); err != nil {
					return err
				}
			}
			e.firstCommitDone = true
		}
	}

	if rev == 0 {
		return nil
	}

	if err := t.FinalizeRevision(e); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(e.out, "\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.out, "progress Imported commit %d.\n\n", rev); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.RevisionProcessed()
	}
	return nil
}

// Digests carries a node's optional Text-content-md5/Text-content-sha1
// dump headers through to the BlobSniffer, empty when the dump didn't
// supply one.
type Digests struct {
	MD5Hex  string
	SHA1Hex string
}

// Blob writes a blob command. When delta is true, input carries
// exactly length bytes of a svndiff0 stream applied against the blob
// known by srcMark (retrieved over the cat-blob back-channel, or empty
// when srcMark is NoMark); otherwise input carries length literal
// bytes. For symlink blobs (mode/srcMode == tree.ModeLink) the stored
// "link " prefix is stripped before the bytes are written.
func (e *Emitter) Blob(mode tree.Mode, mark uint32, length int64, delta bool, srcMark uint32, srcMode tree.Mode, input *linebuf.Reader, digests Digests) error {
	var payload []byte
	if delta {
		var preimage []byte
		if srcMark != NoMark {
			if _, err := fmt.Fprintf(e.out, "cat-blob :%d\n", srcMark); err != nil {
				return err
			}
			if err := e.Flush(); err != nil {
				return err
			}
			data, err := e.readBackchannelBlob()
			if err != nil {
				return err
			}
			if srcMode == tree.ModeLink {
				data = append([]byte("link "), data...)
			}
			preimage = data
		}
		var out bytes.Buffer
		src := slidingwindow.New(linebuf.New(bytes.NewReader(preimage)))
		if err := svndiff.Apply(input, length, src, &out); err != nil {
			return fmt.Errorf("fastexport: %w", err)
		}
		payload = out.Bytes()
		if e.Metrics != nil {
			e.Metrics.WindowApplied()
		}
	} else {
		buf, err := input.ReadString(int(length))
		if err != nil {
			return fmt.Errorf("fastexport: short blob body: %w", err)
		}
		payload = buf
	}

	if mode == tree.ModeLink {
		if len(payload) < 5 {
			return fmt.Errorf("fastexport: symlink blob shorter than link prefix")
		}
		payload = payload[5:]
	}

	if e.Sniffer != nil {
		e.Sniffer.Sniff(mark, mode, payload, digests.MD5Hex, digests.SHA1Hex)
	}

	if _, err := fmt.Fprintf(e.out, "blob\nmark :%d\ndata %d\n", mark, len(payload)); err != nil {
		return err
	}
	if _, err := e.out.Write(payload); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.out, "\n"); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.BlobEmitted(len(payload))
	}
	return nil
}

// readBackchannelBlob consumes one cat-blob response: a header line
// "<sha1-hex> blob <length>", exactly length bytes, and a trailing
// blank line.
func (e *Emitter) readBackchannelBlob() ([]byte, error) {
	if e.back == nil {
		return nil, fmt.Errorf("fastexport: no back-channel configured for cat-blob")
	}
	header, ok := e.back.ReadLine()
	if !ok {
		return nil, fmt.Errorf("fastexport: back-channel closed before cat-blob response: %w", e.back.Err())
	}
	if strings.HasSuffix(header, "missing") {
		return nil, fmt.Errorf("fastexport: cat-blob reports missing blob: %s", header)
	}
	if len(header) < backchannelSHA1Len {
		return nil, fmt.Errorf("fastexport: cat-blob header too short for sha1: %q", header)
	}
	const typeTag = " blob "
	rest := header[backchannelSHA1Len:]
	if !strings.HasPrefix(rest, typeTag) {
		return nil, fmt.Errorf("fastexport: cat-blob header has wrong object type: %q", header)
	}
	length, err := strconv.ParseUint(rest[len(typeTag):], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fastexport: cat-blob header did not contain a length: %q", header)
	}
	data, err := e.back.ReadString(int(length))
	if err != nil {
		return nil, fmt.Errorf("fastexport: cat-blob body short: %w", err)
	}
	tail, ok := e.back.ReadLine()
	if !ok {
		return nil, fmt.Errorf("fastexport: cat-blob trailing line missing: %w", e.back.Err())
	}
	if tail != "" {
		return nil, fmt.Errorf("fastexport: cat-blob trailing line contained garbage: %q", tail)
	}
	return data, nil
}

// WriteGraphEdge appends one copy-history edge line, consumed later by
// cmd/svngraph. Called by internal/dump's node handler whenever a node
// carries a copy source.
func WriteGraphEdge(w io.Writer, rev, fromRev uint32, path string) error {
	_, err := fmt.Fprintf(w, "%d %d %s\n", rev, fromRev, path)
	return err
}
