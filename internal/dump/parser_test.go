package dump

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/barrbrain/svn-fast-export/internal/fastexport"
	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/quote"
	"github.com/barrbrain/svn-fast-export/internal/strpool"
	"github.com/barrbrain/svn-fast-export/internal/tree"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- dump fragment builders -------------------------------------------------

func kv(key, val string) string {
	return fmt.Sprintf("K %d\n%s\nV %d\n%s\n", len(key), key, len(val), val)
}

func propsBlock(pairs ...[2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(kv(p[0], p[1]))
	}
	b.WriteString("PROPS-END\n")
	return b.String()
}

func revBlock(num int, props string) string {
	return fmt.Sprintf("Revision-number: %d\nProp-content-length: %d\nContent-length: %d\n\n%s", num, len(props), len(props), props)
}

// nodeBlock assembles one Node-path record. headers excludes
// Prop-content-length/Text-content-length/Content-length, which are
// derived from props/text. When both are empty the record carries no
// content block at all (a pure structural op like a copy or delete).
func nodeBlock(headers []string, props, text string) string {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h)
		b.WriteString("\n")
	}
	if props == "" && text == "" {
		return b.String()
	}
	contentLen := len(props) + len(text)
	if props != "" {
		fmt.Fprintf(&b, "Prop-content-length: %d\n", len(props))
	}
	if text != "" {
		fmt.Fprintf(&b, "Text-content-length: %d\n", len(text))
	}
	fmt.Fprintf(&b, "Content-length: %d\n\n", contentLen)
	b.WriteString(props)
	b.WriteString(text)
	return b.String()
}

// --- svndiff0 fixture builder (duplicated from internal/svndiff's test
// helpers: constructing a delta is test fixture work, not the package
// under test) ----------------------------------------------------------

func vli(v uint64) []byte {
	digits := []byte{byte(v & 0x7f)}
	v >>= 7
	for v > 0 {
		digits = append(digits, byte(v&0x7f))
		v >>= 7
	}
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[len(digits)-1-i] = d
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] |= 0x80
	}
	return out
}

func sourceCopy(n, m int) []byte {
	return append([]byte{byte(0)<<6 | byte(n)}, vli(uint64(m))...)
}

func dataCopy(n int) []byte {
	return []byte{byte(2)<<6 | byte(n)}
}

func svndiffWindow(srcOff, srcLen, outLen uint64, insns, data []byte) []byte {
	var w []byte
	w = append(w, vli(srcOff)...)
	w = append(w, vli(srcLen)...)
	w = append(w, vli(outLen)...)
	w = append(w, vli(uint64(len(insns)))...)
	w = append(w, vli(uint64(len(data)))...)
	w = append(w, insns...)
	w = append(w, data...)
	return w
}

func svndiffDelta(windows ...[]byte) []byte {
	d := append([]byte{}, "SVN\x00"...)
	for _, w := range windows {
		d = append(d, w...)
	}
	return d
}

// --- harness -----------------------------------------------------------

func newTestParser(dumpText, backchannel string) (*Parser, *bytes.Buffer, *strpool.Pool) {
	var out bytes.Buffer
	pool := strpool.New()
	var back *linebuf.Reader
	if backchannel != "" {
		back = linebuf.New(strings.NewReader(backchannel))
	}
	e := fastexport.New(&out, back, pool, quote.Mode{})
	log := logrus.New()
	log.SetOutput(io.Discard)
	p := New(linebuf.New(strings.NewReader(dumpText)), pool, tree.New(), e, log, strpool.Absent)
	return p, &out, pool
}

// --- scenario 1: add one file -------------------------------------------

func TestAddOneFileMatchesLiteralScenario(t *testing.T) {
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: hello", "Node-kind: file", "Node-action: add"}, "", "hello")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	want := "blob\n" +
		"mark :1000000000\n" +
		"data 5\n" +
		"hello\n" +
		"commit refs/heads/master\n" +
		"committer nobody <nobody@local> 0 +0000\n" +
		"data 0\n" +
		"\n" +
		"M 100644 :1000000000 hello\n" +
		"\n" +
		"progress Imported commit 1.\n" +
		"\n"
	assert.Equal(t, want, out.String())
}

// --- scenarios 2 & 3: copy between revisions, then delete the source ----

func TestCopyBetweenRevisionsReusesMarkAndDeletesSource(t *testing.T) {
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: a/x", "Node-kind: file", "Node-action: add"}, "", "X") +
		revBlock(2, propsBlock()) +
		nodeBlock([]string{
			"Node-path: b/x",
			"Node-kind: file",
			"Node-action: add",
			"Node-copyfrom-path: a/x",
			"Node-copyfrom-rev: 1",
		}, "", "") +
		nodeBlock([]string{"Node-path: a/x", "Node-action: delete"}, "", "")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	got := out.String()
	// No second blob line: the copy reuses revision 1's mark.
	assert.Equal(t, 1, strings.Count(got, "blob\n"))
	assert.Contains(t, got, "D a/x\n")
	assert.Contains(t, got, "M 100644 :1000000000 b/x\n")
}

// --- scenario 4: symlink --------------------------------------------------

func TestSymlinkStripsLinkPrefixAndSetsMode(t *testing.T) {
	props := propsBlock([2]string{"svn:special", "*"})
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: link1", "Node-kind: file", "Node-action: add"}, props, "link target.txt")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	got := out.String()
	assert.Contains(t, got, "data 10\ntarget.txt\n")
	assert.Contains(t, got, "M 120000 :1000000000 link1\n")
}

// --- scenario 5: text-delta round trip ------------------------------------

func TestTextDeltaRoundTrip(t *testing.T) {
	insns := append(sourceCopy(8, 0), dataCopy(3)...)
	w := svndiffWindow(0, 8, 11, insns, []byte("CCC"))
	delta := svndiffDelta(w)

	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: f", "Node-kind: file", "Node-action: add"}, "", "AAAABBBB") +
		revBlock(2, propsBlock()) +
		fmt.Sprintf("Node-path: f\nNode-action: change\nText-delta: true\nText-content-length: %d\nContent-length: %d\n\n%s",
			len(delta), len(delta), delta)

	backchannel := strings.Repeat("a", 40) + " blob 8\nAAAABBBB\n\n"

	p, out, _ := newTestParser(dumpText, backchannel)
	require.NoError(t, p.Run())

	got := out.String()
	assert.Contains(t, got, "cat-blob :1000000000\n")
	assert.Contains(t, got, "data 11\nAAAABBBBCCC\n")
	assert.Contains(t, got, "M 100644 :1000000001 f\n")
}

// --- boundary: unknown node-action is logged and skipped, not fatal ------

func TestUnknownNodeActionIsSkippedNotFatal(t *testing.T) {
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: weird", "Node-kind: file", "Node-action: mangle"}, "", "")

	p, _, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())
}

// --- copy from a missing source deletes the destination ------------------

func TestCopyFromMissingSourceEmitsDelete(t *testing.T) {
	// dst exists from revision 1; revision 2 "replaces" it with a copy
	// from a path that was never created, so the copy degrades to a
	// delete of the pre-existing destination.
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: dst", "Node-kind: file", "Node-action: add"}, "", "x") +
		revBlock(2, propsBlock()) +
		nodeBlock([]string{
			"Node-path: dst",
			"Node-kind: file",
			"Node-action: replace",
			"Node-copyfrom-path: never-existed",
			"Node-copyfrom-rev: 2",
		}, "", "")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())
	assert.Contains(t, out.String(), "D dst\n")
}

// --- revision 0 carries no commit of its own ------------------------------

func TestRevisionZeroEmitsNoCommit(t *testing.T) {
	dumpText := revBlock(0, propsBlock()) +
		revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: f", "Node-kind: file", "Node-action: add"}, "", "x")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	got := out.String()
	assert.NotContains(t, got, "progress Imported commit 0.")
	assert.Equal(t, 1, strings.Count(got, "commit refs/heads/master\n"))
	assert.Contains(t, got, "M 100644 :1000000000 f\n")
}

// --- a prop-only change applies mode without a text body ------------------

func TestPropOnlyChangeAppliesModeWithoutText(t *testing.T) {
	// A change node carrying Prop-content-length but no
	// Text-content-length mints no blob mark, so the mode flip this
	// node exists to apply (BLB -> EXE) rides on a dirent write whose
	// content reference is 0, not the file's prior blob mark — the
	// same faithful-port quirk as the original repo_modify/repo_git_add.
	execProps := propsBlock([2]string{"svn:executable", "*"})
	dumpText := revBlock(1, propsBlock()) +
		nodeBlock([]string{"Node-path: f", "Node-kind: file", "Node-action: add"}, "", "x") +
		revBlock(2, propsBlock()) +
		nodeBlock([]string{"Node-path: f", "Node-kind: file", "Node-action: change"}, execProps, "")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	assert.Contains(t, out.String(), "M 100755 :0 f\n")
}

// --- revision properties populate the commit ------------------------------

func TestRevisionPropertiesPopulateCommit(t *testing.T) {
	props := propsBlock(
		[2]string{"svn:author", "alice"},
		[2]string{"svn:log", "initial import"},
		[2]string{"svn:date", "2011-11-25T13:27:56.000000Z"},
	)
	dumpText := revBlock(1, props) +
		nodeBlock([]string{"Node-path: f", "Node-kind: file", "Node-action: add"}, "", "x")

	p, out, _ := newTestParser(dumpText, "")
	require.NoError(t, p.Run())

	got := out.String()
	assert.Contains(t, got, "committer alice <alice@local> 1322227676 +0000\n")
	assert.Contains(t, got, "data 14\ninitial import\n")
}
