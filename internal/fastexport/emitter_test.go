package fastexport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/quote"
	"github.com/barrbrain/svn-fast-export/internal/strpool"
	"github.com/barrbrain/svn-fast-export/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter(back string) (*Emitter, *bytes.Buffer, *strpool.Pool) {
	var out bytes.Buffer
	pool := strpool.New()
	var backReader *linebuf.Reader
	if back != "" {
		backReader = linebuf.New(strings.NewReader(back))
	}
	return New(&out, backReader, pool, quote.Mode{}), &out, pool
}

func TestDeleteEmitsQuotedPath(t *testing.T) {
	e, out, pool := newTestEmitter("")
	path := []uint32{pool.InternString("dir"), pool.InternString("with space.txt")}
	require.NoError(t, e.Delete(path))
	require.NoError(t, e.Flush())
	assert.Equal(t, "D dir/with space.txt\n", out.String())
}

func TestModifyEmitsOctalModeAndMark(t *testing.T) {
	e, out, pool := newTestEmitter("")
	path := []uint32{pool.InternString("f")}
	require.NoError(t, e.Modify(path, tree.ModeBlob, 7))
	require.NoError(t, e.Flush())
	assert.Equal(t, "M 100644 :7 f\n", out.String())
}

func TestCommitWithoutUUIDOrURLOmitsTrailer(t *testing.T) {
	e, out, pool := newTestEmitter("")
	tr := tree.New()
	tr.Add([]uint32{pool.InternString("f")}, tree.ModeBlob, 1)
	author := pool.InternString("alice")
	require.NoError(t, e.Commit(1, author, strpool.Absent, strpool.Absent, strpool.Absent, 1000, tr))
	require.NoError(t, e.Flush())
	got := out.String()
	assert.Contains(t, got, "commit refs/heads/master\n")
	assert.Contains(t, got, "committer alice <alice@local> 1000 +0000\n")
	assert.NotContains(t, got, "git-svn-id")
	assert.Contains(t, got, "M 100644 :1 f\n")
	assert.Contains(t, got, "progress Imported commit 1.\n")
}

func TestCommitWithUUIDAndURLAppendsTrailer(t *testing.T) {
	e, out, pool := newTestEmitter("")
	tr := tree.New()
	tr.Add([]uint32{pool.InternString("f")}, tree.ModeBlob, 1)
	uuid := pool.InternString("abcd-uuid")
	url := pool.InternString("https://example.com/repo")
	require.NoError(t, e.Commit(1, strpool.Absent, strpool.Absent, uuid, url, 1000, tr))
	require.NoError(t, e.Flush())
	got := out.String()
	assert.Contains(t, got, "committer nobody <nobody@abcd-uuid> 1000 +0000\n")
	assert.Contains(t, got, "git-svn-id: https://example.com/repo@1 abcd-uuid\n")
}

func TestSecondCommitWithRevAboveOneOmitsFromLine(t *testing.T) {
	e, out, pool := newTestEmitter("")
	tr := tree.New()
	tr.Add([]uint32{pool.InternString("f")}, tree.ModeBlob, 1)
	require.NoError(t, e.Commit(1, strpool.Absent, strpool.Absent, strpool.Absent, strpool.Absent, 1000, tr))
	tr.Add([]uint32{pool.InternString("g")}, tree.ModeBlob, 2)
	require.NoError(t, e.Commit(2, strpool.Absent, strpool.Absent, strpool.Absent, strpool.Absent, 1001, tr))
	require.NoError(t, e.Flush())
	assert.NotContains(t, out.String(), "from refs/heads/master^0")
}

func TestFirstCommitAboveRevisionOneEmitsFromLine(t *testing.T) {
	// The "from" line is keyed on this being the process's first
	// Commit call, not on the tree's own revision counter: a resumed
	// run's first converted revision can be any number above 1.
	e, out, pool := newTestEmitter("")
	tr := tree.New()
	tr.Add([]uint32{pool.InternString("f")}, tree.ModeBlob, 1)
	require.NoError(t, e.Commit(5, strpool.Absent, strpool.Absent, strpool.Absent, strpool.Absent, 1000, tr))
	require.NoError(t, e.Flush())
	assert.Contains(t, out.String(), "from refs/heads/master^0\n")
}

func TestCommitRevisionZeroEmitsNothingAndRevisionOneFollows(t *testing.T) {
	e, out, pool := newTestEmitter("")
	tr := tree.New()
	require.NoError(t, e.Commit(0, strpool.Absent, strpool.Absent, strpool.Absent, strpool.Absent, 1000, tr))
	require.NoError(t, e.Flush())
	assert.Empty(t, out.String())
	assert.False(t, e.firstCommitDone)

	out.Reset()
	tr.Add([]uint32{pool.InternString("f")}, tree.ModeBlob, 1)
	require.NoError(t, e.Commit(1, strpool.Absent, strpool.Absent, strpool.Absent, strpool.Absent, 1001, tr))
	require.NoError(t, e.Flush())
	got := out.String()
	assert.Contains(t, got, "commit refs/heads/master\n")
	assert.Contains(t, got, "M 100644 :1 f\n")
	assert.NotContains(t, got, "from refs/heads/master^0")
}

func TestBlobNonDeltaWritesLiteralBytes(t *testing.T) {
	e, out, _ := newTestEmitter("")
	input := linebuf.New(strings.NewReader("hello"))
	require.NoError(t, e.Blob(tree.ModeBlob, 3, 5, false, NoMark, tree.ModeAbsent, input, Digests{}))
	require.NoError(t, e.Flush())
	assert.Equal(t, "blob\nmark :3\ndata 5\nhello\n", out.String())
}

func TestBlobSymlinkStripsLinkPrefix(t *testing.T) {
	e, out, _ := newTestEmitter("")
	input := linebuf.New(strings.NewReader("link ../target"))
	require.NoError(t, e.Blob(tree.ModeLink, 4, 14, false, NoMark, tree.ModeAbsent, input, Digests{}))
	require.NoError(t, e.Flush())
	assert.Equal(t, "blob\nmark :4\ndata 9\n../target\n", out.String())
}

func TestBlobDeltaRetrievesSourceOverBackchannel(t *testing.T) {
	backchannel := strings.Repeat("a", 40) + " blob 8\nAAAABBBB\n\n"
	e, out, _ := newTestEmitter(backchannel)

	// COPYFROM_SOURCE(8,0) against the retrieved "AAAABBBB" preimage.
	w := []byte{}
	w = append(w, 0x00)       // src_off
	w = append(w, 0x08)       // src_len
	w = append(w, 0x08)       // out_len
	w = append(w, 0x02)       // insns_len
	w = append(w, 0x00)       // data_len
	w = append(w, byte(0)<<6|8) // COPYFROM_SOURCE n=8
	w = append(w, 0x00)       // m=0
	delta := append([]byte("SVN\x00"), w...)

	input := linebuf.New(bytes.NewReader(delta))
	require.NoError(t, e.Blob(tree.ModeBlob, 9, int64(len(delta)), true, 2, tree.ModeAbsent, input, Digests{}))
	require.NoError(t, e.Flush())
	assert.Equal(t, "cat-blob :2\nblob\nmark :9\ndata 8\nAAAABBBB\n", out.String())
}

func TestBlobDeltaMissingSourceFails(t *testing.T) {
	backchannel := "missing\n"
	e, _, _ := newTestEmitter(backchannel)
	delta := []byte("SVN\x00")
	input := linebuf.New(bytes.NewReader(delta))
	err := e.Blob(tree.ModeBlob, 9, int64(len(delta)), true, 2, tree.ModeAbsent, input, Digests{})
	require.Error(t, err)
}

func TestWriteGraphEdgeFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGraphEdge(&buf, 5, 3, "trunk/lib"))
	assert.Equal(t, "5 3 trunk/lib\n", buf.String())
}
