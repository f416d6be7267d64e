// Package dump drives the svnadmin-dump parsing context machine
// (DUMP/REV/NODE), dispatching header lines, reading property blocks,
// and running the node handler sequence that mutates the revision tree
// and triggers blob/commit emission.
package dump

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/barrbrain/svn-fast-export/internal/fastexport"
	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/strpool"
	"github.com/barrbrain/svn-fast-export/internal/tree"
	"github.com/sirupsen/logrus"
)

// context tracks which header block the parser is currently inside.
type context int

const (
	ctxDump context = iota
	ctxRev
	ctxNode
)

// NodeKind is the dump's Node-kind header value.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindFile
	KindDir
)

// NodeAction is the dump's Node-action header value.
type NodeAction int

const (
	ActionUnknown NodeAction = iota
	ActionChange
	ActionAdd
	ActionDelete
	ActionReplace
)

// LengthUnknown marks a length header (Text-content-length,
// Prop-content-length) that was never seen for the current block.
const LengthUnknown = -1

// firstBlobMark is the mark minted for the first blob, matching
// scenario 1's expected literal output.
const firstBlobMark = 1000000000

type property struct {
	key      string
	value    string
	isDelete bool
}

type revCtx struct {
	number    uint32
	author    uint32
	log       uint32
	timestamp int64
}

type nodeCtx struct {
	path       []uint32
	pathStr    string
	kind       NodeKind
	action     NodeAction
	mode       tree.Mode
	propLength int
	textLength int
	textDelta  bool
	propDelta  bool
	haveSrc    bool
	srcPath    string
	srcRev     uint32
	md5Hex     string
	sha1Hex    string
}

// Parser drives the dump grammar end to end, mutating tree and driving
// emitter as revisions and nodes complete.
type Parser struct {
	in      *linebuf.Reader
	pool    *strpool.Pool
	tree    *tree.Tree
	emitter *fastexport.Emitter
	log     *logrus.Logger

	// GraphEdges, when non-nil, receives one line per node carrying a
	// copy source, consumed later by cmd/svngraph.
	GraphEdges interface {
		Write(p []byte) (int, error)
	}

	url uint32

	dumpFormatVersion int
	uuid              uint32

	ctx            context
	havePendingRev bool
	rev            revCtx

	havePendingNode bool
	node            nodeCtx

	nextMark uint32
}

// New returns a Parser reading dump records from in and driving tree
// and emitter. url is the string-pool id of the canonical repository
// URL to record in git-svn-id trailers (strpool.Absent if none was
// given on the command line).
func New(in *linebuf.Reader, pool *strpool.Pool, t *tree.Tree, emitter *fastexport.Emitter, log *logrus.Logger, url uint32) *Parser {
	return &Parser{
		in:       in,
		pool:     pool,
		tree:     t,
		emitter:  emitter,
		log:      log,
		url:      url,
		uuid:     strpool.Absent,
		nextMark: firstBlobMark,
	}
}

// Run reads the dump to completion, returning the first fatal error
// encountered (structural framing errors per spec.md's taxonomy;
// unknown headers/actions are logged and skipped).
func (p *Parser) Run() error {
	for {
		line, ok := p.in.ReadLine()
		if !ok {
			if err := p.in.Err(); err != nil {
				return fmt.Errorf("dump: %w", err)
			}
			break
		}
		if line == "" {
			continue
		}
		if err := p.handleHeaderLine(line); err != nil {
			return err
		}
	}
	if p.havePendingNode {
		if err := p.runNodeHandler(); err != nil {
			return err
		}
	}
	if p.havePendingRev {
		if err := p.commitRevision(); err != nil {
			return err
		}
	}
	return p.emitter.Flush()
}

func splitHeader(line string) (key, value string, ok bool) {
	i := strings.Index(line, ": ")
	if i < 0 {
		return "", "", false
	}
	return line[:i], line[i+2:], true
}

func (p *Parser) handleHeaderLine(line string) error {
	key, value, ok := splitHeader(line)
	if !ok {
		p.log.Debugf("dump: ignoring malformed header line: %q", line)
		return nil
	}

	switch key {
	case "SVN-fs-dump-format-version":
		v, err := strconv.Atoi(value)
		if err != nil {
			p.log.Warnf("dump: invalid dump format version: %q", value)
			return nil
		}
		p.dumpFormatVersion = v

	case "UUID":
		p.uuid = p.pool.InternString(value)

	case "Revision-number":
		if err := p.flushNode(); err != nil {
			return err
		}
		if err := p.flushRevision(); err != nil {
			return err
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("dump: invalid revision number: %q", value)
		}
		p.rev = revCtx{number: uint32(n), author: strpool.Absent, log: strpool.Absent}
		p.havePendingRev = true
		p.ctx = ctxRev

	case "Node-path":
		if err := p.flushNode(); err != nil {
			return err
		}
		path, err := strpool.TokenizeSeq(p.pool, value, "/")
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		p.node = nodeCtx{path: path, pathStr: value, propLength: LengthUnknown, textLength: LengthUnknown}
		p.havePendingNode = true
		p.ctx = ctxNode

	case "Node-kind":
		switch {
		case strings.EqualFold(value, "dir"):
			p.node.kind = KindDir
			p.node.mode = tree.ModeDir
		case strings.EqualFold(value, "file"):
			p.node.kind = KindFile
			p.node.mode = tree.ModeBlob
		default:
			p.log.Warnf("dump: unknown node-kind %q for %s", value, p.node.pathStr)
		}

	case "Node-action":
		switch {
		case strings.EqualFold(value, "delete"):
			p.node.action = ActionDelete
		case strings.EqualFold(value, "add"):
			p.node.action = ActionAdd
		case strings.EqualFold(value, "change"):
			p.node.action = ActionChange
		case strings.EqualFold(value, "replace"):
			p.node.action = ActionReplace
		default:
			p.node.action = ActionUnknown
			p.log.Warnf("dump: unknown node-action %q for %s", value, p.node.pathStr)
		}

	case "Node-copyfrom-path":
		p.node.srcPath = value
		p.node.haveSrc = true

	case "Node-copyfrom-rev":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("dump: invalid copyfrom revision: %q", value)
		}
		p.node.srcRev = uint32(n)
		p.node.haveSrc = true

	case "Text-content-length":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("dump: invalid text-content-length: %q", value)
		}
		p.node.textLength = n

	case "Prop-content-length":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("dump: invalid prop-content-length: %q", value)
		}
		p.node.propLength = n

	case "Text-delta":
		p.node.textDelta = value == "true"

	case "Prop-delta":
		p.node.propDelta = value == "true"

	case "Text-content-md5":
		p.node.md5Hex = value

	case "Text-content-sha1":
		p.node.sha1Hex = value

	case "Text-delta-base-md5", "Text-delta-base-sha1", "Text-copy-source-md5", "Text-copy-source-sha1":
		// Opaque integrity hints only; not consulted for delta-base
		// resolution (see internal/dump's delta-base design note in
		// DESIGN.md).

	case "Content-length":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("dump: invalid content-length: %q", value)
		}
		if _, ok := p.in.ReadLine(); !ok {
			return fmt.Errorf("dump: %w", p.in.Err())
		}
		switch p.ctx {
		case ctxRev:
			props, err := p.readProps()
			if err != nil {
				return err
			}
			p.applyRevProps(props)
		case ctxNode:
			if err := p.runNodeHandler(); err != nil {
				return err
			}
		default:
			if _, err := p.in.SkipBytes(n); err != nil {
				return fmt.Errorf("dump: %w", err)
			}
		}

	default:
		p.log.Debugf("dump: ignoring unrecognised header %q", key)
	}
	return nil
}

func (p *Parser) flushNode() error {
	if !p.havePendingNode {
		return nil
	}
	return p.runNodeHandler()
}

func (p *Parser) flushRevision() error {
	if !p.havePendingRev {
		return nil
	}
	return p.commitRevision()
}

func (p *Parser) commitRevision() error {
	if err := p.emitter.Commit(p.rev.number, p.rev.author, p.rev.log, p.uuid, p.url, p.rev.timestamp, p.tree); err != nil {
		return err
	}
	p.havePendingRev = false
	return nil
}

// readProps reads a K/V/D property block up to and including
// PROPS-END.
func (p *Parser) readProps() ([]property, error) {
	var props []property
	for {
		line, ok := p.in.ReadLine()
		if !ok {
			return nil, fmt.Errorf("dump: unexpected end of input in property block: %w", p.in.Err())
		}
		if line == "PROPS-END" {
			return props, nil
		}
		switch {
		case strings.HasPrefix(line, "K "):
			key, err := p.readPropString(line[2:])
			if err != nil {
				return nil, err
			}
			vline, ok := p.in.ReadLine()
			if !ok || !strings.HasPrefix(vline, "V ") {
				return nil, fmt.Errorf("dump: expected V after K %q", key)
			}
			val, err := p.readPropString(vline[2:])
			if err != nil {
				return nil, err
			}
			props = append(props, property{key: key, value: val})
		case strings.HasPrefix(line, "D "):
			key, err := p.readPropString(line[2:])
			if err != nil {
				return nil, err
			}
			props = append(props, property{key: key, isDelete: true})
		default:
			return nil, fmt.Errorf("dump: malformed property line: %q", line)
		}
	}
}

func (p *Parser) readPropString(lenField string) (string, error) {
	n, err := strconv.Atoi(lenField)
	if err != nil {
		return "", fmt.Errorf("dump: invalid property length: %q", lenField)
	}
	buf, err := p.in.ReadString(n)
	if err != nil {
		return "", fmt.Errorf("dump: %w", err)
	}
	if _, ok := p.in.ReadLine(); !ok {
		return "", fmt.Errorf("dump: %w", p.in.Err())
	}
	return string(buf), nil
}

func (p *Parser) applyRevProps(props []property) {
	for _, pr := range props {
		if pr.isDelete {
			continue
		}
		switch {
		case strings.HasSuffix(pr.key, ":log"):
			p.rev.log = p.pool.InternString(pr.value)
		case strings.HasSuffix(pr.key, ":author"):
			p.rev.author = p.pool.InternString(pr.value)
		case strings.HasSuffix(pr.key, ":date"):
			ts, err := parseSVNDate(pr.value)
			if err != nil {
				p.log.Warnf("dump: unparseable svn:date %q: %v", pr.value, err)
				continue
			}
			p.rev.timestamp = ts
		}
	}
}

// parseSVNDate parses the %FT%T portion of a svn:date value
// (fractional seconds and any trailing zone marker are ignored, as the
// original's strptime("%FT%T", ...) stops at the decimal point), and
// treats it as UTC per spec.md's locale note.
func parseSVNDate(s string) (int64, error) {
	if len(s) < 19 {
		return 0, fmt.Errorf("value too short: %q", s)
	}
	t, err := time.Parse("2006-01-02T15:04:05", s[:19])
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func (p *Parser) applyNodeProps(props []property) {
	for _, pr := range props {
		switch {
		case strings.HasSuffix(pr.key, ":executable"):
			if pr.isDelete {
				if p.node.mode == tree.ModeExe {
					p.node.mode = tree.ModeBlob
				}
			} else if p.node.kind == KindFile {
				p.node.mode = tree.ModeExe
			}
		case strings.HasSuffix(pr.key, ":special"):
			if pr.isDelete {
				if p.node.mode == tree.ModeLink {
					p.node.mode = tree.ModeBlob
				}
			} else if p.node.kind == KindFile {
				p.node.mode = tree.ModeLink
			}
		}
	}
}

// resolveDeltaBase finds the mark/mode a Text-delta should be applied
// against: the copy source's current content when the node carries
// one, else the node's own path as it stands earlier in this run. This
// is a judgment call spec.md leaves implicit (§4.6 says only "resolve
// source mark if srcRev given"); recorded in DESIGN.md.
func (p *Parser) resolveDeltaBase() (mark uint32, mode tree.Mode, ok bool) {
	n := &p.node
	if n.haveSrc {
		srcPath, err := strpool.TokenizeSeq(p.pool, n.srcPath, "/")
		if err != nil {
			return 0, 0, false
		}
		if de, found := p.tree.ReadDirent(n.srcRev, srcPath); found {
			return de.Content, de.Mode, true
		}
		return 0, 0, false
	}
	if de, found := p.tree.ReadDirent(p.tree.ActiveRevision(), n.path); found {
		return de.Content, de.Mode, true
	}
	return 0, 0, false
}

func (p *Parser) nextBlobMark() uint32 {
	m := p.nextMark
	p.nextMark++
	return m
}

// runNodeHandler executes the full node handler sequence (spec.md
// §4.6): prop-delta mode inheritance, property application, copy
// resolution, action dispatch, and blob emission or skip.
func (p *Parser) runNodeHandler() error {
	n := &p.node
	p.log.Debugf("dump: node path %s", n.pathStr)

	if n.propDelta && n.action != ActionReplace {
		if _, mode, ok := p.resolveDeltaBase(); ok {
			n.mode = mode
		}
	}

	if n.propLength > 0 {
		props, err := p.readProps()
		if err != nil {
			return err
		}
		p.applyNodeProps(props)
	}

	var deltaBaseMark uint32
	var deltaBaseMode tree.Mode
	var haveDeltaBase bool

	if n.haveSrc {
		srcPath, err := strpool.TokenizeSeq(p.pool, n.srcPath, "/")
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		copiedMode := p.tree.Copy(n.srcRev, srcPath, n.path)
		if n.propLength < 0 && copiedMode != tree.ModeAbsent {
			n.mode = copiedMode
		}
		if de, found := p.tree.ReadDirent(n.srcRev, srcPath); found {
			deltaBaseMark, deltaBaseMode, haveDeltaBase = de.Content, de.Mode, true
		}
		if p.GraphEdges != nil {
			if err := fastexport.WriteGraphEdge(p.GraphEdges, p.rev.number, n.srcRev, n.srcPath); err != nil {
				return err
			}
		}
	} else if mark, mode, ok := p.resolveDeltaBase(); ok {
		deltaBaseMark, deltaBaseMode, haveDeltaBase = mark, mode, true
	}

	var mark uint32
	if n.textLength >= 0 && n.kind != KindDir {
		mark = p.nextBlobMark()
	}

	switch n.action {
	case ActionDelete:
		p.tree.Delete(n.path)
	case ActionChange, ActionReplace:
		switch {
		case n.action == ActionReplace && n.kind == KindDir:
			p.tree.Delete(n.path)
			p.tree.Add(n.path, tree.ModeDir, 0)
		case n.propLength >= 0:
			p.tree.Modify(n.path, n.mode, mark)
		case n.textLength >= 0:
			n.mode = p.tree.Replace(n.path, mark)
		}
	case ActionAdd:
		switch {
		case n.haveSrc && n.propLength < 0 && n.textLength >= 0:
			n.mode = p.tree.Replace(n.path, mark)
		case n.kind == KindDir || n.textLength >= 0:
			p.tree.Add(n.path, n.mode, mark)
		}
	default:
		p.log.Warnf("dump: unknown node-action for %s, node skipped", n.pathStr)
	}

	textLength := n.textLength
	if textLength < 0 {
		textLength = 0
	}

	if mark != 0 {
		srcMark, srcMode := fastexport.NoMark, tree.ModeAbsent
		if haveDeltaBase {
			srcMark, srcMode = deltaBaseMark, deltaBaseMode
		}
		digests := fastexport.Digests{MD5Hex: n.md5Hex, SHA1Hex: n.sha1Hex}
		if err := p.emitter.Blob(n.mode, mark, int64(textLength), n.textDelta, srcMark, srcMode, p.in, digests); err != nil {
			return err
		}
	} else if textLength > 0 {
		if _, err := p.in.SkipBytes(textLength); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}

	p.havePendingNode = false
	p.ctx = ctxRev
	return nil
}
