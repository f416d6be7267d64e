// Command svngraph renders the copy-history sidecar file the main
// tool writes via --graph-edges (one "<revision> <from-revision>
// <path>" line per Node-copyfrom-rev it processed) as a graphviz DOT
// graph, one node per revision and one edge per copy.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emicklei/dot"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var progVersion = "svngraph-0.1.0"

// edge is one parsed line of the sidecar file.
type edge struct {
	rev     uint32
	fromRev uint32
	path    string
}

// parseEdges reads the sidecar file format written by
// fastexport.WriteGraphEdge: "<revision> <from-revision> <path>\n".
func parseEdges(r io.Reader) ([]edge, error) {
	var edges []edge
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("svngraph: malformed edge line %q", line)
		}
		rev, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("svngraph: bad revision in %q: %w", line, err)
		}
		fromRev, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("svngraph: bad from-revision in %q: %w", line, err)
		}
		edges = append(edges, edge{rev: uint32(rev), fromRev: uint32(fromRev), path: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("svngraph: %w", err)
	}
	return edges, nil
}

// buildGraph renders one dot.Node per revision referenced and one
// dot.Edge per copy, labelled with the copied path, the way the
// teacher's createGraphEdges built parent/merge edges from GitCommit
// data.
func buildGraph(edges []edge) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[uint32]dot.Node)
	nodeFor := func(rev uint32) dot.Node {
		if n, ok := nodes[rev]; ok {
			return n
		}
		n := g.Node(fmt.Sprintf("r%d", rev))
		nodes[rev] = n
		return n
	}

	sorted := append([]edge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].rev != sorted[j].rev {
			return sorted[i].rev < sorted[j].rev
		}
		return sorted[i].path < sorted[j].path
	})

	for _, e := range sorted {
		from := nodeFor(e.fromRev)
		to := nodeFor(e.rev)
		g.Edge(from, to, e.path)
	}
	return g
}

func main() {
	var (
		edgesFile = kingpin.Arg(
			"edgesfile",
			"Copy-history edges file written via --graph-edges.",
		).Required().String()
		outputGraph = kingpin.Flag(
			"output",
			"Graphviz dot file to write.",
		).Short('o').Required().String()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Short('d').Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(progVersion).Author("svn-fast-export")
	kingpin.CommandLine.Help = "Renders a copy-history edges file as a graphviz DOT graph.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	start := time.Now()
	in, err := os.Open(*edgesFile)
	if err != nil {
		logger.Fatalf("failed to open %q: %v", *edgesFile, err)
	}
	defer in.Close()

	edges, err := parseEdges(in)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("read %d copy edges in %s", len(edges), time.Since(start))

	g := buildGraph(edges)
	out, err := os.OpenFile(*outputGraph, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logger.Fatalf("failed to create %q: %v", *outputGraph, err)
	}
	defer out.Close()
	if _, err := out.Write([]byte(g.String())); err != nil {
		logger.Fatalf("failed to write %q: %v", *outputGraph, err)
	}
}
