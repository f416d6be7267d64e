package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/barrbrain/svn-fast-export/config"
	"github.com/barrbrain/svn-fast-export/internal/dump"
	"github.com/barrbrain/svn-fast-export/internal/fastexport"
	"github.com/barrbrain/svn-fast-export/internal/linebuf"
	"github.com/barrbrain/svn-fast-export/internal/metrics"
	"github.com/barrbrain/svn-fast-export/internal/quote"
	"github.com/barrbrain/svn-fast-export/internal/stats"
	"github.com/barrbrain/svn-fast-export/internal/strpool"
	"github.com/barrbrain/svn-fast-export/internal/tree"
	"github.com/barrbrain/svn-fast-export/internal/verify"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var progVersion = "svn-fast-export-0.1.0 (2026/07/31)"

// runStats implements fastexport.Metrics and verify.Metrics locally so
// --stats works even when --metrics-addr is unset; when metrics are
// also enabled both sinks are updated from the same call.
type runStats struct {
	inner          fastexport.Metrics
	digestSink     verify.Metrics
	revisions      int
	nodes          int
	blobs          int
	bytesCopied    int64
	windows        int
	digestFailures int
}

func (r *runStats) RevisionProcessed() {
	r.revisions++
	if r.inner != nil {
		r.inner.RevisionProcessed()
	}
}

func (r *runStats) NodeProcessed(action string) {
	r.nodes++
	if r.inner != nil {
		r.inner.NodeProcessed(action)
	}
}

func (r *runStats) BlobEmitted(n int) {
	r.blobs++
	r.bytesCopied += int64(n)
	if r.inner != nil {
		r.inner.BlobEmitted(n)
	}
}

func (r *runStats) WindowApplied() {
	r.windows++
	if r.inner != nil {
		r.inner.WindowApplied()
	}
}

func (r *runStats) DigestMismatch() {
	r.digestFailures++
	if r.digestSink != nil {
		r.digestSink.DigestMismatch()
	}
}

// exitCode classifies a fatal error per spec.md §7: a detected
// stream/back-channel protocol violation (bad cat-blob reply,
// malformed svndiff0, truncated delta) exits 128; any other fatal
// parse/IO error exits 1.
func exitCode(err error) int {
	msg := err.Error()
	if strings.Contains(msg, "fastexport:") || strings.Contains(msg, "svndiff:") {
		return 128
	}
	return 1
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"YAML config file.",
		).Short('c').String()
		dumpfile = kingpin.Arg(
			"dumpfile",
			"svnadmin dump file to read (default: stdin).",
		).String()
		url = kingpin.Arg(
			"url",
			"Canonical repository URL, recorded in git-svn-id trailers.",
		).String()
		verifyDigests = kingpin.Flag(
			"verify-digests",
			"Check copied blob bytes against the dump's declared md5/sha1 (overrides config).",
		).Bool()
		quotePathFully = kingpin.Flag(
			"quote-path-fully",
			"Also octal-escape bytes >= 0x80 in emitted paths, quoting any path that contains one (overrides config).",
		).Bool()
		metricsAddr = kingpin.Flag(
			"metrics-addr",
			"Address to serve Prometheus /metrics on, e.g. :9090 (overrides config).",
		).String()
		graphEdges = kingpin.Flag(
			"graph-edges",
			"File to append <rev> <from-rev> <path> copy-history edges to (overrides config).",
		).String()
		showStats = kingpin.Flag(
			"stats",
			"Print a run summary to stderr when finished.",
		).Bool()
		profileMode = kingpin.Flag(
			"profile",
			"Enable profiling: cpu, mem, block or trace.",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(progVersion).Author("svn-fast-export")
	kingpin.CommandLine.Help = "Reads an svnadmin dump stream and writes a git fast-import command stream.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	switch *profileMode {
	case "cpu":
		defer profile.Start(profile.CPUProfile).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile).Stop()
	case "block":
		defer profile.Start(profile.BlockProfile).Stop()
	case "trace":
		defer profile.Start(profile.TraceProfile).Stop()
	case "":
	default:
		fmt.Fprintf(os.Stderr, "unknown --profile mode %q\n", *profileMode)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	cfg := &config.Config{BackchannelFD: 3, DefaultAuthor: "nobody", DefaultDomain: "local"}
	if *configFile != "" {
		loaded, err := config.LoadConfigFile(*configFile)
		if err != nil {
			logger.Fatalf("error loading config file: %v", err)
		}
		cfg = loaded
	}
	if *verifyDigests {
		cfg.VerifyDigests = true
	}
	if *quotePathFully {
		cfg.QuotePathFully = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *graphEdges != "" {
		cfg.GraphEdgesFile = *graphEdges
	}

	startTime := time.Now()
	logger.Infof("%s starting, dumpfile=%q url=%q", progVersion, *dumpfile, *url)

	var input io.Reader = os.Stdin
	if *dumpfile != "" {
		f, err := os.Open(*dumpfile)
		if err != nil {
			logger.Fatalf("failed to open dump file %q: %v", *dumpfile, err)
		}
		defer f.Close()
		input = f
	}

	var back *linebuf.Reader
	if cfg.BackchannelFD > 0 {
		if f := os.NewFile(uintptr(cfg.BackchannelFD), "backchannel"); f != nil {
			back = linebuf.New(f)
		}
	}

	pool := strpool.New()
	t := tree.New()
	emitter := fastexport.New(os.Stdout, back, pool, quote.Mode{QuotePathFully: cfg.QuotePathFully})
	emitter.DefaultAuthor = cfg.DefaultAuthor
	emitter.DefaultDomain = cfg.DefaultDomain

	rs := &runStats{}
	emitter.Metrics = rs

	var mcol *metrics.Collectors
	if cfg.MetricsAddr != "" {
		mcol = metrics.New()
		rs.inner = mcol
		rs.digestSink = mcol
		srv := mcol.Serve(cfg.MetricsAddr)
		defer metrics.Shutdown(srv)
	}

	if cfg.VerifyDigests {
		v := verify.New(runtime.NumCPU(), logger, rs)
		emitter.Sniffer = v
		defer v.StopAndWait()
	}

	urlID := strpool.Absent
	if *url != "" {
		urlID = pool.InternString(*url)
	}

	p := dump.New(linebuf.New(input), pool, t, emitter, logger, urlID)

	if cfg.GraphEdgesFile != "" {
		gf, err := os.OpenFile(cfg.GraphEdgesFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatalf("failed to open graph edges file %q: %v", cfg.GraphEdgesFile, err)
		}
		defer gf.Close()
		p.GraphEdges = gf
	}

	if err := p.Run(); err != nil {
		logger.Errorf("conversion failed: %v", err)
		os.Exit(exitCode(err))
	}

	if *showStats {
		stats.Print(os.Stderr, stats.Summary{
			Revisions:      rs.revisions,
			Nodes:          rs.nodes,
			Blobs:          rs.blobs,
			BytesCopied:    rs.bytesCopied,
			WindowsApplied: rs.windows,
			DigestFailures: rs.digestFailures,
			Elapsed:        time.Since(startTime),
		})
	}
}
