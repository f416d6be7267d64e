// Command svnfilter sanitises a git fast-import stream this tool
// previously emitted, blanking blob payloads so a failing import can
// be shared without its file contents, while keeping every commit/M/D
// /mark structural line intact.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var progVersion = "svnfilter-0.1.0"

// writeCloser flushes the buffered writer before closing the underlying
// file, the bufio-then-close shape the teacher's MyWriterCloser used.
type writeCloser struct {
	f *os.File
	*bufio.Writer
}

func (w *writeCloser) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.f != nil {
		return w.f.Close()
	}
	return nil
}

// filterStream reads a fast-import stream from r, blanks every blob's
// payload (replacing it with its mark number, since a placeholder of
// the original length can't be known until the length itself has been
// rewritten) and writes the sanitised stream to w. Every non-blob
// command passes through unchanged.
func filterStream(r io.Reader, w io.Writer, logger *logrus.Logger) (int, error) {
	frontend := libfastimport.NewFrontend(bufio.NewReader(r), nil, nil)
	backend := libfastimport.NewBackend(w, nil, nil)
	blobCount := 0
	for {
		cmd, err := frontend.ReadCmd()
		if err != nil {
			if err != io.EOF {
				return blobCount, fmt.Errorf("svnfilter: failed to read command: %w", err)
			}
			return blobCount, nil
		}
		switch c := cmd.(type) {
		case libfastimport.CmdBlob:
			blobCount++
			logger.Debugf("blanking blob mark %d, %d bytes", c.Mark, len(c.Data))
			c.Data = fmt.Sprintf("%d\n", c.Mark)
			backend.Do(c)
		default:
			backend.Do(cmd)
		}
	}
}

func main() {
	var (
		infile = kingpin.Arg(
			"infile",
			"Fast-import stream to sanitise.",
		).Required().String()
		outfile = kingpin.Arg(
			"outfile",
			"Sanitised fast-import stream to write.",
		).Required().String()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Short('d').Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(progVersion).Author("svn-fast-export")
	kingpin.CommandLine.Help = "Blanks blob payloads in a previously emitted fast-import stream while keeping its commit/M/D/mark structure intact.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}

	in, err := os.Open(*infile)
	if err != nil {
		logger.Fatalf("failed to open %q: %v", *infile, err)
	}
	defer in.Close()

	out, err := os.Create(*outfile)
	if err != nil {
		logger.Fatalf("failed to create %q: %v", *outfile, err)
	}
	wc := &writeCloser{f: out, Writer: bufio.NewWriter(out)}
	defer wc.Close()

	start := time.Now()
	blobCount, err := filterStream(in, wc, logger)
	if err != nil {
		logger.Fatal(err)
	}
	logger.Infof("sanitised %d blobs in %s", blobCount, time.Since(start))
}
