// Package stats renders a human-facing run summary to stderr once the
// fast-import stream has been written, the way the teacher's main.go
// logs per-commit Humanize()'d sizes, but collected into one table at
// the end of the run instead of scattered through --debug output.
package stats

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary holds the counters a run accumulates. Nil-safe fields aren't
// needed: every value defaults to zero for a run that never touched
// that concern (e.g. WindowsApplied stays 0 when no dump node ever
// carried a Text-delta).
type Summary struct {
	Revisions      int
	Nodes          int
	Blobs          int
	BytesCopied    int64
	WindowsApplied int
	DigestFailures int
	Elapsed        time.Duration
}

// Print renders Summary as a table to w, highlighting DigestFailures in
// red when nonzero (fatih/color, matching the teacher's use of colour
// for diagnostic emphasis) and humanizing byte counts (dustin/go-humanize,
// replacing the teacher's own hand-rolled Humanize helper).
func Print(w io.Writer, s Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"metric", "value"})
	t.AppendRow(table.Row{"revisions", s.Revisions})
	t.AppendRow(table.Row{"nodes", s.Nodes})
	t.AppendRow(table.Row{"blobs", s.Blobs})
	t.AppendRow(table.Row{"bytes copied", humanize.Bytes(uint64(s.BytesCopied))})
	t.AppendRow(table.Row{"svndiff windows applied", s.WindowsApplied})

	failures := fmt.Sprintf("%d", s.DigestFailures)
	if s.DigestFailures > 0 {
		failures = color.RedString(failures)
	}
	t.AppendRow(table.Row{"digest failures", failures})
	t.AppendRow(table.Row{"elapsed", s.Elapsed.Round(time.Millisecond)})
	t.Render()
}
