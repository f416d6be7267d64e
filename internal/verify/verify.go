// Package verify runs an off-the-hot-path integrity check over blob
// content: a content-type sniff (diagnostic only) plus an md5/sha1
// comparison against the dump's declared digests, dispatched onto a
// bounded worker pool so it never blocks the single-threaded
// parse/tree/emit pipeline.
package verify

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"

	"github.com/alitto/pond"
	"github.com/barrbrain/svn-fast-export/internal/tree"
	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
)

const sniffHeaderLen = 261

// Metrics receives a count of failed checks; internal/metrics
// implements this with a Prometheus counter.
type Metrics interface {
	DigestMismatch()
}

// Verifier sniffs and digest-checks blobs on a bounded pool. The zero
// value is not usable; construct with New.
type Verifier struct {
	pool    *pond.WorkerPool
	log     *logrus.Logger
	metrics Metrics
}

// New starts a worker pool sized like the teacher's GitParse pool
// construction (pond.New(workers, 0, pond.MinWorkers(2))), scaled down
// since this is an auxiliary check, not the primary conversion path.
func New(workers int, log *logrus.Logger, metrics Metrics) *Verifier {
	if workers < 1 {
		workers = 1
	}
	return &Verifier{
		pool:    pond.New(workers, 0, pond.MinWorkers(2)),
		log:     log,
		metrics: metrics,
	}
}

// Sniff implements fastexport.BlobSniffer. It copies data (the emitter
// owns the backing slice and may reuse it) and schedules the check
// asynchronously; mismatches are logged, never fatal, per spec.md's
// recoverable-integrity-warning classification.
func (v *Verifier) Sniff(mark uint32, mode tree.Mode, data []byte, md5hex, sha1hex string) {
	if md5hex == "" && sha1hex == "" {
		return
	}
	cp := append([]byte(nil), data...)
	v.pool.Submit(func() {
		v.check(mark, cp, md5hex, sha1hex)
	})
}

func (v *Verifier) check(mark uint32, data []byte, md5hex, sha1hex string) {
	head := data
	if len(head) > sniffHeaderLen {
		head = head[:sniffHeaderLen]
	}
	kind, _ := filetype.Match(head)
	v.log.Debugf("verify: blob %d sniffed as %q", mark, kind.Extension)

	if md5hex != "" {
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != md5hex {
			v.log.Warnf("verify: blob %d md5 mismatch: dump declared %s", mark, md5hex)
			if v.metrics != nil {
				v.metrics.DigestMismatch()
			}
		}
	}
	if sha1hex != "" {
		sum := sha1.Sum(data)
		if hex.EncodeToString(sum[:]) != sha1hex {
			v.log.Warnf("verify: blob %d sha1 mismatch: dump declared %s", mark, sha1hex)
			if v.metrics != nil {
				v.metrics.DigestMismatch()
			}
		}
	}
}

// StopAndWait drains the pool, blocking until every scheduled check has
// run; called once at end of run, mirroring the teacher's
// pool.StopAndWait() in main().
func (v *Verifier) StopAndWait() {
	v.pool.StopAndWait()
}
