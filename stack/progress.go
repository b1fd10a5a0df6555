package stack

import (
	"sync/atomic"
	"time"
)

// Stats summarizes an extraction.
type Stats struct {
	Chunks       int    `json:"chunks"`
	Written      int    `json:"written"`
	Skipped      int    `json:"skipped"`
	Placeholders int    `json:"placeholders"`
	Bytes        uint64 `json:"bytes"`
}

// Progress tracks a running extraction and may be read concurrently, e.g., by the status
// server.
type Progress struct {
	start time.Time

	chunksTotal  int64
	chunksDone   int64
	slicesTotal  int64
	written      int64
	skipped      int64
	placeholders int64
	bytes        uint64
}

// ProgressReport is a point-in-time copy of a Progress.
type ProgressReport struct {
	Stats
	ChunksTotal int     `json:"chunks_total"`
	SlicesTotal int     `json:"slices_total"`
	Elapsed     string  `json:"elapsed"`
	Percent     float64 `json:"percent"`
}

func NewProgress() *Progress {
	return &Progress{start: time.Now()}
}

func (p *Progress) begin(chunks, slices int) {
	atomic.StoreInt64(&p.chunksTotal, int64(chunks))
	atomic.StoreInt64(&p.slicesTotal, int64(slices))
}

func (p *Progress) chunkDone() {
	atomic.AddInt64(&p.chunksDone, 1)
}

func (p *Progress) skip(n int) {
	atomic.AddInt64(&p.skipped, int64(n))
}

func (p *Progress) wrote(numBytes int64, placeholder bool) {
	if placeholder {
		atomic.AddInt64(&p.placeholders, 1)
	} else {
		atomic.AddInt64(&p.written, 1)
	}
	atomic.AddUint64(&p.bytes, uint64(numBytes))
}

// Stats returns the counts so far.
func (p *Progress) Stats() Stats {
	return Stats{
		Chunks:       int(atomic.LoadInt64(&p.chunksDone)),
		Written:      int(atomic.LoadInt64(&p.written)),
		Skipped:      int(atomic.LoadInt64(&p.skipped)),
		Placeholders: int(atomic.LoadInt64(&p.placeholders)),
		Bytes:        atomic.LoadUint64(&p.bytes),
	}
}

// Report returns a snapshot suitable for JSON encoding.
func (p *Progress) Report() ProgressReport {
	r := ProgressReport{
		Stats:       p.Stats(),
		ChunksTotal: int(atomic.LoadInt64(&p.chunksTotal)),
		SlicesTotal: int(atomic.LoadInt64(&p.slicesTotal)),
		Elapsed:     time.Since(p.start).Round(time.Millisecond).String(),
	}
	if r.SlicesTotal > 0 {
		r.Percent = 100 * float64(r.Written+r.Skipped+r.Placeholders) / float64(r.SlicesTotal)
	}
	return r
}
