package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests    uint64
	errorRequests    uint64
	clientErrors     uint64
	totalDurationMs  uint64
	weightRecomputes uint64
	conflictRetries  uint64
	rowsSkipped      uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	} else if status >= 400 {
		atomic.AddUint64(&c.clientErrors, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) WeightRecomputed() {
	atomic.AddUint64(&c.weightRecomputes, 1)
}

func (c *Collector) ConflictRetried() {
	atomic.AddUint64(&c.conflictRetries, 1)
}

func (c *Collector) ProgressRowSkipped() {
	atomic.AddUint64(&c.rowsSkipped, 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	clientErrs := atomic.LoadUint64(&c.clientErrors)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":            total,
		"errorsTotal":              errs,
		"clientErrorsTotal":        clientErrs,
		"avgDurationMs":            avg,
		"totalDurationMs":          totalMs,
		"weightRecomputesTotal":    atomic.LoadUint64(&c.weightRecomputes),
		"conflictRetriesTotal":     atomic.LoadUint64(&c.conflictRetries),
		"progressRowsSkippedTotal": atomic.LoadUint64(&c.rowsSkipped),
	}
}
