// Package progress exposes the process-wide progress counters a driver
// run publishes for polling observers (§9 Design Notes: publication uses
// atomic loads, no locking required).
package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Counters holds the process-wide, monotonically non-decreasing progress
// counters for one driver run.
type Counters struct {
	FilesEnumerated   atomic.Int64
	FilesProcessed    atomic.Int64
	FilesTransferred  atomic.Int64
	BytesExpected     atomic.Int64
	BytesAcknowledged atomic.Int64

	startTime time.Time
}

// NewCounters returns a fresh, zeroed counter set with its start time set
// to now.
func NewCounters() *Counters {
	return &Counters{startTime: time.Now()}
}

// Snapshot is a point-in-time read of every counter, taken without a lock.
type Snapshot struct {
	FilesEnumerated   int64
	FilesProcessed    int64
	FilesTransferred  int64
	BytesExpected     int64
	BytesAcknowledged int64
	Elapsed           time.Duration
}

// Load takes an atomic snapshot of all counters.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		FilesEnumerated:   c.FilesEnumerated.Load(),
		FilesProcessed:    c.FilesProcessed.Load(),
		FilesTransferred:  c.FilesTransferred.Load(),
		BytesExpected:     c.BytesExpected.Load(),
		BytesAcknowledged: c.BytesAcknowledged.Load(),
		Elapsed:           time.Since(c.startTime),
	}
}

// IsFinished reports whether every enumerated job has reached a terminal
// state.
func (c *Counters) IsFinished() bool {
	return c.FilesProcessed.Load() >= c.FilesEnumerated.Load()
}

// IsSuccess reports whether every job that was processed also succeeded.
func (c *Counters) IsSuccess() bool {
	return c.FilesTransferred.Load() == c.FilesProcessed.Load()
}

// Reporter prints a live status line at ~10Hz when copy-status is enabled,
// polling only the read-only Counters fields (mirrors the teacher's
// console progress bar, generalized from one file to the whole run).
type Reporter struct {
	counters *Counters
	ticker   *time.Ticker
	done     chan struct{}
}

// NewReporter builds a reporter over counters. Call Start to begin
// printing and Stop to end it.
func NewReporter(counters *Counters) *Reporter {
	return &Reporter{
		counters: counters,
		ticker:   time.NewTicker(100 * time.Millisecond),
		done:     make(chan struct{}),
	}
}

// Start begins printing progress in a background goroutine.
func (r *Reporter) Start() {
	go r.loop()
}

// Stop ends progress printing.
func (r *Reporter) Stop() {
	r.ticker.Stop()
	close(r.done)
	fmt.Println()
}

func (r *Reporter) loop() {
	for {
		select {
		case <-r.ticker.C:
			r.print()
		case <-r.done:
			return
		}
	}
}

func (r *Reporter) print() {
	s := r.counters.Load()

	var percent float64
	if s.BytesExpected > 0 {
		percent = float64(s.BytesAcknowledged) / float64(s.BytesExpected) * 100
	}

	const barWidth = 30
	completed := int(float64(barWidth) * percent / 100)
	if completed > barWidth {
		completed = barWidth
	}
	bar := strings.Repeat("█", completed) + strings.Repeat("░", barWidth-completed)

	fmt.Printf("\r[%s] %.1f%% files %d/%d (%.2f/%.2f MB)",
		bar, percent, s.FilesProcessed, s.FilesEnumerated,
		float64(s.BytesAcknowledged)/1024/1024, float64(s.BytesExpected)/1024/1024)
}
