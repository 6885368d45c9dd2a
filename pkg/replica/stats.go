package replica

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const maxTrackableUs = int64(10 * time.Second / time.Microsecond)

// Stats tracks apply latency in microseconds, from 1µs to 10s.
type Stats struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// LatencySummary is a point-in-time view of Stats
type LatencySummary struct {
	Count  int64   `json:"count"`
	MeanUs float64 `json:"mean_us"`
	P50Us  int64   `json:"p50_us"`
	P99Us  int64   `json:"p99_us"`
	MaxUs  int64   `json:"max_us"`
}

// NewStats creates an empty latency recorder
func NewStats() *Stats {
	return &Stats{hist: hdrhistogram.New(1, maxTrackableUs, 3)}
}

// Record adds one observation. Values outside the trackable range are clamped.
func (s *Stats) Record(d time.Duration) {
	us := d.Microseconds()
	if us < 1 {
		us = 1
	}
	if us > maxTrackableUs {
		us = maxTrackableUs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.hist.RecordValue(us)
}

// Summary returns the current percentiles
func (s *Stats) Summary() LatencySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LatencySummary{
		Count:  s.hist.TotalCount(),
		MeanUs: s.hist.Mean(),
		P50Us:  s.hist.ValueAtQuantile(50),
		P99Us:  s.hist.ValueAtQuantile(99),
		MaxUs:  s.hist.Max(),
	}
}

// Reset clears all observations
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.Reset()
}
