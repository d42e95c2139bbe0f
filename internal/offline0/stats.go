package offline0

import (
	"math"
	"sync"
	"sync/atomic"
)

// statsCollector counts strategy outcomes and response sizes served.
type statsCollector struct {
	mu       sync.Mutex
	outcomes map[string]uint64

	responses atomic.Uint64
	bytes     atomic.Uint64
	minBytes  atomic.Uint64
	maxBytes  atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{outcomes: map[string]uint64{}}
	s.minBytes.Store(math.MaxUint64)
	return s
}

// Observe records one response served under marker, e.g. "cache-first/hit".
func (s *statsCollector) Observe(marker string, respBytes int) {
	s.mu.Lock()
	s.outcomes[marker]++
	s.mu.Unlock()

	n := uint64(max(respBytes, 0))
	s.responses.Add(1)
	s.bytes.Add(n)
	for {
		cur := s.minBytes.Load()
		if n >= cur || s.minBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxBytes.Load()
		if n <= cur || s.maxBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

// StatsSnapshot is the stats part of the status report.
type StatsSnapshot struct {
	Responses uint64            `json:"responses"`
	Outcomes  map[string]uint64 `json:"outcomes"`
	MinBytes  string            `json:"minBytes"`
	AvgBytes  string            `json:"avgBytes"`
	MaxBytes  string            `json:"maxBytes"`
}

func (s *statsCollector) Snapshot() StatsSnapshot {
	s.mu.Lock()
	outcomes := make(map[string]uint64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	s.mu.Unlock()

	count := s.responses.Load()
	out := StatsSnapshot{Responses: count, Outcomes: outcomes, MinBytes: "0b", AvgBytes: "0b", MaxBytes: "0b"}
	if count == 0 {
		return out
	}
	minv := s.minBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.MinBytes = formatBytes(minv)
	out.AvgBytes = formatBytes(s.bytes.Load() / count)
	out.MaxBytes = formatBytes(s.maxBytes.Load())
	return out
}
