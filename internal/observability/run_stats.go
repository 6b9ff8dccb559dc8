// Package observability aggregates per-group merge outcomes for the run
// summary and exports them as Prometheus metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Outcome statuses recorded for a group.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// GroupStat is the recorded outcome of one group.
type GroupStat struct {
	Index       int
	Output      string
	Status      string
	Files       int
	InputBytes  int64
	OutputBytes int64
	Duration    time.Duration
}

// RunStats collects group outcomes from concurrent workers.
type RunStats struct {
	mu      sync.Mutex
	started time.Time
	groups  []GroupStat
}

// Summary is a point-in-time view of a run.
type Summary struct {
	Groups      int
	Succeeded   int
	Failed      int
	Skipped     int
	Files       int
	InputBytes  int64
	OutputBytes int64
	Elapsed     time.Duration
	// Slowest is the longest merge, if any group ran.
	Slowest *GroupStat
}

// NewRunStats starts a new aggregation.
func NewRunStats() *RunStats {
	return &RunStats{started: time.Now()}
}

// Record adds one group outcome. This method is thread-safe.
func (s *RunStats) Record(stat GroupStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, stat)
}

// Groups returns a copy of the recorded outcomes ordered by group index.
func (s *RunStats) Groups() []GroupStat {
	s.mu.Lock()
	out := make([]GroupStat, len(s.groups))
	copy(out, s.groups)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Summary totals the recorded outcomes.
func (s *RunStats) Summary() Summary {
	groups := s.Groups()

	sum := Summary{Groups: len(groups), Elapsed: time.Since(s.started)}
	for i := range groups {
		g := groups[i]
		switch g.Status {
		case StatusSucceeded:
			sum.Succeeded++
		case StatusFailed:
			sum.Failed++
		case StatusSkipped:
			sum.Skipped++
		}
		sum.Files += g.Files
		sum.InputBytes += g.InputBytes
		sum.OutputBytes += g.OutputBytes
		if g.Status != StatusSkipped && (sum.Slowest == nil || g.Duration > sum.Slowest.Duration) {
			sum.Slowest = &groups[i]
		}
	}
	return sum
}
