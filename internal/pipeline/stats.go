package pipeline

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of a runner's counters.
type Stats struct {
	SessionID   string        `json:"session_id"`
	StartedAt   time.Time     `json:"started_at"`
	Frames      uint64        `json:"frames"`
	Failures    uint64        `json:"failures"`
	Overruns    uint64        `json:"overruns"`
	Dropped     uint64        `json:"dropped"`
	LastCompute time.Duration `json:"last_compute_ns"`
	MeanCompute time.Duration `json:"mean_compute_ns"`
	MaxCompute  time.Duration `json:"max_compute_ns"`
}

type statsTracker struct {
	mu    sync.Mutex
	stats Stats
	total time.Duration
}

func newStatsTracker(sessionID string) *statsTracker {
	return &statsTracker{stats: Stats{SessionID: sessionID}}
}

func (t *statsTracker) start() {
	t.mu.Lock()
	t.stats.StartedAt = time.Now()
	t.mu.Unlock()
}

// frame records one processed frame and reports whether it overran budget.
func (t *statsTracker) frame(elapsed, budget time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Frames++
	t.total += elapsed
	t.stats.LastCompute = elapsed
	t.stats.MeanCompute = t.total / time.Duration(t.stats.Frames)
	if elapsed > t.stats.MaxCompute {
		t.stats.MaxCompute = elapsed
	}
	over := budget > 0 && elapsed > budget
	if over {
		t.stats.Overruns++
	}
	return over
}

func (t *statsTracker) failure() {
	t.mu.Lock()
	t.stats.Failures++
	t.mu.Unlock()
}

func (t *statsTracker) drop() {
	t.mu.Lock()
	t.stats.Dropped++
	t.mu.Unlock()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
