package frame

import (
	"sync"
)

type PoolKey struct {
	Width  int
	Height int
}

type PoolStats struct {
	Hits      int64
	Misses    int64
	Returned  int64
	Discarded int64
	Idle      int
}

// Pool recycles frames by size. Each size keeps at most maxPerKey idle frames.
type Pool struct {
	free      map[PoolKey][]*Frame
	maxPerKey int
	stats     PoolStats
	mu        sync.Mutex
}

func NewPool(maxPerKey int) *Pool {
	if maxPerKey < 1 {
		maxPerKey = 1
	}
	return &Pool{
		free:      make(map[PoolKey][]*Frame),
		maxPerKey: maxPerKey,
	}
}

// Get returns an idle frame of the given size, or allocates one.
// The returned frame's contents are undefined.
func (p *Pool) Get(width, height int) (*Frame, error) {
	key := PoolKey{Width: width, Height: height}

	p.mu.Lock()
	if idle := p.free[key]; len(idle) > 0 {
		f := idle[len(idle)-1]
		p.free[key] = idle[:len(idle)-1]
		p.stats.Hits++
		p.mu.Unlock()
		f.Seq = 0
		return f, nil
	}
	p.stats.Misses++
	p.mu.Unlock()

	return New(width, height)
}

// Put hands f back to the pool. It reports whether the frame was kept.
func (p *Pool) Put(f *Frame) bool {
	if f == nil || f.Validate() != nil {
		return false
	}
	key := PoolKey{Width: f.Width, Height: f.Height}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free[key]) >= p.maxPerKey {
		p.stats.Discarded++
		return false
	}
	p.free[key] = append(p.free[key], f)
	p.stats.Returned++
	return true
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for _, idle := range p.free {
		s.Idle += len(idle)
	}
	return s
}

// Cleanup drops all idle frames and returns how many were released.
func (p *Pool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for key, idle := range p.free {
		count += len(idle)
		delete(p.free, key)
	}
	return count
}
