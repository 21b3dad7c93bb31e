package capture

import (
	"context"
	"time"

	"threshcam/internal/frame"
	"threshcam/internal/pipeline"
)

type SyntheticConfig struct {
	Width    int
	Height   int
	Interval time.Duration
	// Limit ends the stream after this many frames. Zero runs forever.
	Limit uint64
}

// Synthetic renders a deterministic test pattern: a horizontal gradient
// that drifts with the frame number, with dark squares laid over it.
type Synthetic struct {
	cfg  SyntheticConfig
	pool *frame.Pool
	seq  uint64
	last time.Time
}

func NewSynthetic(cfg SyntheticConfig, pool *frame.Pool) (*Synthetic, error) {
	if err := frame.ValidateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = frame.NewPool(2)
	}
	return &Synthetic{cfg: cfg, pool: pool}, nil
}

func (s *Synthetic) NextFrame(ctx context.Context) (*frame.Frame, error) {
	if s.cfg.Limit > 0 && s.seq >= s.cfg.Limit {
		return nil, pipeline.ErrEndOfStream
	}
	if s.cfg.Interval > 0 {
		wait := time.Until(s.last.Add(s.cfg.Interval))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		s.last = time.Now()
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.pool.Get(s.cfg.Width, s.cfg.Height)
	if err != nil {
		return nil, err
	}
	s.seq++
	Pattern(f, s.seq)
	f.Seq = s.seq
	f.Captured = time.Now()
	return f, nil
}

// Pattern draws frame number seq of the test pattern into f.
func Pattern(f *frame.Frame, seq uint64) {
	w, h := f.Width, f.Height
	shift := int(seq % uint64(w))
	for y := 0; y < h; y++ {
		row := f.Row(y)
		for x := range row {
			row[x] = uint8(64 + (128*((x+shift)%w))/w)
		}
	}

	side := w / 8
	if h/8 < side {
		side = h / 8
	}
	if side < 1 {
		return
	}
	for i := 0; i < 4; i++ {
		x0 := (int(seq)*2 + i*w/4) % w
		y0 := (i*h/4 + h/8) % h
		for y := y0; y < y0+side && y < h; y++ {
			row := f.Row(y)
			for x := x0; x < x0+side && x < w; x++ {
				row[x] = 16
			}
		}
	}
}

func (s *Synthetic) Close() error {
	return nil
}
