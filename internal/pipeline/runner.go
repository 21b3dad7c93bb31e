package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"threshcam/internal/frame"
	"threshcam/internal/logger"
)

// DefaultFrameBudget is the reciprocal of a 30 fps capture rate.
const DefaultFrameBudget = 33 * time.Millisecond

type Options struct {
	// FrameBudget is the compute time a frame may take before it counts as
	// an overrun. Zero means DefaultFrameBudget; negative disables the check.
	FrameBudget time.Duration
	// Recycler receives every frame once the sink has rendered it.
	Recycler Recycler
	Logger   logger.Logger
	// LogEvery emits an info line with the compute time of every Nth frame.
	// One logs every frame; zero disables it.
	LogEvery int
}

// Runner drives Source → Processor → Sink one frame at a time.
type Runner struct {
	source Source
	proc   Processor
	sink   Sink
	opts   Options
	logger logger.Logger
	stats  *statsTracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewRunner requires a Ready from Initialize; frames cannot flow before setup completes.
func NewRunner(ready *Ready, src Source, proc Processor, sink Sink, opts Options) (*Runner, error) {
	if ready == nil {
		return nil, ErrNotReady
	}
	if src == nil || proc == nil || sink == nil {
		return nil, fmt.Errorf("runner needs a source, a processor and a sink")
	}
	if opts.FrameBudget == 0 {
		opts.FrameBudget = DefaultFrameBudget
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop{}
	}
	return &Runner{
		source: src,
		proc:   proc,
		sink:   sink,
		opts:   opts,
		logger: log,
		stats:  newStatsTracker(ready.SessionID),
	}, nil
}

func (r *Runner) Stats() Stats {
	return r.stats.snapshot()
}

// Shutdown stops a running loop. Run then returns nil.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) begin(parent context.Context) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, nil, fmt.Errorf("runner already running")
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.running = true
	r.stats.start()

	return ctx, func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}, nil
}

// Run processes frames synchronously on the calling goroutine until ctx
// is done, the source reports ErrEndOfStream, or a stage fails.
func (r *Runner) Run(parent context.Context) error {
	ctx, end, err := r.begin(parent)
	if err != nil {
		return err
	}
	defer end()

	r.logger.Info("Runner", "pipeline started", map[string]interface{}{
		"session_id": r.stats.snapshot().SessionID,
		"mode":       "synchronous",
	})

	for {
		if ctx.Err() != nil {
			r.logStopped("cancelled")
			return nil
		}

		f, err := r.source.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				r.logStopped("end of stream")
				return nil
			}
			if ctx.Err() != nil {
				r.logStopped("cancelled")
				return nil
			}
			r.logger.Error("Runner", err, map[string]interface{}{"stage": "source"})
			return fmt.Errorf("next frame: %w", err)
		}

		if err := r.handle(ctx, f); err != nil {
			if ctx.Err() != nil {
				r.logStopped("cancelled")
				return nil
			}
			return err
		}
	}
}

// RunLatest captures on a separate goroutine and processes only the most
// recent frame. Frames that arrive while one is being processed replace
// each other in a single-slot mailbox and are counted as dropped.
func (r *Runner) RunLatest(parent context.Context) error {
	ctx, end, err := r.begin(parent)
	if err != nil {
		return err
	}
	defer end()

	r.logger.Info("Runner", "pipeline started", map[string]interface{}{
		"session_id": r.stats.snapshot().SessionID,
		"mode":       "latest_frame",
	})

	mb := NewMailbox()
	captureErr := make(chan error, 1)

	go func() {
		defer mb.Close()
		for {
			f, err := r.source.NextFrame(ctx)
			if err != nil {
				if errors.Is(err, ErrEndOfStream) || ctx.Err() != nil {
					captureErr <- nil
					return
				}
				captureErr <- fmt.Errorf("next frame: %w", err)
				return
			}
			if dropped := mb.Publish(f); dropped != nil {
				if dropped != f {
					r.stats.drop()
				}
				r.recycle(dropped)
			}
		}
	}()

	var procErr error
	for {
		f := mb.Consume()
		if f == nil {
			break
		}
		if procErr != nil || ctx.Err() != nil {
			r.recycle(f)
			continue
		}
		if err := r.handle(ctx, f); err != nil && ctx.Err() == nil {
			procErr = err
			r.Shutdown()
		}
	}

	if err := <-captureErr; err != nil && procErr == nil {
		r.logger.Error("Runner", err, map[string]interface{}{"stage": "source"})
		return err
	}
	if procErr != nil {
		return procErr
	}
	r.logStopped("drained")
	return nil
}

func (r *Runner) handle(ctx context.Context, f *frame.Frame) error {
	start := time.Now()
	out, err := r.proc.Execute(ctx, f)
	elapsed := time.Since(start)
	if err != nil {
		r.recycle(f)
		if ctx.Err() != nil {
			return err
		}
		r.stats.failure()
		r.logger.Error("Runner", err, map[string]interface{}{
			"stage": "process",
			"seq":   f.Seq,
		})
		return fmt.Errorf("process frame %d: %w", f.Seq, err)
	}

	if over := r.stats.frame(elapsed, r.opts.FrameBudget); over {
		r.logger.Warning("Runner", "frame exceeded budget", map[string]interface{}{
			"seq":        out.Seq,
			"compute_ms": float64(elapsed.Microseconds()) / 1000,
			"budget_ms":  float64(r.opts.FrameBudget.Microseconds()) / 1000,
		})
	}
	if n := r.opts.LogEvery; n > 0 && out.Seq%uint64(n) == 0 {
		r.logger.Info("Runner", "frame processed", map[string]interface{}{
			"seq":        out.Seq,
			"compute_ms": float64(elapsed.Microseconds()) / 1000,
		})
	}

	renderErr := r.sink.Render(out)
	r.recycle(out)
	if out != f {
		r.recycle(f)
	}
	if renderErr != nil {
		r.stats.failure()
		r.logger.Error("Runner", renderErr, map[string]interface{}{
			"stage": "sink",
			"seq":   out.Seq,
		})
		return fmt.Errorf("render frame %d: %w", out.Seq, renderErr)
	}
	return nil
}

func (r *Runner) recycle(f *frame.Frame) {
	if r.opts.Recycler != nil && f != nil {
		r.opts.Recycler.Put(f)
	}
}

func (r *Runner) logStopped(reason string) {
	s := r.stats.snapshot()
	r.logger.Info("Runner", "pipeline stopped", map[string]interface{}{
		"reason":          reason,
		"frames":          s.Frames,
		"dropped":         s.Dropped,
		"overruns":        s.Overruns,
		"mean_compute_ms": float64(s.MeanCompute.Microseconds()) / 1000,
	})
}
