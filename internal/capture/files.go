package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"threshcam/internal/frame"
	"threshcam/internal/logger"
	"threshcam/internal/opencv/conversion"
	"threshcam/internal/pipeline"
)

type FilesConfig struct {
	Pattern string
	// Interval paces frames. Zero delivers them as fast as they load.
	Interval time.Duration
	Loop     bool
}

// Files replays still images matched by a glob, in lexical order.
type Files struct {
	cfg    FilesConfig
	paths  []string
	next   int
	seq    uint64
	last   time.Time
	conv   *conversion.Converter
	pool   *frame.Pool
	logger logger.Logger
}

func OpenFiles(cfg FilesConfig, pool *frame.Pool, log logger.Logger) (*Files, error) {
	if log == nil {
		log = logger.Nop{}
	}
	if pool == nil {
		pool = frame.NewPool(2)
	}
	paths, err := filepath.Glob(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", cfg.Pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images match %q", cfg.Pattern)
	}
	sort.Strings(paths)

	log.Info("Files", "image sequence opened", map[string]interface{}{
		"pattern": cfg.Pattern,
		"count":   len(paths),
		"loop":    cfg.Loop,
	})

	return &Files{
		cfg:    cfg,
		paths:  paths,
		conv:   conversion.NewConverter(),
		pool:   pool,
		logger: log,
	}, nil
}

func (s *Files) NextFrame(ctx context.Context) (*frame.Frame, error) {
	if s.next >= len(s.paths) {
		if !s.cfg.Loop {
			return nil, pipeline.ErrEndOfStream
		}
		s.next = 0
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	path := s.paths[s.next]
	s.next++

	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if err := conversion.ValidateMat(mat, "read "+path); err != nil {
		return nil, err
	}

	f, err := s.pool.Get(mat.Cols(), mat.Rows())
	if err != nil {
		return nil, err
	}
	if err := s.conv.MatToFrame(mat, f); err != nil {
		s.pool.Put(f)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.seq++
	f.Seq = s.seq
	f.Captured = time.Now()

	s.logger.Debug("Files", "image loaded", map[string]interface{}{
		"path":   path,
		"width":  f.Width,
		"height": f.Height,
	})
	return f, nil
}

func (s *Files) pace(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return ctx.Err()
	}
	wait := time.Until(s.last.Add(s.cfg.Interval))
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.last = time.Now()
	return nil
}

func (s *Files) Close() error {
	return s.conv.Close()
}
