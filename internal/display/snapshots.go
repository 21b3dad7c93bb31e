package display

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"threshcam/internal/frame"
	"threshcam/internal/opencv/conversion"
)

type SnapshotConfig struct {
	Dir    string
	Every  int
	Prefix string
}

// Snapshots writes every Nth frame to disk as PNG.
type Snapshots struct {
	cfg     SnapshotConfig
	mat     gocv.Mat
	seen    uint64
	written int
}

func NewSnapshots(cfg SnapshotConfig) (*Snapshots, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if cfg.Every <= 0 {
		cfg.Every = 1
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "frame_"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Snapshots{cfg: cfg, mat: gocv.NewMat()}, nil
}

func (s *Snapshots) Render(f *frame.Frame) error {
	s.seen++
	if s.seen%uint64(s.cfg.Every) != 0 {
		return nil
	}

	if err := conversion.FrameToMat(f, &s.mat); err != nil {
		return err
	}
	name := filepath.Join(s.cfg.Dir, fmt.Sprintf("%s%08d.png", s.cfg.Prefix, f.Seq))
	if !gocv.IMWrite(name, s.mat) {
		return fmt.Errorf("write snapshot %s", name)
	}
	s.written++
	return nil
}

// Written reports how many files have been written.
func (s *Snapshots) Written() int {
	return s.written
}

func (s *Snapshots) Close() error {
	return s.mat.Close()
}
