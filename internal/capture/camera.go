// Package capture provides frame sources: a live camera, image files on
// disk, a synthetic test pattern and a ZeroMQ feed.
package capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"threshcam/internal/frame"
	"threshcam/internal/logger"
	"threshcam/internal/opencv/conversion"
	"threshcam/internal/pipeline"
)

type CameraConfig struct {
	// Device is a numeric device index or a video file or stream URL.
	Device string
	Width  int
	Height int
	FPS    float64
	// MaxEmptyReads bounds consecutive failed reads before NextFrame gives up.
	MaxEmptyReads int
}

// Camera reads frames from a gocv VideoCapture and converts them to gray.
type Camera struct {
	cfg     CameraConfig
	capture *gocv.VideoCapture
	raw     gocv.Mat
	conv    *conversion.Converter
	pool    *frame.Pool
	logger  logger.Logger
	seq     uint64
	isFile  bool
}

func OpenCamera(cfg CameraConfig, pool *frame.Pool, log logger.Logger) (*Camera, error) {
	if log == nil {
		log = logger.Nop{}
	}
	if pool == nil {
		pool = frame.NewPool(2)
	}
	if cfg.MaxEmptyReads <= 0 {
		cfg.MaxEmptyReads = 30
	}

	var target interface{} = cfg.Device
	isFile := true
	if id, err := strconv.Atoi(cfg.Device); err == nil {
		target = id
		isFile = false
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %q: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture device %q is not available", cfg.Device)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, cfg.FPS)
	}

	log.Info("Camera", "capture opened", map[string]interface{}{
		"device": cfg.Device,
		"width":  vc.Get(gocv.VideoCaptureFrameWidth),
		"height": vc.Get(gocv.VideoCaptureFrameHeight),
		"fps":    vc.Get(gocv.VideoCaptureFPS),
	})

	return &Camera{
		cfg:     cfg,
		capture: vc,
		raw:     gocv.NewMat(),
		conv:    conversion.NewConverter(),
		pool:    pool,
		logger:  log,
		isFile:  isFile,
	}, nil
}

// NextFrame blocks on the device until a frame is available.
func (c *Camera) NextFrame(ctx context.Context) (*frame.Frame, error) {
	for empty := 0; ; empty++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if ok := c.capture.Read(&c.raw); ok && !c.raw.Empty() {
			break
		}
		if c.isFile {
			return nil, pipeline.ErrEndOfStream
		}
		if empty >= c.cfg.MaxEmptyReads {
			return nil, fmt.Errorf("camera %q returned %d empty frames", c.cfg.Device, empty)
		}
		time.Sleep(5 * time.Millisecond)
	}

	f, err := c.pool.Get(c.raw.Cols(), c.raw.Rows())
	if err != nil {
		return nil, err
	}
	if err := c.conv.MatToFrame(c.raw, f); err != nil {
		c.pool.Put(f)
		return nil, fmt.Errorf("camera frame conversion: %w", err)
	}
	c.seq++
	f.Seq = c.seq
	f.Captured = time.Now()
	return f, nil
}

func (c *Camera) Close() error {
	c.logger.Info("Camera", "capture closed", map[string]interface{}{"frames": c.seq})
	c.conv.Close()
	c.raw.Close()
	return c.capture.Close()
}
