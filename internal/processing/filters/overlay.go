package filters

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"threshcam/internal/frame"
	"threshcam/internal/opencv/conversion"
)

// Overlay writes a line of status text into the top-left of each frame.
type Overlay struct {
	// Text returns the line to draw for f. An empty line skips drawing.
	Text  func(f *frame.Frame) string
	Level uint8
	Scale float64
	mat   gocv.Mat
}

func NewOverlay(level uint8, text func(f *frame.Frame) string) *Overlay {
	return &Overlay{
		Text:  text,
		Level: level,
		Scale: 1,
		mat:   gocv.NewMat(),
	}
}

func (o *Overlay) Name() string {
	return "overlay"
}

func (o *Overlay) Apply(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	if o.Text == nil {
		return f, nil
	}
	line := o.Text(f)
	if line == "" {
		return f, nil
	}

	if err := conversion.FrameToMat(f, &o.mat); err != nil {
		return nil, err
	}
	v := o.Level
	gocv.PutText(&o.mat, line, image.Pt(5, int(30*o.Scale)), gocv.FontHersheyDuplex, o.Scale,
		color.RGBA{R: v, G: v, B: v, A: 0}, 2)
	if err := conversion.MatToFrameInto(o.mat, f); err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}
	return f, nil
}

func (o *Overlay) Close() error {
	return o.mat.Close()
}
