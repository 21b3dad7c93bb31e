package frame

import (
	"fmt"
	"image"
	"time"
)

// Frame is a single-channel 8-bit intensity image stored row-major.
// Exactly one pipeline stage owns a Frame at a time.
type Frame struct {
	Width    int
	Height   int
	Pix      []uint8
	Seq      uint64
	Captured time.Time
}

// New allocates a zeroed frame of the given size.
func New(width, height int) (*Frame, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return nil, err
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}, nil
}

// ValidateDimensions rejects sizes a frame cannot have.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("frame dimensions %dx%d exceed maximum %d", width, height, MaxDimension)
	}
	return nil
}

// MaxDimension bounds either side of a frame.
const MaxDimension = 32768

// Validate checks that the pixel buffer agrees with the declared size.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("frame is nil")
	}
	if err := ValidateDimensions(f.Width, f.Height); err != nil {
		return err
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("frame buffer holds %d samples, want %d for %dx%d",
			len(f.Pix), f.Width*f.Height, f.Width, f.Height)
	}
	return nil
}

func (f *Frame) SameSize(other *Frame) bool {
	return other != nil && f.Width == other.Width && f.Height == other.Height
}

func (f *Frame) At(x, y int) uint8 {
	return f.Pix[y*f.Width+x]
}

func (f *Frame) Set(x, y int, v uint8) {
	f.Pix[y*f.Width+x] = v
}

// Row returns the samples of row y without copying.
func (f *Frame) Row(y int) []uint8 {
	off := y * f.Width
	return f.Pix[off : off+f.Width]
}

// Fill sets every sample to v.
func (f *Frame) Fill(v uint8) {
	for i := range f.Pix {
		f.Pix[i] = v
	}
}

func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]uint8, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// CopyFrom copies samples and metadata from src. Both frames must have the same size.
func (f *Frame) CopyFrom(src *Frame) error {
	if !f.SameSize(src) {
		return fmt.Errorf("cannot copy %dx%d frame into %dx%d frame",
			src.Width, src.Height, f.Width, f.Height)
	}
	copy(f.Pix, src.Pix)
	f.Seq = src.Seq
	f.Captured = src.Captured
	return nil
}

// Gray returns an image.Gray that shares the frame's pixel buffer.
func (f *Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromGray copies img into a new frame, honoring its stride and origin.
func FromGray(img *image.Gray) (*Frame, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	f, err := New(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	for y := 0; y < f.Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(f.Row(y), img.Pix[off:off+f.Width])
	}
	return f, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame#%d %dx%d", f.Seq, f.Width, f.Height)
}
