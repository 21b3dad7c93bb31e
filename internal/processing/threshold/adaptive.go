package threshold

import (
	"context"
	"errors"
	"fmt"

	"threshcam/internal/frame"
)

// Adaptive binarizes frames against their local mean.
//
// For each sample the mean is taken over a BlockSize×BlockSize window
// centered on it, with edge samples replicated past the border. The mean
// is rounded half-up to an integer. With T = mean - offset, Binary marks
// samples above T and BinaryInverted marks samples below T; all others
// become background.
//
// Working buffers are sized on the first frame and kept until the frame
// size changes, so processing a stream of equally sized frames does not
// allocate. An Adaptive must not be used from more than one goroutine at
// a time.
type Adaptive struct {
	params Params
	table  [511]uint8

	width       int
	height      int
	rowSums     []uint32
	colSums     []uint32
	allocations int
}

// New validates p and returns a filter with unallocated buffers.
func New(p Params) (*Adaptive, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a := &Adaptive{params: p}
	a.buildTable()
	return a, nil
}

// buildTable maps src-mean, shifted by 255, to an output level.
func (a *Adaptive) buildTable() {
	delta := a.params.integerOffset()
	for i := range a.table {
		d := i - 255
		var fg bool
		if a.params.Direction == Binary {
			fg = d > -delta
		} else {
			fg = d < -delta
		}
		if fg {
			a.table[i] = a.params.MaxValue
		} else {
			a.table[i] = a.params.BackgroundLevel()
		}
	}
}

func (a *Adaptive) Params() Params {
	return a.params
}

// Allocations reports how many times the working buffers were allocated.
func (a *Adaptive) Allocations() int {
	return a.allocations
}

// BufferSize returns the frame size the working buffers are shaped for.
// Both values are zero while unallocated.
func (a *Adaptive) BufferSize() (width, height int) {
	return a.width, a.height
}

// Process binarizes f in place and returns it.
func (a *Adaptive) Process(f *frame.Frame) (*frame.Frame, error) {
	if err := a.ProcessInto(f, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ProcessInto writes the binarized src into dst. dst may be src.
func (a *Adaptive) ProcessInto(dst, src *frame.Frame) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if !dst.SameSize(src) {
		return fmt.Errorf("%w: destination %dx%d, source %dx%d",
			ErrDimensionMismatch, dst.Width, dst.Height, src.Width, src.Height)
	}

	err := a.apply(dst, src)
	if errors.Is(err, ErrDimensionMismatch) {
		a.resize(src.Width, src.Height)
		err = a.apply(dst, src)
	}
	if err != nil {
		return err
	}

	if dst != src {
		dst.Seq = src.Seq
		dst.Captured = src.Captured
	}
	return nil
}

// Release drops the working buffers. The next frame allocates them again.
func (a *Adaptive) Release() {
	a.rowSums = nil
	a.colSums = nil
	a.width, a.height = 0, 0
}

func (a *Adaptive) resize(width, height int) {
	a.rowSums = make([]uint32, width*height)
	a.colSums = make([]uint32, width)
	a.width, a.height = width, height
	a.allocations++
}

func (a *Adaptive) apply(dst, src *frame.Frame) error {
	w, h := src.Width, src.Height
	if a.width != w || a.height != h || len(a.rowSums) != w*h || len(a.colSums) != w {
		return fmt.Errorf("%w: buffers %dx%d, frame %dx%d", ErrDimensionMismatch, a.width, a.height, w, h)
	}

	r := a.params.BlockSize / 2

	// Horizontal window sums, computed from src before anything is written
	// so that dst may alias src.
	for y := 0; y < h; y++ {
		row := src.Pix[y*w : (y+1)*w]
		out := a.rowSums[y*w : (y+1)*w]

		var s uint32
		for dx := -r; dx <= r; dx++ {
			s += uint32(row[clamp(dx, w)])
		}
		out[0] = s
		for x := 1; x < w; x++ {
			s += uint32(row[clamp(x+r, w)])
			s -= uint32(row[clamp(x-1-r, w)])
			out[x] = s
		}
	}

	cols := a.colSums
	for x := range cols {
		cols[x] = 0
	}
	for dy := -r; dy <= r; dy++ {
		rs := a.rowSums[clamp(dy, h)*w:]
		for x := 0; x < w; x++ {
			cols[x] += rs[x]
		}
	}

	area := uint32(a.params.BlockSize * a.params.BlockSize)
	half := area / 2

	for y := 0; y < h; y++ {
		if y > 0 {
			add := a.rowSums[clamp(y+r, h)*w:]
			sub := a.rowSums[clamp(y-1-r, h)*w:]
			for x := 0; x < w; x++ {
				cols[x] = cols[x] + add[x] - sub[x]
			}
		}

		srow := src.Pix[y*w : (y+1)*w]
		drow := dst.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			mean := int((cols[x] + half) / area)
			drow[x] = a.table[int(srow[x])-mean+255]
		}
	}
	return nil
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (a *Adaptive) Name() string {
	return "adaptive_threshold"
}

// Apply lets the filter run as a processing chain step.
func (a *Adaptive) Apply(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return a.Process(f)
}
