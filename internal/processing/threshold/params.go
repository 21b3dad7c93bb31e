package threshold

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidParameter reports a malformed Params value. No frame is processed.
	ErrInvalidParameter = errors.New("invalid threshold parameter")

	// ErrDimensionMismatch reports a buffer whose size disagrees with the input frame.
	ErrDimensionMismatch = errors.New("frame dimension mismatch")
)

const (
	MinBlockSize = 3
	// MaxBlockSize keeps 255*BlockSize² within a uint32 window sum.
	MaxBlockSize = 2047
	MaxOffset    = 255.0
)

// Direction selects which side of the local threshold becomes foreground.
type Direction int

const (
	// Binary marks samples brighter than mean-offset as foreground.
	Binary Direction = iota
	// BinaryInverted marks samples darker than mean-offset as foreground.
	BinaryInverted
)

func (d Direction) String() string {
	switch d {
	case Binary:
		return "binary"
	case BinaryInverted:
		return "binary_inv"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "bin":
		return Binary, nil
	case "binary_inv", "binary-inv", "inverted", "inv":
		return BinaryInverted, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidParameter, s)
	}
}

func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Params configures the adaptive filter. It is fixed for the lifetime of a filter.
type Params struct {
	BlockSize int
	Offset    float64
	Direction Direction
	// MaxValue is the foreground level. Background is always 0.
	MaxValue uint8
}

// DefaultParams mirrors the camera app's native routine: a 21x21 mean
// window, offset 5, inverted output at 255.
func DefaultParams() Params {
	return Params{
		BlockSize: 21,
		Offset:    5,
		Direction: BinaryInverted,
		MaxValue:  255,
	}
}

func (p Params) Validate() error {
	if p.BlockSize < MinBlockSize || p.BlockSize%2 == 0 {
		return fmt.Errorf("%w: block size %d must be odd and at least %d",
			ErrInvalidParameter, p.BlockSize, MinBlockSize)
	}
	if p.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size %d exceeds %d", ErrInvalidParameter, p.BlockSize, MaxBlockSize)
	}
	if math.IsNaN(p.Offset) || math.Abs(p.Offset) > MaxOffset {
		return fmt.Errorf("%w: offset %v outside [-%v, %v]", ErrInvalidParameter, p.Offset, MaxOffset, MaxOffset)
	}
	if p.Direction != Binary && p.Direction != BinaryInverted {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, p.Direction)
	}
	if p.MaxValue == 0 {
		return fmt.Errorf("%w: foreground level must be non-zero", ErrInvalidParameter)
	}
	return nil
}

// BackgroundLevel is the value of every non-foreground output sample.
func (p Params) BackgroundLevel() uint8 {
	return 0
}

// integerOffset rounds the offset toward the side that keeps equality on
// the background, matching OpenCV's adaptiveThreshold.
func (p Params) integerOffset() int {
	if p.Direction == Binary {
		return int(math.Ceil(p.Offset))
	}
	return int(math.Floor(p.Offset))
}
