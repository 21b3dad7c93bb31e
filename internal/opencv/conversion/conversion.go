package conversion

import (
	"fmt"

	"gocv.io/x/gocv"

	"threshcam/internal/frame"
)

// Converter moves pixels between gocv Mats and frames. It keeps a scratch
// Mat for color conversion so steady-state capture does not allocate.
// A Converter is not safe for concurrent use.
type Converter struct {
	gray gocv.Mat
}

func NewConverter() *Converter {
	return &Converter{gray: gocv.NewMat()}
}

func (c *Converter) Close() error {
	return c.gray.Close()
}

// ValidateMat rejects Mats the pipeline cannot read.
func ValidateMat(mat gocv.Mat, operation string) error {
	if mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}
	if err := frame.ValidateDimensions(mat.Cols(), mat.Rows()); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// Grayscale returns a single-channel view of src. For 1-channel input it
// returns src itself; otherwise the result lives in the converter's
// scratch Mat and is valid until the next call.
func (c *Converter) Grayscale(src gocv.Mat) (gocv.Mat, error) {
	if err := ValidateMat(src, "grayscale conversion"); err != nil {
		return gocv.Mat{}, err
	}

	switch src.Channels() {
	case 1:
		return src, nil
	case 3:
		gocv.CvtColor(src, &c.gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &c.gray, gocv.ColorBGRAToGray)
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported channel count for grayscale conversion: %d", src.Channels())
	}
	return c.gray, nil
}

// MatToFrame converts src to gray and copies it into dst, whose size must
// match the Mat.
func (c *Converter) MatToFrame(src gocv.Mat, dst *frame.Frame) error {
	gray, err := c.Grayscale(src)
	if err != nil {
		return err
	}
	if gray.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("unsupported Mat type %v, want 8-bit single channel", gray.Type())
	}
	if dst == nil || dst.Width != gray.Cols() || dst.Height != gray.Rows() {
		return fmt.Errorf("frame does not match %dx%d Mat", gray.Cols(), gray.Rows())
	}

	if !gray.IsContinuous() {
		cont := gray.Clone()
		defer cont.Close()
		gray = cont
	}
	data, err := gray.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("Mat data access failed: %w", err)
	}
	copy(dst.Pix, data)
	return nil
}

// FrameToMat copies f into dst, reallocating dst only when its shape differs.
func FrameToMat(f *frame.Frame, dst *gocv.Mat) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if dst.Empty() || dst.Rows() != f.Height || dst.Cols() != f.Width || dst.Type() != gocv.MatTypeCV8UC1 {
		dst.Close()
		*dst = gocv.NewMatWithSize(f.Height, f.Width, gocv.MatTypeCV8UC1)
	}
	data, err := dst.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("Mat data access failed: %w", err)
	}
	copy(data, f.Pix)
	return nil
}

// MatToFrameInto copies an 8UC1 Mat back into an existing frame of equal size.
func MatToFrameInto(src gocv.Mat, dst *frame.Frame) error {
	if src.Type() != gocv.MatTypeCV8UC1 || src.Rows() != dst.Height || src.Cols() != dst.Width {
		return fmt.Errorf("Mat %dx%d type %v does not match frame %dx%d",
			src.Cols(), src.Rows(), src.Type(), dst.Width, dst.Height)
	}
	data, err := src.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("Mat data access failed: %w", err)
	}
	copy(dst.Pix, data)
	return nil
}
