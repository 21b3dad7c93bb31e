// Package wire defines the CBOR encoding of frames exchanged over the
// network: the ZeroMQ source reads it and the stream sink writes it.
package wire

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"threshcam/internal/frame"
)

// FrameMessage is one intensity frame on the wire.
type FrameMessage struct {
	Type     string `cbor:"type"`
	Seq      uint64 `cbor:"seq"`
	Width    int    `cbor:"width"`
	Height   int    `cbor:"height"`
	Captured int64  `cbor:"captured_ns"`
	Pix      []byte `cbor:"pix"`
}

const TypeFrame = "frame"

var encMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
}

// Encode serializes f. The result does not alias f.Pix.
func Encode(f *frame.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	msg := FrameMessage{
		Type:   TypeFrame,
		Seq:    f.Seq,
		Width:  f.Width,
		Height: f.Height,
		Pix:    f.Pix,
	}
	if !f.Captured.IsZero() {
		msg.Captured = f.Captured.UnixNano()
	}
	return encMode.Marshal(msg)
}

// Unmarshal parses and validates one frame message.
func Unmarshal(data []byte) (*FrameMessage, error) {
	var msg FrameMessage
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame message: %w", err)
	}
	if msg.Type != "" && msg.Type != TypeFrame {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if err := frame.ValidateDimensions(msg.Width, msg.Height); err != nil {
		return nil, err
	}
	if len(msg.Pix) != msg.Width*msg.Height {
		return nil, fmt.Errorf("frame message carries %d samples, want %d", len(msg.Pix), msg.Width*msg.Height)
	}
	return &msg, nil
}

// CopyTo fills dst, which must already have the message's dimensions.
func (m *FrameMessage) CopyTo(dst *frame.Frame) error {
	if dst == nil || dst.Width != m.Width || dst.Height != m.Height {
		return fmt.Errorf("destination does not match %dx%d message", m.Width, m.Height)
	}
	copy(dst.Pix, m.Pix)
	dst.Seq = m.Seq
	dst.Captured = time.Time{}
	if m.Captured != 0 {
		dst.Captured = time.Unix(0, m.Captured)
	}
	return nil
}

// Decode parses data into dst, which is replaced when its size differs.
// A nil dst allocates a new frame.
func Decode(data []byte, dst *frame.Frame) (*frame.Frame, error) {
	msg, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if dst == nil || dst.Width != msg.Width || dst.Height != msg.Height {
		if dst, err = frame.New(msg.Width, msg.Height); err != nil {
			return nil, err
		}
	}
	if err := msg.CopyTo(dst); err != nil {
		return nil, err
	}
	return dst, nil
}
