package frame

import (
	"fmt"
	"time"
)

// Frame is a single image extracted from an ingress payload.
// Data aliases the payload it was decoded from and must not be mutated.
type Frame struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}

// Len returns the number of bytes carried by the frame.
func (f Frame) Len() int {
	return len(f.Data)
}

// Batch is the transient result of decoding one payload.
type Batch struct {
	// Declared is the frame count announced by the batch header (or 1 in fixed mode).
	Declared uint32
	Frames   []Frame
	// Short is set in fixed mode when the payload length differs from the configured frame size.
	Short bool
}

// InputKind describes how frame bytes are interpreted by the persistence stage.
type InputKind string

const (
	// InputRaw means frame bytes are tightly packed pixels in row-major order.
	InputRaw InputKind = "raw"
	// InputEncoded means frame bytes are an already encoded image (png, jpeg).
	InputEncoded InputKind = "encoded"
)

// Layout is the configured geometry of raw frames.
type Layout struct {
	Width    int
	Height   int
	Channels int
	Input    InputKind
}

// FrameSize returns the expected byte length of one raw frame.
func (l Layout) FrameSize() int {
	return l.Width * l.Height * l.Channels
}

// Validate checks the layout for usable dimensions.
func (l Layout) Validate() error {
	if l.Input == InputEncoded {
		return nil
	}
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("frame dimensions must be positive, got %dx%d", l.Width, l.Height)
	}
	switch l.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("unsupported channel count %d", l.Channels)
	}
	return nil
}

// Artifact describes a persisted frame.
type Artifact struct {
	ID          string    `json:"id" cbor:"id"`
	Seq         uint64    `json:"seq" cbor:"seq"`
	Path        string    `json:"path" cbor:"path"`
	URI         string    `json:"uri" cbor:"uri"`
	Format      string    `json:"format" cbor:"format"`
	ContentType string    `json:"content_type" cbor:"content_type"`
	Width       int       `json:"width" cbor:"width"`
	Height      int       `json:"height" cbor:"height"`
	PixelFormat string    `json:"pixel_format" cbor:"pixel_format"`
	Bytes       int       `json:"bytes" cbor:"bytes"`
	Digest      string    `json:"digest" cbor:"digest"`
	ReceivedAt  time.Time `json:"received_at" cbor:"received_at"`
	PersistedAt time.Time `json:"persisted_at" cbor:"persisted_at"`
}
