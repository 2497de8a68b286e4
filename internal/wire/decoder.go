package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/frame-ingest/internal/frame"
)

// Mode selects how a payload is framed.
type Mode string

const (
	// ModeFixed treats the whole payload as one frame.
	ModeFixed Mode = "fixed"
	// ModeBatch reads a count-prefixed sequence of length-prefixed frames.
	ModeBatch Mode = "batch"
)

const headerSize = 4

var (
	// ErrTruncatedHeader reports a batch payload too short to hold the frame count.
	ErrTruncatedHeader = errors.New("truncated batch header")
	// ErrTruncatedFrame reports a batch that ended before all declared frames were read.
	ErrTruncatedFrame = errors.New("truncated frame")
)

// TruncatedFrameError describes where a batch payload ran out.
type TruncatedFrameError struct {
	Index    int
	Declared uint32
	Reason   string
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("frame %d of %d: %s", e.Index, e.Declared, e.Reason)
}

// Unwrap lets errors.Is match ErrTruncatedFrame.
func (e *TruncatedFrameError) Unwrap() error {
	return ErrTruncatedFrame
}

// ParseMode converts a config string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFixed:
		return ModeFixed, nil
	case ModeBatch:
		return ModeBatch, nil
	default:
		return "", fmt.Errorf("unknown ingress mode %q", s)
	}
}

// Decoder turns payloads into frames and stamps each with a process-wide sequence number.
type Decoder struct {
	mode      Mode
	frameSize int
	seq       atomic.Uint64
	now       func() time.Time
}

// NewDecoder constructs a Decoder. frameSize is only used to flag short fixed-mode payloads.
func NewDecoder(mode Mode, frameSize int) *Decoder {
	return &Decoder{
		mode:      mode,
		frameSize: frameSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Mode returns the framing this decoder applies.
func (d *Decoder) Mode() Mode {
	return d.mode
}

// Decode splits payload into frames.
//
// In batch mode a short payload yields ErrTruncatedHeader and no frames; a batch that ends early yields the
// frames read so far together with a *TruncatedFrameError. Callers should enqueue whatever frames come back.
func (d *Decoder) Decode(payload []byte) (frame.Batch, error) {
	received := d.now()
	if d.mode == ModeFixed {
		return d.decodeFixed(payload, received), nil
	}
	return d.decodeBatch(payload, received)
}

func (d *Decoder) decodeFixed(payload []byte, received time.Time) frame.Batch {
	if len(payload) == 0 {
		return frame.Batch{}
	}
	return frame.Batch{
		Declared: 1,
		Frames:   []frame.Frame{d.newFrame(payload, received)},
		Short:    d.frameSize > 0 && len(payload) != d.frameSize,
	}
}

func (d *Decoder) decodeBatch(payload []byte, received time.Time) (frame.Batch, error) {
	if len(payload) < headerSize {
		return frame.Batch{}, ErrTruncatedHeader
	}
	declared := binary.BigEndian.Uint32(payload)
	batch := frame.Batch{Declared: declared}

	// Every frame costs at least its length field, so the payload bounds the slice size.
	maxFrames := (len(payload) - headerSize) / headerSize
	if uint64(declared) < uint64(maxFrames) {
		maxFrames = int(declared)
	}
	batch.Frames = make([]frame.Frame, 0, maxFrames)

	offset := headerSize
	for i := 0; uint32(i) < declared; i++ {
		remaining := len(payload) - offset
		if remaining < headerSize {
			return batch, &TruncatedFrameError{Index: i, Declared: declared, Reason: "missing length field"}
		}
		length := binary.BigEndian.Uint32(payload[offset:])
		offset += headerSize
		if uint64(length) > uint64(remaining-headerSize) {
			return batch, &TruncatedFrameError{
				Index:    i,
				Declared: declared,
				Reason:   fmt.Sprintf("want %d bytes, have %d", length, remaining-headerSize),
			}
		}
		end := offset + int(length)
		batch.Frames = append(batch.Frames, d.newFrame(payload[offset:end:end], received))
		offset = end
	}
	return batch, nil
}

func (d *Decoder) newFrame(data []byte, received time.Time) frame.Frame {
	return frame.Frame{
		Seq:        d.seq.Add(1),
		Data:       data,
		ReceivedAt: received,
	}
}
