// Package imagecodec turns frame bytes into storable image artifacts.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	// Registers GIF decoding for encoded input alongside png and jpeg.
	_ "image/gif"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/JakeFAU/frame-ingest/internal/frame"
)

// Format names an output artifact encoding.
type Format string

const (
	// FormatPNG writes lossless PNG images.
	FormatPNG Format = "png"
	// FormatJPEG writes JPEG images at the configured quality.
	FormatJPEG Format = "jpeg"
	// FormatRawLZ4 writes the raw pixel buffer as a single LZ4 block.
	FormatRawLZ4 Format = "raw.lz4"
	// FormatRawZstd writes the raw pixel buffer as a zstd frame.
	FormatRawZstd Format = "raw.zst"
	// FormatRaw stores the frame bytes verbatim without interpreting them.
	FormatRaw Format = "raw"
)

// DefaultJPEGQuality applies when no quality is configured.
const DefaultJPEGQuality = 90

// ErrDecode reports frame bytes that cannot be interpreted as an image.
var ErrDecode = errors.New("decode frame")

// ParseFormat converts a config string into a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatJPEG, FormatRawLZ4, FormatRawZstd, FormatRaw:
		return f, nil
	case "jpg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Config controls the Encoder.
type Config struct {
	Layout      frame.Layout
	Format      Format
	JPEGQuality int
}

// Encoded is a frame ready to be written to a blob store.
type Encoded struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
	PixelFormat string
	// RawSize is the uncompressed pixel buffer size for raw formats.
	RawSize int
}

// Encoder converts frames to the configured output format. It is safe for concurrent use.
type Encoder struct {
	layout  frame.Layout
	format  Format
	quality int
	zstdEnc *zstd.Encoder
}

// New constructs an Encoder.
func New(cfg Config) (*Encoder, error) {
	if cfg.Layout.Input == "" {
		cfg.Layout.Input = frame.InputRaw
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("frame layout: %w", err)
	}
	if cfg.Format == "" {
		cfg.Format = FormatPNG
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	enc := &Encoder{
		layout:  cfg.Layout,
		format:  cfg.Format,
		quality: cfg.JPEGQuality,
	}
	if cfg.Format == FormatRawZstd {
		zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		enc.zstdEnc = zenc
	}
	return enc, nil
}

// Format returns the configured output format.
func (e *Encoder) Format() Format {
	return e.format
}

// Encode converts frame bytes into the configured output format.
// Bytes that do not match the layout wrap ErrDecode.
func (e *Encoder) Encode(data []byte) (Encoded, error) {
	if e.format == FormatRaw {
		return e.passthrough(data)
	}
	img, pixfmt, err := e.decode(data)
	if err != nil {
		return Encoded{}, err
	}
	bounds := img.Bounds()
	out := Encoded{
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		PixelFormat: pixfmt,
	}

	var buf bytes.Buffer
	switch e.format {
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return Encoded{}, fmt.Errorf("encode png: %w", err)
		}
		out.Data, out.ContentType, out.Ext = buf.Bytes(), "image/png", "png"
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
		}
		out.Data, out.ContentType, out.Ext = buf.Bytes(), "image/jpeg", "jpg"
	case FormatRawLZ4, FormatRawZstd:
		pix, gray := pixels(img)
		out.PixelFormat = "rgba8"
		if gray {
			out.PixelFormat = "gray8"
		}
		out.RawSize = len(pix)
		compressed, err := e.compress(pix)
		if err != nil {
			return Encoded{}, err
		}
		out.Data, out.ContentType, out.Ext = compressed, "application/octet-stream", string(e.format)
	}
	return out, nil
}

// passthrough keeps the producer's bytes. Only an empty frame is rejected.
func (e *Encoder) passthrough(data []byte) (Encoded, error) {
	if len(data) == 0 {
		return Encoded{}, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	out := Encoded{
		Data:        data,
		ContentType: "application/octet-stream",
		Ext:         "bin",
		PixelFormat: "opaque",
		RawSize:     len(data),
	}
	if e.layout.Input != frame.InputEncoded && len(data) == e.layout.FrameSize() {
		out.Width, out.Height = e.layout.Width, e.layout.Height
	}
	return out, nil
}

func (e *Encoder) decode(data []byte) (image.Image, string, error) {
	if e.layout.Input == frame.InputEncoded {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return img, pixelFormat(img), nil
	}

	w, h := e.layout.Width, e.layout.Height
	if want := e.layout.FrameSize(); len(data) != want {
		return nil, "", fmt.Errorf("%w: got %d bytes, want %d for %dx%dx%d",
			ErrDecode, len(data), want, w, h, e.layout.Channels)
	}
	rect := image.Rect(0, 0, w, h)
	switch e.layout.Channels {
	case 1:
		return &image.Gray{Pix: data, Stride: w, Rect: rect}, "gray8", nil
	case 3:
		return rgbToNRGBA(data, rect), "rgb8", nil
	default:
		return &image.NRGBA{Pix: data, Stride: 4 * w, Rect: rect}, "rgba8", nil
	}
}

func (e *Encoder) compress(pix []byte) ([]byte, error) {
	if e.format == FormatRawZstd {
		return e.zstdEnc.EncodeAll(pix, make([]byte, 0, len(pix)/2)), nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(pix); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func rgbToNRGBA(data []byte, rect image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(rect)
	for i, j := 0, 0; i+2 < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func pixelFormat(img image.Image) string {
	switch img.(type) {
	case *image.Gray:
		return "gray8"
	case *image.Gray16:
		return "gray16"
	case *image.YCbCr:
		return "ycbcr"
	case *image.Paletted:
		return "paletted"
	default:
		return "rgba8"
	}
}

// pixels returns the tightly packed pixel buffer of img: 8-bit gray when gray is true, NRGBA otherwise.
func pixels(img image.Image) (pix []byte, gray bool) {
	switch m := img.(type) {
	case *image.Gray:
		if m.Stride == m.Rect.Dx() {
			return m.Pix, true
		}
	case *image.NRGBA:
		if m.Stride == 4*m.Rect.Dx() {
			return m.Pix, false
		}
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst.Pix, false
}
