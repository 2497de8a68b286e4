// Package publisher holds the wire encodings shared by the notification publishers.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Encoding selects how notification payloads are serialized.
type Encoding string

const (
	// EncodingJSON serializes payloads as JSON.
	EncodingJSON Encoding = "json"
	// EncodingCBOR serializes payloads as deterministic CBOR.
	EncodingCBOR Encoding = "cbor"
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	cborEncMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("publisher: cbor encoder mode: %v", err))
	}
}

// ParseEncoding converts a config string into an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown notification encoding %q", s)
	}
}

// ContentType returns the MIME type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// Marshal serializes payload with the encoding.
func (e Encoding) Marshal(payload any) ([]byte, error) {
	if e == EncodingCBOR {
		data, err := cborEncMode.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal cbor payload: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal json payload: %w", err)
	}
	return data, nil
}
