package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeBatch frames the given images in batch mode.
func EncodeBatch(frames [][]byte) ([]byte, error) {
	size := headerSize
	for _, f := range frames {
		size += headerSize + len(f)
	}
	return AppendBatch(make([]byte, 0, size), frames)
}

// AppendBatch appends a batch-mode payload holding frames to dst.
func AppendBatch(dst []byte, frames [][]byte) ([]byte, error) {
	if uint64(len(frames)) > math.MaxUint32 {
		return nil, fmt.Errorf("too many frames: %d", len(frames))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(frames)))
	for i, f := range frames {
		if uint64(len(f)) > math.MaxUint32 {
			return nil, fmt.Errorf("frame %d too large: %d bytes", i, len(f))
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(f)))
		dst = append(dst, f...)
	}
	return dst, nil
}
