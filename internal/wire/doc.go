// Package wire splits ingress payloads into frames.
//
// Two framings are supported and selected by configuration, never sniffed from the payload:
//
//   - fixed: the whole payload is one frame.
//   - batch: a big-endian u32 frame count followed by that many (u32 length, bytes) records.
//
// Decoded frames are sub-slices of the payload; nothing is copied.
package wire
