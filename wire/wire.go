// Package wire defines the binary layout of the packet envelope header shared
// by the codec and the frame transport: field widths, byte offsets, and the
// fixed-width string padding rules used on both sides of the wire.
package wire

import (
	"errors"
	"unicode/utf8"
)

// Header field layout. Offsets and sizes are in bytes, matching the on-wire
// packet envelope: type(1) + flags(1) + destination(64) + origin(64) + sent(40).
const (
	TypeOffset = 0
	TypeSize   = 1

	FlagsOffset = 1
	FlagsSize   = 1

	DestinationOffset = 2
	DestinationSize   = 64

	OriginOffset = 66
	OriginSize   = 64

	SentOffset = 130
	SentSize   = 40

	// HeaderSize is the fixed envelope header size; the body begins here.
	HeaderSize = 170
)

// MaxFramePayload is the upper bound on a single frame's payload_length, per
// the wire framing contract: 0 < payload_length <= MaxFramePayload.
const MaxFramePayload = 5_000_000

// FrameIDSize and FrameLenSize are the fixed sizes of the two frame header
// fields that precede the payload on the wire.
const (
	FrameIDSize  = 8
	FrameLenSize = 4
)

// SentTimeLayout is the ISO-8601-with-offset textual layout used to encode
// the "sent" header field, matching spec.md's example
// "2024-01-15T10:30:00.0000000+00:00".
const SentTimeLayout = "2006-01-02T15:04:05.0000000-07:00"

// ErrFieldOverflow is returned when a fixed-width textual header field's
// UTF-8 encoding exceeds the field's declared width.
var ErrFieldOverflow = errors.New("wire: field exceeds fixed width")

// ErrHeaderTruncated is returned when a buffer presented for header decoding
// is shorter than HeaderSize.
var ErrHeaderTruncated = errors.New("wire: header truncated")

// PutFixedString writes s into buf, which must be exactly width bytes,
// right-padding with null bytes. It fails with ErrFieldOverflow if s's UTF-8
// byte length exceeds width.
func PutFixedString(buf []byte, width int, s string) error {
	if len(buf) != width {
		panic("wire: PutFixedString buffer size mismatch")
	}
	if !utf8.ValidString(s) {
		return ErrFieldOverflow
	}
	if len(s) > width {
		return ErrFieldOverflow
	}
	copy(buf, s)
	for i := len(s); i < width; i++ {
		buf[i] = 0
	}
	return nil
}

// GetFixedString reads a null-padded fixed-width field, trimming at the
// first null byte.
func GetFixedString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
