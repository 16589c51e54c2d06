package relay

import (
	"encoding/binary"
	"io"

	"github.com/edwin-n-johnson/relay/wire"
)

// readFrame reads exactly one frame from r: an 8-byte little-endian
// frame_id, a 4-byte little-endian payload_length, then payload_length
// bytes of payload. It enforces the (0, maxPayload] bound from spec.md's
// wire framing contract; maxPayload of 0 falls back to wire.MaxFramePayload.
func readFrame(r io.Reader, maxPayload int64) (frameID uint64, payload []byte, err error) {
	if maxPayload <= 0 {
		maxPayload = wire.MaxFramePayload
	}

	var header [wire.FrameIDSize + wire.FrameLenSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, nil, disconnectedFromReadErr(err)
	}

	frameID = binary.LittleEndian.Uint64(header[:wire.FrameIDSize])
	length := int32(binary.LittleEndian.Uint32(header[wire.FrameIDSize:]))

	if length <= 0 || int64(length) > maxPayload {
		return 0, nil, newErr(KindInvalidDataLength, nil)
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, disconnectedFromReadErr(err)
	}
	return frameID, payload, nil
}

func disconnectedFromReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return newErr(KindDisconnected, err)
	}
	return newErr(KindDisconnected, err)
}

// writeFrame writes one frame to w. Callers are responsible for serializing
// concurrent writes on the same w (see Connection.sendSem); writeFrame itself
// performs no locking. maxPayload of 0 falls back to wire.MaxFramePayload.
func writeFrame(w io.Writer, frameID uint64, payload []byte, maxPayload int64) error {
	if maxPayload <= 0 {
		maxPayload = wire.MaxFramePayload
	}
	if len(payload) == 0 || int64(len(payload)) > maxPayload {
		return newErr(KindInvalidDataLength, nil)
	}

	var header [wire.FrameIDSize + wire.FrameLenSize]byte
	binary.LittleEndian.PutUint64(header[:wire.FrameIDSize], frameID)
	binary.LittleEndian.PutUint32(header[wire.FrameIDSize:], uint32(int32(len(payload))))

	if _, err := w.Write(header[:]); err != nil {
		return newErr(KindDisconnected, err)
	}
	if _, err := w.Write(payload); err != nil {
		return newErr(KindDisconnected, err)
	}
	return nil
}
