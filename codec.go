package relay

import (
	"time"

	"github.com/edwin-n-johnson/relay/serial"
	"github.com/edwin-n-johnson/relay/wire"
)

// Envelope is the 170-byte fixed header plus a lazily-decoded body. Header
// fields are parsed eagerly so routing can inspect PacketType, Destination,
// and Origin without paying for a body decode.
type Envelope struct {
	PacketType  PacketType
	Flags       Flags
	Destination string
	Origin      string
	Sent        time.Time

	raw  []byte // body bytes, sliced from the decoded buffer; nil once materialized
	body Body
}

// EncodeEnvelope serializes an envelope header plus body into the wire
// format described in spec.md §6. The caller supplies body separately from
// the Envelope struct: Envelope carries routing metadata, body carries the
// payload.
func EncodeEnvelope(e *Envelope, body Body, s serial.Serializer) ([]byte, error) {
	if !isRegistered(e.PacketType) {
		return nil, &Error{Kind: KindUnregisteredPacket}
	}

	bodyBytes, err := s.Marshal(body)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, wire.HeaderSize+len(bodyBytes))
	buf[wire.TypeOffset] = byte(e.PacketType)
	buf[wire.FlagsOffset] = byte(e.Flags)

	if err := wire.PutFixedString(buf[wire.DestinationOffset:wire.DestinationOffset+wire.DestinationSize], wire.DestinationSize, e.Destination); err != nil {
		return nil, err
	}
	if err := wire.PutFixedString(buf[wire.OriginOffset:wire.OriginOffset+wire.OriginSize], wire.OriginSize, e.Origin); err != nil {
		return nil, err
	}

	sent := e.Sent
	if sent.IsZero() {
		sent = time.Now().UTC()
	}
	if err := wire.PutFixedString(buf[wire.SentOffset:wire.SentOffset+wire.SentSize], wire.SentSize, sent.Format(wire.SentTimeLayout)); err != nil {
		return nil, err
	}

	copy(buf[wire.HeaderSize:], bodyBytes)
	return buf, nil
}

// DecodeEnvelope parses the fixed header from buf and retains the remaining
// bytes for lazy body decoding via (*Envelope).Body.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	if len(buf) < wire.HeaderSize {
		return nil, wire.ErrHeaderTruncated
	}

	t := PacketType(buf[wire.TypeOffset])
	if !isRegistered(t) {
		return nil, &Error{Kind: KindUnregisteredPacket}
	}

	sentStr := wire.GetFixedString(buf[wire.SentOffset : wire.SentOffset+wire.SentSize])
	sent, err := time.Parse(wire.SentTimeLayout, sentStr)
	if err != nil {
		return nil, err
	}

	e := &Envelope{
		PacketType:  t,
		Flags:       Flags(buf[wire.FlagsOffset]),
		Destination: wire.GetFixedString(buf[wire.DestinationOffset : wire.DestinationOffset+wire.DestinationSize]),
		Origin:      wire.GetFixedString(buf[wire.OriginOffset : wire.OriginOffset+wire.OriginSize]),
		Sent:        sent,
		raw:         buf[wire.HeaderSize:],
	}
	return e, nil
}

// Body lazily decodes the envelope's body through s, caching the result.
func (e *Envelope) Body(s serial.Serializer) (Body, error) {
	if e.body != nil {
		return e.body, nil
	}
	body, err := newBody(e.PacketType)
	if err != nil {
		return nil, err
	}
	if len(e.raw) > 0 {
		if err := s.Unmarshal(e.raw, body); err != nil {
			return nil, err
		}
	}
	e.body = body
	e.raw = nil
	return body, nil
}
