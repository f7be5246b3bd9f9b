package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet is one framed message split off a buffer: the raw type byte and the
// payload bytes it covers. Payload aliases the input buffer.
type Packet struct {
	Type    uint8
	Payload []byte
}

// Size returns the framed size of the packet including the header.
func (p Packet) Size() int { return HeaderSize + len(p.Payload) }

// SplitPacket reads the length prefix and type byte at the front of data and
// returns the framed packet and the bytes that follow it.
//
//	[length:2][type:1][payload:length-3]
func SplitPacket(data []byte) (Packet, []byte, error) {
	if len(data) < 2 {
		return Packet{}, nil, &DecodeError{Field: "packet length", Offset: 0, Err: ErrTruncated}
	}
	size := int(binary.LittleEndian.Uint16(data))
	if size < HeaderSize {
		return Packet{}, nil, &DecodeError{
			Field:  "packet length",
			Offset: 0,
			Err:    fmt.Errorf("%w: %d (minimum %d)", ErrInvalidLength, size, HeaderSize),
		}
	}
	if len(data) < size {
		return Packet{}, nil, &DecodeError{
			Field:  "packet",
			Offset: len(data),
			Err:    fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, size, len(data)),
		}
	}
	return Packet{Type: data[2], Payload: data[HeaderSize:size]}, data[size:], nil
}

// decodeFramed runs decode over the payload of p and requires it to consume
// every byte the length prefix declared.
func decodeFramed(p Packet, decode func(r *Reader) error) error {
	r := NewReader(p.Payload)
	if err := decode(r); err != nil {
		return shiftOffset(err, HeaderSize)
	}
	if n := r.Remaining(); n > 0 {
		return &DecodeError{
			Field:  "payload",
			Offset: HeaderSize + r.Offset(),
			Err:    fmt.Errorf("%w: %d bytes", ErrTrailingData, n),
		}
	}
	return nil
}

// shiftOffset rebases a payload-relative DecodeError onto the whole packet.
func shiftOffset(err error, by int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		shifted := *de
		shifted.Offset += by
		return &shifted
	}
	return err
}

// appendFrame appends the header, the tag and the encoded payload to dst.
func appendFrame(dst []byte, tag uint8, p Payload) ([]byte, error) {
	start := len(dst)
	b := NewPacketBuilder(dst)
	b.WriteUint16(0).WriteUint8(tag)
	p.EncodeTo(b)
	out, err := b.Build()
	if err != nil {
		return nil, err
	}
	size := len(out) - start
	if size > MaxPacketSize {
		return nil, &EncodeError{
			Field: "packet",
			Err:   fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size),
		}
	}
	binary.LittleEndian.PutUint16(out[start:], uint16(size))
	return out, nil
}
