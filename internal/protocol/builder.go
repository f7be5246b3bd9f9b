package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PacketBuilder appends wire bytes to a buffer. Writes are fluent; the first
// encode failure is kept and returned by Build, later writes are ignored.
type PacketBuilder struct {
	buf []byte
	err error
}

// NewPacketBuilder creates a builder that appends to dst. dst may be nil.
func NewPacketBuilder(dst []byte) *PacketBuilder {
	return &PacketBuilder{buf: dst}
}

// Err returns the first encode error, if any.
func (b *PacketBuilder) Err() error { return b.err }

// Fail records err unless an error is already pending.
func (b *PacketBuilder) Fail(err error) *PacketBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	if b.err == nil {
		b.buf = append(b.buf, v)
	}
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	}
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	}
	return b
}

// WriteUint64 writes a uint64 in little-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	if b.err == nil {
		b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	}
	return b
}

// WriteBool writes true as 1 and false as 0.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteString writes s followed by a single NUL. s must not contain a NUL
// itself; it is not escaped.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if b.err == nil {
		b.buf = append(b.buf, s...)
		b.buf = append(b.buf, 0)
	}
	return b
}

// WriteTimestamp writes t as uint32 seconds since the Unix epoch. Times
// outside the uint32 range wrap.
func (b *PacketBuilder) WriteTimestamp(t time.Time) *PacketBuilder {
	return b.WriteUint32(uint32(t.Unix()))
}

// WriteHash writes a 16 byte NewGRF checksum.
func (b *PacketBuilder) WriteHash(h GRFHash) *PacketBuilder {
	return b.WriteBytes(h[:])
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	if b.err == nil {
		b.buf = append(b.buf, data...)
	}
	return b
}

// WriteCount8 writes a one byte element count for field, failing with
// ErrCountOverflow when n does not fit.
func (b *PacketBuilder) WriteCount8(field string, n int) *PacketBuilder {
	if n > MaxCount8 {
		return b.Fail(countOverflow(field, n, MaxCount8))
	}
	return b.WriteUint8(uint8(n))
}

// WriteCount16 writes a two byte element count for field, failing with
// ErrCountOverflow when n does not fit.
func (b *PacketBuilder) WriteCount16(field string, n int) *PacketBuilder {
	if n > MaxCount16 {
		return b.Fail(countOverflow(field, n, MaxCount16))
	}
	return b.WriteUint16(uint16(n))
}

// Build returns the accumulated bytes or the first encode error.
func (b *PacketBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// Len returns the current size of the buffer.
func (b *PacketBuilder) Len() int {
	return len(b.buf)
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(b.buf), b.buf)
}
