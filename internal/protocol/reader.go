package protocol

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Reader consumes primitives from a single input buffer. The first failure is
// sticky: every later read returns a zero value and leaves the offset alone,
// so a decoder can read a whole structure and check Err once.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Rest returns the unconsumed part of the buffer.
func (r *Reader) Rest() []byte { return r.buf[r.off:] }

// Fail records err for field at the current offset unless an error is
// already pending.
func (r *Reader) Fail(field string, err error) {
	if r.err == nil {
		r.err = &DecodeError{Field: field, Offset: r.off, Err: err}
	}
}

func (r *Reader) take(field string, n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > r.Remaining() {
		r.Fail(field, ErrTruncated)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Uint8 reads one byte.
func (r *Reader) Uint8(field string) uint8 {
	b := r.take(field, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16(field string) uint16 {
	b := r.take(field, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32(field string) uint32 {
	b := r.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64(field string) uint64 {
	b := r.take(field, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Bool reads a one byte flag. Any nonzero byte is true.
func (r *Reader) Bool(field string) bool {
	return r.Uint8(field) != 0
}

// String reads bytes up to and including a NUL terminator and returns them
// without the terminator.
func (r *Reader) String(field string) string {
	if r.err != nil {
		return ""
	}
	n := bytes.IndexByte(r.buf[r.off:], 0)
	if n < 0 {
		r.Fail(field, ErrUnterminatedString)
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n + 1
	return s
}

// Timestamp reads a uint32 count of seconds since the Unix epoch.
func (r *Reader) Timestamp(field string) time.Time {
	v := r.Uint32(field)
	if r.err != nil {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

// Hash reads a 16 byte NewGRF MD5 checksum.
func (r *Reader) Hash(field string) GRFHash {
	var h GRFHash
	if b := r.take(field, len(h)); b != nil {
		copy(h[:], b)
	}
	return h
}

// Bytes reads exactly n raw bytes. The returned slice aliases the input.
func (r *Reader) Bytes(field string, n int) []byte {
	return r.take(field, n)
}
