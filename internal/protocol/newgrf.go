package protocol

import (
	"encoding/hex"
	"fmt"
)

// GRFHash is the MD5 checksum identifying the exact content of a NewGRF.
type GRFHash [16]byte

func (h GRFHash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText renders the hash as 32 hex characters.
func (h GRFHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText parses the form produced by MarshalText.
func (h *GRFHash) UnmarshalText(text []byte) error {
	v, err := ParseGRFHash(string(text))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// ParseGRFHash parses the 32 character hex form produced by String.
func ParseGRFHash(s string) (GRFHash, error) {
	var h GRFHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid grf hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid grf hash %q: want %d bytes, got %d", s, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// NewGRFSerializationType selects how the active NewGRF set of a server
// response is laid out. The layout is not self-describing; the caller must
// know which one a given context uses.
type NewGRFSerializationType uint8

const (
	NewGRFOnlyID NewGRFSerializationType = iota // GRF ID and MD5 checksum
	NewGRFFull                                  // GRF ID, MD5 checksum and name
	NewGRFLookup                                // Index into a separately sent lookup table

	newGRFSerializationTypeEnd
)

// Valid reports whether t is a known serialization type.
func (t NewGRFSerializationType) Valid() bool { return t < newGRFSerializationTypeEnd }

func (t NewGRFSerializationType) String() string {
	switch t {
	case NewGRFOnlyID:
		return "only_id"
	case NewGRFFull:
		return "full"
	case NewGRFLookup:
		return "lookup"
	}
	return fmt.Sprintf("NewGRFSerializationType(%d)", uint8(t))
}

// NewGRFInfo is the checksum and display name of one NewGRF.
type NewGRFInfo struct {
	MD5  GRFHash
	Name string
}

// ActiveNewGRF is the set of NewGRFs a server runs with, in one of the three
// wire shapes: NewGRFIdentifiers, NewGRFDetails or NewGRFLookupIDs. At most
// 255 entries fit on the wire.
type ActiveNewGRF interface {
	Payload
	SerializationType() NewGRFSerializationType
	Len() int
	activeNewGRF()
}

// NewGRFIdentifiers maps GRF ID to MD5 checksum.
type NewGRFIdentifiers map[uint32]GRFHash

// NewGRFDetails maps GRF ID to checksum and name.
type NewGRFDetails map[uint32]NewGRFInfo

// NewGRFLookupIDs is a set of GRF IDs whose metadata was sent separately.
type NewGRFLookupIDs map[uint32]struct{}

func (NewGRFIdentifiers) SerializationType() NewGRFSerializationType { return NewGRFOnlyID }
func (NewGRFDetails) SerializationType() NewGRFSerializationType     { return NewGRFFull }
func (NewGRFLookupIDs) SerializationType() NewGRFSerializationType   { return NewGRFLookup }

func (m NewGRFIdentifiers) Len() int { return len(m) }
func (m NewGRFDetails) Len() int     { return len(m) }
func (s NewGRFLookupIDs) Len() int   { return len(s) }

func (NewGRFIdentifiers) activeNewGRF() {}
func (NewGRFDetails) activeNewGRF()     {}
func (NewGRFLookupIDs) activeNewGRF()   {}

// EncodeTo writes a one byte count followed by (id, md5) pairs in ascending id order.
func (m NewGRFIdentifiers) EncodeTo(b *PacketBuilder) {
	b.WriteCount8("newgrf identifiers", len(m))
	for _, id := range sortedKeys(m) {
		b.WriteUint32(id).WriteHash(m[id])
	}
}

// DecodeFrom reads a one byte count followed by (id, md5) pairs.
func (m *NewGRFIdentifiers) DecodeFrom(r *Reader) error {
	n := int(r.Uint8("newgrf count"))
	out := make(NewGRFIdentifiers, sizeHint(r, n, 4+len(GRFHash{})))
	for i := 0; i < n && r.Err() == nil; i++ {
		id := r.Uint32("newgrf id")
		out[id] = r.Hash("newgrf md5")
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = out
	return nil
}

// EncodeTo writes a one byte count followed by (id, md5, name) triples in
// ascending id order.
func (m NewGRFDetails) EncodeTo(b *PacketBuilder) {
	b.WriteCount8("newgrf details", len(m))
	for _, id := range sortedKeys(m) {
		info := m[id]
		b.WriteUint32(id).WriteHash(info.MD5).WriteString(info.Name)
	}
}

// DecodeFrom reads a one byte count followed by (id, md5, name) triples.
func (m *NewGRFDetails) DecodeFrom(r *Reader) error {
	n := int(r.Uint8("newgrf count"))
	out := make(NewGRFDetails, sizeHint(r, n, 4+len(GRFHash{})+1))
	for i := 0; i < n && r.Err() == nil; i++ {
		id := r.Uint32("newgrf id")
		md5 := r.Hash("newgrf md5")
		name := r.String("newgrf name")
		out[id] = NewGRFInfo{MD5: md5, Name: name}
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = out
	return nil
}

// EncodeTo writes a one byte count followed by the ids in ascending order.
func (s NewGRFLookupIDs) EncodeTo(b *PacketBuilder) {
	b.WriteCount8("newgrf lookup ids", len(s))
	for _, id := range sortedKeys(s) {
		b.WriteUint32(id)
	}
}

// DecodeFrom reads a one byte count followed by the ids.
func (s *NewGRFLookupIDs) DecodeFrom(r *Reader) error {
	n := int(r.Uint8("newgrf count"))
	out := make(NewGRFLookupIDs, sizeHint(r, n, 4))
	for i := 0; i < n && r.Err() == nil; i++ {
		out[r.Uint32("newgrf lookup id")] = struct{}{}
	}
	if err := r.Err(); err != nil {
		return err
	}
	*s = out
	return nil
}

// DecodeActiveNewGRF reads an active NewGRF set in the shape selected by kind.
func DecodeActiveNewGRF(r *Reader, kind NewGRFSerializationType) (ActiveNewGRF, error) {
	switch kind {
	case NewGRFOnlyID:
		var m NewGRFIdentifiers
		if err := m.DecodeFrom(r); err != nil {
			return nil, err
		}
		return m, nil
	case NewGRFFull:
		var m NewGRFDetails
		if err := m.DecodeFrom(r); err != nil {
			return nil, err
		}
		return m, nil
	case NewGRFLookup:
		var s NewGRFLookupIDs
		if err := s.DecodeFrom(r); err != nil {
			return nil, err
		}
		return s, nil
	}
	r.Fail("newgrf serialization type", fmt.Errorf("%w: %d", ErrUnknownVariant, uint8(kind)))
	return nil, r.Err()
}

// ParseActiveNewGRF decodes an active NewGRF set from the front of data and
// returns the unconsumed remainder.
func ParseActiveNewGRF(data []byte, kind NewGRFSerializationType) (ActiveNewGRF, []byte, error) {
	r := NewReader(data)
	grfs, err := DecodeActiveNewGRF(r, kind)
	if err != nil {
		return nil, nil, err
	}
	return grfs, r.Rest(), nil
}
