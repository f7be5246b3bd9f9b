package protocol

// Payload is implemented by every value that has a wire encoding.
type Payload interface {
	EncodeTo(b *PacketBuilder)
}

// decodable is satisfied by *T when T can decode itself from a Reader.
type decodable[T any] interface {
	*T
	DecodeFrom(r *Reader) error
}

// Decode decodes a T from the front of data and returns the bytes that were
// not consumed. On failure the zero T is returned.
//
//	list, rest, err := protocol.Decode[protocol.MasterResponseList](data)
func Decode[T any, PT decodable[T]](data []byte) (T, []byte, error) {
	var v T
	r := NewReader(data)
	if err := PT(&v).DecodeFrom(r); err != nil {
		var zero T
		return zero, nil, err
	}
	return v, r.Rest(), nil
}

// Encode returns the wire bytes of p.
func Encode(p Payload) ([]byte, error) {
	return Append(nil, p)
}

// Append appends the wire bytes of p to dst.
func Append(dst []byte, p Payload) ([]byte, error) {
	if p == nil {
		return nil, &EncodeError{Field: "payload", Err: ErrNilPayload}
	}
	b := NewPacketBuilder(dst)
	p.EncodeTo(b)
	return b.Build()
}
