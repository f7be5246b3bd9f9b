package protocol

// UDPPayload is the body of a UDP discovery packet. The packet type byte is
// derived from the concrete type, so a payload can only be framed under its
// own tag.
type UDPPayload interface {
	Payload
	UDPType() UDPPacketType
	udpPayload()
}

// ClientFindServer asks a game server for its ServerResponse. It has no body.
type ClientFindServer struct{}

func (ClientFindServer) UDPType() UDPPacketType    { return PacketUDPClientFindServer }
func (ClientFindServer) udpPayload()               {}
func (ClientFindServer) EncodeTo(*PacketBuilder)   {}
func (*ClientFindServer) DecodeFrom(*Reader) error { return nil }

// ClientDetailInfo asks a game server for its ServerDetailInfo. It has no body.
type ClientDetailInfo struct{}

func (ClientDetailInfo) UDPType() UDPPacketType    { return PacketUDPClientDetailInfo }
func (ClientDetailInfo) udpPayload()               {}
func (ClientDetailInfo) EncodeTo(*PacketBuilder)   {}
func (*ClientDetailInfo) DecodeFrom(*Reader) error { return nil }

// ClientGetNewGRFs asks a game server for the names of the listed NewGRFs.
type ClientGetNewGRFs struct {
	NewGRFs NewGRFIdentifiers
}

func (ClientGetNewGRFs) UDPType() UDPPacketType { return PacketUDPClientGetNewGRFs }
func (ClientGetNewGRFs) udpPayload()            {}

func (m ClientGetNewGRFs) EncodeTo(b *PacketBuilder) { m.NewGRFs.EncodeTo(b) }

func (m *ClientGetNewGRFs) DecodeFrom(r *Reader) error { return m.NewGRFs.DecodeFrom(r) }

// ServerNewGRFs answers ClientGetNewGRFs with checksums and names.
type ServerNewGRFs struct {
	NewGRFs NewGRFDetails
}

func (ServerNewGRFs) UDPType() UDPPacketType { return PacketUDPServerNewGRFs }
func (ServerNewGRFs) udpPayload()            {}

func (m ServerNewGRFs) EncodeTo(b *PacketBuilder) { m.NewGRFs.EncodeTo(b) }

func (m *ServerNewGRFs) DecodeFrom(r *Reader) error { return m.NewGRFs.DecodeFrom(r) }

var udpDecoders = [udpPacketTypeEnd]func(Packet) (UDPPayload, error){
	PacketUDPClientFindServer:   decodeUDP[ClientFindServer],
	PacketUDPServerResponse:     decodeUDP[ServerResponse],
	PacketUDPClientDetailInfo:   decodeUDP[ClientDetailInfo],
	PacketUDPServerDetailInfo:   decodeUDP[ServerDetailInfo],
	PacketUDPServerRegister:     decodeUDP[ServerRegister],
	PacketUDPMasterAckRegister:  decodeUDP[MasterAckRegister],
	PacketUDPClientGetList:      decodeUDP[ClientGetList],
	PacketUDPMasterResponseList: decodeUDP[MasterResponseList],
	PacketUDPServerUnregister:   decodeUDP[ServerUnregister],
	PacketUDPClientGetNewGRFs:   decodeUDP[ClientGetNewGRFs],
	PacketUDPServerNewGRFs:      decodeUDP[ServerNewGRFs],
	PacketUDPMasterSessionKey:   decodeUDP[MasterSessionKey],
}

func decodeUDP[T UDPPayload, PT decodable[T]](p Packet) (UDPPayload, error) {
	var v T
	if err := decodeFramed(p, PT(&v).DecodeFrom); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeUDPPacket decodes one framed UDP packet from the front of data and
// returns the bytes after it. The payload is returned as a value type such as
// ServerResponse, never a pointer.
func DecodeUDPPacket(data []byte) (UDPPayload, []byte, error) {
	pkt, rest, err := SplitPacket(data)
	if err != nil {
		return nil, nil, err
	}
	t := UDPPacketType(pkt.Type)
	if !t.Valid() {
		return nil, nil, unknownVariant("udp packet type", 2, pkt.Type)
	}
	p, err := udpDecoders[t](pkt)
	if err != nil {
		return nil, nil, err
	}
	return p, rest, nil
}

// EncodeUDPPacket returns the framed wire bytes of p.
func EncodeUDPPacket(p UDPPayload) ([]byte, error) {
	return AppendUDPPacket(nil, p)
}

// AppendUDPPacket appends the framed wire bytes of p to dst.
func AppendUDPPacket(dst []byte, p UDPPayload) ([]byte, error) {
	if p == nil {
		return nil, &EncodeError{Field: "udp packet", Err: ErrNilPayload}
	}
	return appendFrame(dst, uint8(p.UDPType()), p)
}
