package protocol

// CoordinatorPayload is the body of a Game Coordinator packet. Only
// ClientListing, GCListing and GCNewGRFLookup carry data; every other kind
// is an empty struct whose layout has not been defined yet.
type CoordinatorPayload interface {
	Payload
	CoordinatorType() CoordinatorPacketType
	coordinatorPayload()
}

// ClientListing requests the public server listing.
//
//	[revision:str][newgrf_lookup_cursor:4]
type ClientListing struct {
	Revision           string
	NewGRFLookupCursor uint32
}

func (m ClientListing) EncodeTo(b *PacketBuilder) {
	b.WriteString(m.Revision).WriteUint32(m.NewGRFLookupCursor)
}

func (m *ClientListing) DecodeFrom(r *Reader) error {
	v := ClientListing{
		Revision:           r.String("revision"),
		NewGRFLookupCursor: r.Uint32("newgrf lookup cursor"),
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = v
	return nil
}

// ListedServer is one entry of a GCListing.
type ListedServer struct {
	Address string
	Info    ServerResponse
}

// GCListing is the coordinator's list of public servers, in wire order.
//
//	[count:2]{address:str, server_response}*
type GCListing struct {
	Servers []ListedServer
}

func (m GCListing) EncodeTo(b *PacketBuilder) {
	b.WriteCount16("listed servers", len(m.Servers))
	for _, s := range m.Servers {
		b.WriteString(s.Address)
		s.Info.EncodeTo(b)
	}
}

func (m *GCListing) DecodeFrom(r *Reader) error {
	n := int(r.Uint16("server count"))
	if err := r.Err(); err != nil {
		return err
	}
	servers := make([]ListedServer, 0, sizeHint(r, n, 1+serverResponseMinSize))
	for i := 0; i < n; i++ {
		var s ListedServer
		s.Address = r.String("server address")
		if err := r.Err(); err != nil {
			return err
		}
		if err := s.Info.DecodeFrom(r); err != nil {
			return err
		}
		servers = append(servers, s)
	}
	m.Servers = servers
	return nil
}

// NewGRFLookupEntry is the metadata behind one lookup table index.
type NewGRFLookupEntry struct {
	GRFID uint32
	MD5   GRFHash
	Name  string
}

// GCNewGRFLookup updates the client's NewGRF lookup table, keyed by index.
//
//	[cursor:4][count:2]{index:4, grfid:4, md5:16, name:str}*
type GCNewGRFLookup struct {
	Cursor  uint32
	NewGRFs map[uint32]NewGRFLookupEntry
}

func (m GCNewGRFLookup) EncodeTo(b *PacketBuilder) {
	b.WriteUint32(m.Cursor).WriteCount16("newgrf lookup", len(m.NewGRFs))
	for _, index := range sortedKeys(m.NewGRFs) {
		e := m.NewGRFs[index]
		b.WriteUint32(index).WriteUint32(e.GRFID).WriteHash(e.MD5).WriteString(e.Name)
	}
}

func (m *GCNewGRFLookup) DecodeFrom(r *Reader) error {
	cursor := r.Uint32("newgrf lookup cursor")
	n := int(r.Uint16("newgrf lookup count"))
	out := make(map[uint32]NewGRFLookupEntry, sizeHint(r, n, 4+4+len(GRFHash{})+1))
	for i := 0; i < n && r.Err() == nil; i++ {
		index := r.Uint32("newgrf lookup index")
		var e NewGRFLookupEntry
		e.GRFID = r.Uint32("newgrf id")
		e.MD5 = r.Hash("newgrf md5")
		e.Name = r.String("newgrf name")
		out[index] = e
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = GCNewGRFLookup{Cursor: cursor, NewGRFs: out}
	return nil
}

// Coordinator packets without a defined body.
type (
	GCError             struct{}
	CoordServerRegister struct{}
	GCRegisterAck       struct{}
	ServerUpdate        struct{}
	ClientConnect       struct{}
	GCConnecting        struct{}
	SerCliConnectFailed struct{}
	GCConnectFailed     struct{}
	ClientConnected     struct{}
	GCDirectConnect     struct{}
	GCStunRequest       struct{}
	SerCliStunResult    struct{}
	GCStunConnect       struct{}
	GCTurnConnect       struct{}
)

func (GCError) EncodeTo(*PacketBuilder)             {}
func (CoordServerRegister) EncodeTo(*PacketBuilder) {}
func (GCRegisterAck) EncodeTo(*PacketBuilder)       {}
func (ServerUpdate) EncodeTo(*PacketBuilder)        {}
func (ClientConnect) EncodeTo(*PacketBuilder)       {}
func (GCConnecting) EncodeTo(*PacketBuilder)        {}
func (SerCliConnectFailed) EncodeTo(*PacketBuilder) {}
func (GCConnectFailed) EncodeTo(*PacketBuilder)     {}
func (ClientConnected) EncodeTo(*PacketBuilder)     {}
func (GCDirectConnect) EncodeTo(*PacketBuilder)     {}
func (GCStunRequest) EncodeTo(*PacketBuilder)       {}
func (SerCliStunResult) EncodeTo(*PacketBuilder)    {}
func (GCStunConnect) EncodeTo(*PacketBuilder)       {}
func (GCTurnConnect) EncodeTo(*PacketBuilder)       {}

func (*GCError) DecodeFrom(*Reader) error             { return nil }
func (*CoordServerRegister) DecodeFrom(*Reader) error { return nil }
func (*GCRegisterAck) DecodeFrom(*Reader) error       { return nil }
func (*ServerUpdate) DecodeFrom(*Reader) error        { return nil }
func (*ClientConnect) DecodeFrom(*Reader) error       { return nil }
func (*GCConnecting) DecodeFrom(*Reader) error        { return nil }
func (*SerCliConnectFailed) DecodeFrom(*Reader) error { return nil }
func (*GCConnectFailed) DecodeFrom(*Reader) error     { return nil }
func (*ClientConnected) DecodeFrom(*Reader) error     { return nil }
func (*GCDirectConnect) DecodeFrom(*Reader) error     { return nil }
func (*GCStunRequest) DecodeFrom(*Reader) error       { return nil }
func (*SerCliStunResult) DecodeFrom(*Reader) error    { return nil }
func (*GCStunConnect) DecodeFrom(*Reader) error       { return nil }
func (*GCTurnConnect) DecodeFrom(*Reader) error       { return nil }

func (GCError) CoordinatorType() CoordinatorPacketType             { return PacketGCError }
func (CoordServerRegister) CoordinatorType() CoordinatorPacketType { return PacketServerRegister }
func (GCRegisterAck) CoordinatorType() CoordinatorPacketType       { return PacketGCRegisterAck }
func (ServerUpdate) CoordinatorType() CoordinatorPacketType        { return PacketServerUpdate }
func (ClientListing) CoordinatorType() CoordinatorPacketType       { return PacketClientListing }
func (GCListing) CoordinatorType() CoordinatorPacketType           { return PacketGCListing }
func (ClientConnect) CoordinatorType() CoordinatorPacketType       { return PacketClientConnect }
func (GCConnecting) CoordinatorType() CoordinatorPacketType        { return PacketGCConnecting }
func (SerCliConnectFailed) CoordinatorType() CoordinatorPacketType { return PacketSerCliConnectFailed }
func (GCConnectFailed) CoordinatorType() CoordinatorPacketType     { return PacketGCConnectFailed }
func (ClientConnected) CoordinatorType() CoordinatorPacketType     { return PacketClientConnected }
func (GCDirectConnect) CoordinatorType() CoordinatorPacketType     { return PacketGCDirectConnect }
func (GCStunRequest) CoordinatorType() CoordinatorPacketType       { return PacketGCStunRequest }
func (SerCliStunResult) CoordinatorType() CoordinatorPacketType    { return PacketSerCliStunResult }
func (GCStunConnect) CoordinatorType() CoordinatorPacketType       { return PacketGCStunConnect }
func (GCNewGRFLookup) CoordinatorType() CoordinatorPacketType      { return PacketGCNewGRFLookup }
func (GCTurnConnect) CoordinatorType() CoordinatorPacketType       { return PacketGCTurnConnect }

func (GCError) coordinatorPayload()             {}
func (CoordServerRegister) coordinatorPayload() {}
func (GCRegisterAck) coordinatorPayload()       {}
func (ServerUpdate) coordinatorPayload()        {}
func (ClientListing) coordinatorPayload()       {}
func (GCListing) coordinatorPayload()           {}
func (ClientConnect) coordinatorPayload()       {}
func (GCConnecting) coordinatorPayload()        {}
func (SerCliConnectFailed) coordinatorPayload() {}
func (GCConnectFailed) coordinatorPayload()     {}
func (ClientConnected) coordinatorPayload()     {}
func (GCDirectConnect) coordinatorPayload()     {}
func (GCStunRequest) coordinatorPayload()       {}
func (SerCliStunResult) coordinatorPayload()    {}
func (GCStunConnect) coordinatorPayload()       {}
func (GCNewGRFLookup) coordinatorPayload()      {}
func (GCTurnConnect) coordinatorPayload()       {}

var coordinatorDecoders = [coordinatorPacketTypeEnd]func(Packet) (CoordinatorPayload, error){
	PacketGCError:             decodeCoordinator[GCError],
	PacketServerRegister:      decodeCoordinator[CoordServerRegister],
	PacketGCRegisterAck:       decodeCoordinator[GCRegisterAck],
	PacketServerUpdate:        decodeCoordinator[ServerUpdate],
	PacketClientListing:       decodeCoordinator[ClientListing],
	PacketGCListing:           decodeCoordinator[GCListing],
	PacketClientConnect:       decodeCoordinator[ClientConnect],
	PacketGCConnecting:        decodeCoordinator[GCConnecting],
	PacketSerCliConnectFailed: decodeCoordinator[SerCliConnectFailed],
	PacketGCConnectFailed:     decodeCoordinator[GCConnectFailed],
	PacketClientConnected:     decodeCoordinator[ClientConnected],
	PacketGCDirectConnect:     decodeCoordinator[GCDirectConnect],
	PacketGCStunRequest:       decodeCoordinator[GCStunRequest],
	PacketSerCliStunResult:    decodeCoordinator[SerCliStunResult],
	PacketGCStunConnect:       decodeCoordinator[GCStunConnect],
	PacketGCNewGRFLookup:      decodeCoordinator[GCNewGRFLookup],
	PacketGCTurnConnect:       decodeCoordinator[GCTurnConnect],
}

func decodeCoordinator[T CoordinatorPayload, PT decodable[T]](p Packet) (CoordinatorPayload, error) {
	var v T
	if err := decodeFramed(p, PT(&v).DecodeFrom); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeCoordinatorPacket decodes one framed coordinator packet from the
// front of data and returns the bytes after it. Framing is the same as for
// UDP packets. A placeholder kind followed by payload bytes is rejected with
// ErrTrailingData since its layout is unknown.
func DecodeCoordinatorPacket(data []byte) (CoordinatorPayload, []byte, error) {
	pkt, rest, err := SplitPacket(data)
	if err != nil {
		return nil, nil, err
	}
	t := CoordinatorPacketType(pkt.Type)
	if !t.Valid() {
		return nil, nil, unknownVariant("coordinator packet type", 2, pkt.Type)
	}
	p, err := coordinatorDecoders[t](pkt)
	if err != nil {
		return nil, nil, err
	}
	return p, rest, nil
}

// EncodeCoordinatorPacket returns the framed wire bytes of p.
func EncodeCoordinatorPacket(p CoordinatorPayload) ([]byte, error) {
	return AppendCoordinatorPacket(nil, p)
}

// AppendCoordinatorPacket appends the framed wire bytes of p to dst.
func AppendCoordinatorPacket(dst []byte, p CoordinatorPayload) ([]byte, error) {
	if p == nil {
		return nil, &EncodeError{Field: "coordinator packet", Err: ErrNilPayload}
	}
	return appendFrame(dst, uint8(p.CoordinatorType()), p)
}
