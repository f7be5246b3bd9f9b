package protocol

import "fmt"

// ServerListRequestType is the address family a client asks the master
// server for. Unlike ServerListType it starts at 0.
type ServerListRequestType uint8

const (
	RequestIPv4 ServerListRequestType = iota
	RequestIPv6
	RequestAutodetect

	serverListRequestTypeEnd
)

func (t ServerListRequestType) Valid() bool { return t < serverListRequestTypeEnd }

func (t ServerListRequestType) String() string {
	switch t {
	case RequestIPv4:
		return "ipv4"
	case RequestIPv6:
		return "ipv6"
	case RequestAutodetect:
		return "autodetect"
	}
	return fmt.Sprintf("ServerListRequestType(%d)", uint8(t))
}

// ParseServerListRequestType is the inverse of ServerListRequestType.String.
func ParseServerListRequestType(s string) (ServerListRequestType, error) {
	for t := RequestIPv4; t < serverListRequestTypeEnd; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown server list request type %q", s)
}

// ClientGetList asks the master server for its list of game servers.
//
//	[master_server_version:1][request_type:1]
type ClientGetList struct {
	MasterServerVersion uint8
	RequestType         ServerListRequestType
}

func (ClientGetList) UDPType() UDPPacketType { return PacketUDPClientGetList }
func (ClientGetList) udpPayload()            {}

func (m ClientGetList) EncodeTo(b *PacketBuilder) {
	if !m.RequestType.Valid() {
		b.Fail(&EncodeError{Field: "request type", Err: fmt.Errorf("%w: %d", ErrUnknownVariant, uint8(m.RequestType))})
		return
	}
	b.WriteUint8(m.MasterServerVersion).WriteUint8(uint8(m.RequestType))
}

func (m *ClientGetList) DecodeFrom(r *Reader) error {
	version := r.Uint8("master server version")
	offset := r.Offset()
	kind := ServerListRequestType(r.Uint8("request type"))
	if err := r.Err(); err != nil {
		return err
	}
	if !kind.Valid() {
		return unknownVariant("request type", offset, uint8(kind))
	}
	*m = ClientGetList{MasterServerVersion: version, RequestType: kind}
	return nil
}
