package protocol

// ServerRegister announces a game server to the master server.
//
//	[welcome_message:str][version:1][port:2][session_key:8]
type ServerRegister struct {
	WelcomeMessage string
	Version        uint8
	Port           uint16
	SessionKey     uint64
}

func (ServerRegister) UDPType() UDPPacketType { return PacketUDPServerRegister }
func (ServerRegister) udpPayload()            {}

func (m ServerRegister) EncodeTo(b *PacketBuilder) {
	b.WriteString(m.WelcomeMessage).
		WriteUint8(m.Version).
		WriteUint16(m.Port).
		WriteUint64(m.SessionKey)
}

func (m *ServerRegister) DecodeFrom(r *Reader) error {
	v := ServerRegister{
		WelcomeMessage: r.String("welcome message"),
		Version:        r.Uint8("master server version"),
		Port:           r.Uint16("port"),
		SessionKey:     r.Uint64("session key"),
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = v
	return nil
}

// ServerUnregister removes a game server from the master server list.
//
//	[version:1][port:2]
type ServerUnregister struct {
	Version uint8
	Port    uint16
}

func (ServerUnregister) UDPType() UDPPacketType { return PacketUDPServerUnregister }
func (ServerUnregister) udpPayload()            {}

func (m ServerUnregister) EncodeTo(b *PacketBuilder) {
	b.WriteUint8(m.Version).WriteUint16(m.Port)
}

func (m *ServerUnregister) DecodeFrom(r *Reader) error {
	v := ServerUnregister{
		Version: r.Uint8("master server version"),
		Port:    r.Uint16("port"),
	}
	if err := r.Err(); err != nil {
		return err
	}
	*m = v
	return nil
}

// MasterAckRegister confirms a registration. It has no body.
type MasterAckRegister struct{}

func (MasterAckRegister) UDPType() UDPPacketType    { return PacketUDPMasterAckRegister }
func (MasterAckRegister) udpPayload()               {}
func (MasterAckRegister) EncodeTo(*PacketBuilder)   {}
func (*MasterAckRegister) DecodeFrom(*Reader) error { return nil }

// MasterSessionKey hands a fresh session key to a registering server.
//
//	[session_key:8]
type MasterSessionKey struct {
	SessionKey uint64
}

func (MasterSessionKey) UDPType() UDPPacketType { return PacketUDPMasterSessionKey }
func (MasterSessionKey) udpPayload()            {}

func (m MasterSessionKey) EncodeTo(b *PacketBuilder) { b.WriteUint64(m.SessionKey) }

func (m *MasterSessionKey) DecodeFrom(r *Reader) error {
	key := r.Uint64("session key")
	if err := r.Err(); err != nil {
		return err
	}
	m.SessionKey = key
	return nil
}
