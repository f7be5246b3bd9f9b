package protocol

import "time"

// ServerResponse is the full game information of a server. It is the body of
// the UDP SERVER_RESPONSE packet and is embedded in every GC_LISTING entry.
//
// Wire layout (version 6):
//
//	[version:1][newgrf_type:1][gs_version:4][gs_name:str][newgrfs]
//	[game_date:4][start_date:4][max_companies:1][companies_on:1][max_spectators:1]
//	[server_name:str][server_revision:str][server_lang:1][use_password:1]
//	[clients_max:1][clients_on:1][spectators_on:1][map_name:str]
//	[map_width:2][map_height:2][map_set:1][dedicated:1]
type ServerResponse struct {
	GameScriptVersion uint32
	GameScriptName    string
	ActiveNewGRF      ActiveNewGRF
	GameDate          time.Time
	StartDate         time.Time
	MaxCompanies      uint8
	CurrentCompanies  uint8
	MaxSpectators     uint8
	ServerName        string
	ServerRevision    string
	ServerLang        uint8
	UsePassword       bool
	ClientsMax        uint8
	ClientsOn         uint8
	SpectatorsOn      uint8
	MapName           string
	MapWidth          uint16
	MapHeight         uint16
	MapSet            uint8
	Dedicated         bool
}

// serverResponseMinSize is the encoded size of a ServerResponse with empty
// strings and no NewGRFs.
const serverResponseMinSize = 33

func (ServerResponse) UDPType() UDPPacketType { return PacketUDPServerResponse }
func (ServerResponse) udpPayload()            {}

func (m ServerResponse) EncodeTo(b *PacketBuilder) {
	if m.ActiveNewGRF == nil {
		b.Fail(&EncodeError{Field: "active newgrf", Err: ErrNilPayload})
		return
	}

	b.WriteUint8(uint8(ProtocolV6))
	b.WriteUint8(uint8(m.ActiveNewGRF.SerializationType()))
	b.WriteUint32(m.GameScriptVersion)
	b.WriteString(m.GameScriptName)
	m.ActiveNewGRF.EncodeTo(b)

	b.WriteTimestamp(m.GameDate)
	b.WriteTimestamp(m.StartDate)

	b.WriteUint8(m.MaxCompanies)
	b.WriteUint8(m.CurrentCompanies)
	b.WriteUint8(m.MaxSpectators)

	b.WriteString(m.ServerName)
	b.WriteString(m.ServerRevision)
	b.WriteUint8(m.ServerLang)
	b.WriteBool(m.UsePassword)
	b.WriteUint8(m.ClientsMax)
	b.WriteUint8(m.ClientsOn)
	b.WriteUint8(m.SpectatorsOn)

	b.WriteString(m.MapName)
	b.WriteUint16(m.MapWidth)
	b.WriteUint16(m.MapHeight)
	b.WriteUint8(m.MapSet)
	b.WriteBool(m.Dedicated)
}

func (m *ServerResponse) DecodeFrom(r *Reader) error {
	versionOffset := r.Offset()
	version := ProtocolVersion(r.Uint8("protocol version"))
	if r.Err() == nil && !version.Valid() {
		return unknownVariant("protocol version", versionOffset, uint8(version))
	}

	kindOffset := r.Offset()
	kind := NewGRFSerializationType(r.Uint8("newgrf serialization type"))
	if r.Err() == nil && !kind.Valid() {
		return unknownVariant("newgrf serialization type", kindOffset, uint8(kind))
	}

	var v ServerResponse
	v.GameScriptVersion = r.Uint32("gamescript version")
	v.GameScriptName = r.String("gamescript name")
	if err := r.Err(); err != nil {
		return err
	}

	grfs, err := DecodeActiveNewGRF(r, kind)
	if err != nil {
		return err
	}
	v.ActiveNewGRF = grfs

	v.GameDate = r.Timestamp("game date")
	v.StartDate = r.Timestamp("start date")

	v.MaxCompanies = r.Uint8("max companies")
	v.CurrentCompanies = r.Uint8("current companies")
	v.MaxSpectators = r.Uint8("max spectators")

	v.ServerName = r.String("server name")
	v.ServerRevision = r.String("server revision")
	v.ServerLang = r.Uint8("server language")
	v.UsePassword = r.Bool("use password")
	v.ClientsMax = r.Uint8("clients max")
	v.ClientsOn = r.Uint8("clients on")
	v.SpectatorsOn = r.Uint8("spectators on")

	v.MapName = r.String("map name")
	v.MapWidth = r.Uint16("map width")
	v.MapHeight = r.Uint16("map height")
	v.MapSet = r.Uint8("map set")
	v.Dedicated = r.Bool("dedicated")

	if err := r.Err(); err != nil {
		return err
	}
	*m = v
	return nil
}
