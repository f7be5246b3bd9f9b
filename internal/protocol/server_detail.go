package protocol

import "fmt"

// VehicleType indexes the per-company vehicle and station counters.
type VehicleType uint8

const (
	VehicleTrain VehicleType = iota
	VehicleLorry
	VehicleBus
	VehiclePlane
	VehicleShip

	VehicleTypeCount
)

var vehicleTypeNames = [...]string{"train", "lorry", "bus", "plane", "ship"}

func (t VehicleType) String() string {
	if t >= VehicleTypeCount {
		return fmt.Sprintf("VehicleType(%d)", uint8(t))
	}
	return vehicleTypeNames[t]
}

// companyInfoMinSize is the encoded size of a CompanyInfo with an empty name.
const companyInfoMinSize = 1 + 1 + 4 + 3*8 + 2 + 1 + 2*2*int(VehicleTypeCount) + 1

// CompanyInfo describes one company in a SERVER_DETAIL_INFO reply.
type CompanyInfo struct {
	Index           uint8
	Name            string
	InauguratedYear uint32
	CompanyValue    uint64
	Money           uint64
	Income          uint64
	Performance     uint16
	HasPassword     bool
	Vehicles        [VehicleTypeCount]uint16
	Stations        [VehicleTypeCount]uint16
	IsAI            bool
}

func (c CompanyInfo) EncodeTo(b *PacketBuilder) {
	b.WriteUint8(c.Index).
		WriteString(c.Name).
		WriteUint32(c.InauguratedYear).
		WriteUint64(c.CompanyValue).
		WriteUint64(c.Money).
		WriteUint64(c.Income).
		WriteUint16(c.Performance).
		WriteBool(c.HasPassword)
	for _, n := range c.Vehicles {
		b.WriteUint16(n)
	}
	for _, n := range c.Stations {
		b.WriteUint16(n)
	}
	b.WriteBool(c.IsAI)
}

func (c *CompanyInfo) DecodeFrom(r *Reader) error {
	var v CompanyInfo
	v.Index = r.Uint8("company index")
	v.Name = r.String("company name")
	v.InauguratedYear = r.Uint32("inaugurated year")
	v.CompanyValue = r.Uint64("company value")
	v.Money = r.Uint64("money")
	v.Income = r.Uint64("income")
	v.Performance = r.Uint16("performance")
	v.HasPassword = r.Bool("has password")
	for i := range v.Vehicles {
		v.Vehicles[i] = r.Uint16("vehicle count")
	}
	for i := range v.Stations {
		v.Stations[i] = r.Uint16("station count")
	}
	v.IsAI = r.Bool("is ai")
	if err := r.Err(); err != nil {
		return err
	}
	*c = v
	return nil
}

// CompanyInfoVersion is the detail version current game servers send.
const CompanyInfoVersion = 6

// ServerDetailInfo is the reply to CLIENT_DETAIL_INFO: the companies of the
// running game in wire order.
//
//	[version:1][count:1]{company}*
type ServerDetailInfo struct {
	Version   uint8
	Companies []CompanyInfo
}

func (ServerDetailInfo) UDPType() UDPPacketType { return PacketUDPServerDetailInfo }
func (ServerDetailInfo) udpPayload()            {}

func (m ServerDetailInfo) EncodeTo(b *PacketBuilder) {
	b.WriteUint8(m.Version).WriteCount8("companies", len(m.Companies))
	for _, c := range m.Companies {
		c.EncodeTo(b)
	}
}

func (m *ServerDetailInfo) DecodeFrom(r *Reader) error {
	var v ServerDetailInfo
	v.Version = r.Uint8("detail version")
	n := int(r.Uint8("company count"))
	if err := r.Err(); err != nil {
		return err
	}
	v.Companies = make([]CompanyInfo, 0, sizeHint(r, n, companyInfoMinSize))
	for i := 0; i < n; i++ {
		var c CompanyInfo
		if err := c.DecodeFrom(r); err != nil {
			return err
		}
		v.Companies = append(v.Companies, c)
	}
	*m = v
	return nil
}
