package protocol

import (
	"fmt"
	"net/netip"
)

// ServerListType tags the address family of a master server list. It is a
// separate number space from the packet types and starts at 1.
type ServerListType uint8

const (
	ServerListIPv4 ServerListType = 1
	ServerListIPv6 ServerListType = 2
)

func (t ServerListType) Valid() bool { return t == ServerListIPv4 || t == ServerListIPv6 }

func (t ServerListType) String() string {
	switch t {
	case ServerListIPv4:
		return "ipv4"
	case ServerListIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("ServerListType(%d)", uint8(t))
}

// ServerList is a set of game server endpoints of a single address family:
// IPv4ServerList or IPv6ServerList.
type ServerList interface {
	Payload
	ListType() ServerListType
	Len() int
	Addrs() []netip.AddrPort
	serverList()
}

// IPv4ServerList is a set of IPv4 endpoints. IPv4-mapped IPv6 keys are
// treated as their IPv4 form.
type IPv4ServerList map[netip.AddrPort]struct{}

// IPv6ServerList is a set of IPv6 endpoints. Zones are not transmitted, so
// keys differing only in zone are one endpoint.
type IPv6ServerList map[netip.AddrPort]struct{}

func unmap(a netip.Addr) netip.Addr    { return a.Unmap() }
func dropZone(a netip.Addr) netip.Addr { return a.WithZone("") }

func (IPv4ServerList) ListType() ServerListType { return ServerListIPv4 }
func (IPv6ServerList) ListType() ServerListType { return ServerListIPv6 }

// Len returns the number of distinct endpoints on the wire.
func (s IPv4ServerList) Len() int { return len(s.Addrs()) }

// Len returns the number of distinct endpoints on the wire.
func (s IPv6ServerList) Len() int { return len(s.Addrs()) }

// Addrs returns the endpoints as they are encoded: unmapped, deduplicated
// and in wire order.
func (s IPv4ServerList) Addrs() []netip.AddrPort { return canonicalAddrs(s, unmap) }

// Addrs returns the endpoints as they are encoded: without zones,
// deduplicated and in wire order.
func (s IPv6ServerList) Addrs() []netip.AddrPort { return canonicalAddrs(s, dropZone) }

func (IPv4ServerList) serverList() {}
func (IPv6ServerList) serverList() {}

// EncodeTo writes a two byte count followed by (4 octets, port) entries.
func (s IPv4ServerList) EncodeTo(b *PacketBuilder) {
	addrs := s.Addrs()
	b.WriteCount16("ipv4 server list", len(addrs))
	for _, ap := range addrs {
		addr := ap.Addr()
		if !addr.Is4() {
			b.Fail(&EncodeError{Field: "ipv4 server list", Err: fmt.Errorf("%w: %s", ErrAddressFamily, ap)})
			return
		}
		a := addr.As4()
		b.WriteBytes(a[:]).WriteUint16(ap.Port())
	}
}

// DecodeFrom reads a two byte count followed by (4 octets, port) entries.
func (s *IPv4ServerList) DecodeFrom(r *Reader) error {
	n := int(r.Uint16("server count"))
	out := make(IPv4ServerList, sizeHint(r, n, 4+2))
	for i := 0; i < n && r.Err() == nil; i++ {
		var a [4]byte
		copy(a[:], r.Bytes("ipv4 address", len(a)))
		port := r.Uint16("port")
		out[netip.AddrPortFrom(netip.AddrFrom4(a), port)] = struct{}{}
	}
	if err := r.Err(); err != nil {
		return err
	}
	*s = out
	return nil
}

// EncodeTo writes a two byte count followed by (8 little-endian segments,
// port) entries. IPv4-mapped addresses are sent in their mapped form.
func (s IPv6ServerList) EncodeTo(b *PacketBuilder) {
	addrs := s.Addrs()
	b.WriteCount16("ipv6 server list", len(addrs))
	for _, ap := range addrs {
		addr := ap.Addr()
		if !addr.Is6() {
			b.Fail(&EncodeError{Field: "ipv6 server list", Err: fmt.Errorf("%w: %s", ErrAddressFamily, ap)})
			return
		}
		a := addr.As16()
		for i := 0; i < len(a); i += 2 {
			b.WriteUint16(uint16(a[i])<<8 | uint16(a[i+1]))
		}
		b.WriteUint16(ap.Port())
	}
}

// DecodeFrom reads a two byte count followed by (8 little-endian segments,
// port) entries.
func (s *IPv6ServerList) DecodeFrom(r *Reader) error {
	n := int(r.Uint16("server count"))
	out := make(IPv6ServerList, sizeHint(r, n, 16+2))
	for i := 0; i < n && r.Err() == nil; i++ {
		var a [16]byte
		for j := 0; j < len(a); j += 2 {
			seg := r.Uint16("ipv6 segment")
			a[j], a[j+1] = byte(seg>>8), byte(seg)
		}
		port := r.Uint16("port")
		out[netip.AddrPortFrom(netip.AddrFrom16(a), port)] = struct{}{}
	}
	if err := r.Err(); err != nil {
		return err
	}
	*s = out
	return nil
}

// DecodeServerList reads a type byte and the address set it selects.
func DecodeServerList(r *Reader) (ServerList, error) {
	offset := r.Offset()
	kind := ServerListType(r.Uint8("server list type"))
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case ServerListIPv4:
		var s IPv4ServerList
		if err := s.DecodeFrom(r); err != nil {
			return nil, err
		}
		return s, nil
	case ServerListIPv6:
		var s IPv6ServerList
		if err := s.DecodeFrom(r); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, unknownVariant("server list type", offset, uint8(kind))
}

// MasterResponseList is the master server's reply to CLIENT_GET_LIST.
//
//	[type:1][count:2]{address, port}*
type MasterResponseList struct {
	Servers ServerList
}

func (MasterResponseList) UDPType() UDPPacketType { return PacketUDPMasterResponseList }
func (MasterResponseList) udpPayload()            {}

func (m MasterResponseList) EncodeTo(b *PacketBuilder) {
	if m.Servers == nil {
		b.Fail(&EncodeError{Field: "server list", Err: ErrNilPayload})
		return
	}
	b.WriteUint8(uint8(m.Servers.ListType()))
	m.Servers.EncodeTo(b)
}

func (m *MasterResponseList) DecodeFrom(r *Reader) error {
	servers, err := DecodeServerList(r)
	if err != nil {
		return err
	}
	m.Servers = servers
	return nil
}
