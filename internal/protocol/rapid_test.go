package protocol

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// nonNil swaps a nil map for an empty one, since decoders always allocate.
func nonNil[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}

// cstring draws strings that can travel as NUL-terminated text.
func cstring() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		return strings.ReplaceAll(rapid.StringN(0, 24, -1).Draw(t, "s"), "\x00", "")
	})
}

func grfHash() *rapid.Generator[GRFHash] {
	return rapid.Custom(func(t *rapid.T) GRFHash {
		var h GRFHash
		copy(h[:], rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "md5"))
		return h
	})
}

func timestamp() *rapid.Generator[time.Time] {
	return rapid.Custom(func(t *rapid.T) time.Time {
		return time.Unix(int64(rapid.Uint32().Draw(t, "ts")), 0).UTC()
	})
}

func newGRFDetails() *rapid.Generator[NewGRFDetails] {
	info := rapid.Custom(func(t *rapid.T) NewGRFInfo {
		return NewGRFInfo{MD5: grfHash().Draw(t, "md5"), Name: cstring().Draw(t, "name")}
	})
	return rapid.Custom(func(t *rapid.T) NewGRFDetails {
		return nonNil(NewGRFDetails(rapid.MapOfN(rapid.Uint32(), info, 0, 8).Draw(t, "details")))
	})
}

func activeNewGRF() *rapid.Generator[ActiveNewGRF] {
	return rapid.Custom(func(t *rapid.T) ActiveNewGRF {
		switch NewGRFSerializationType(rapid.IntRange(0, 2).Draw(t, "kind")) {
		case NewGRFOnlyID:
			return nonNil(NewGRFIdentifiers(rapid.MapOfN(rapid.Uint32(), grfHash(), 0, 8).Draw(t, "ids")))
		case NewGRFFull:
			return newGRFDetails().Draw(t, "details")
		default:
			ids := rapid.SliceOfN(rapid.Uint32(), 0, 8).Draw(t, "lookup")
			set := NewGRFLookupIDs{}
			for _, id := range ids {
				set[id] = struct{}{}
			}
			return set
		}
	})
}

func serverResponse() *rapid.Generator[ServerResponse] {
	return rapid.Custom(func(t *rapid.T) ServerResponse {
		return ServerResponse{
			GameScriptVersion: rapid.Uint32().Draw(t, "gs_version"),
			GameScriptName:    cstring().Draw(t, "gs_name"),
			ActiveNewGRF:      activeNewGRF().Draw(t, "newgrf"),
			GameDate:          timestamp().Draw(t, "game_date"),
			StartDate:         timestamp().Draw(t, "start_date"),
			MaxCompanies:      rapid.Uint8().Draw(t, "max_companies"),
			CurrentCompanies:  rapid.Uint8().Draw(t, "companies"),
			MaxSpectators:     rapid.Uint8().Draw(t, "max_spectators"),
			ServerName:        cstring().Draw(t, "name"),
			ServerRevision:    cstring().Draw(t, "revision"),
			ServerLang:        rapid.Uint8().Draw(t, "lang"),
			UsePassword:       rapid.Bool().Draw(t, "password"),
			ClientsMax:        rapid.Uint8().Draw(t, "clients_max"),
			ClientsOn:         rapid.Uint8().Draw(t, "clients_on"),
			SpectatorsOn:      rapid.Uint8().Draw(t, "spectators_on"),
			MapName:           cstring().Draw(t, "map"),
			MapWidth:          rapid.Uint16().Draw(t, "width"),
			MapHeight:         rapid.Uint16().Draw(t, "height"),
			MapSet:            rapid.Uint8().Draw(t, "map_set"),
			Dedicated:         rapid.Bool().Draw(t, "dedicated"),
		}
	})
}

func companyInfo() *rapid.Generator[CompanyInfo] {
	return rapid.Custom(func(t *rapid.T) CompanyInfo {
		c := CompanyInfo{
			Index:           rapid.Uint8().Draw(t, "index"),
			Name:            cstring().Draw(t, "name"),
			InauguratedYear: rapid.Uint32().Draw(t, "year"),
			CompanyValue:    rapid.Uint64().Draw(t, "value"),
			Money:           rapid.Uint64().Draw(t, "money"),
			Income:          rapid.Uint64().Draw(t, "income"),
			Performance:     rapid.Uint16().Draw(t, "performance"),
			HasPassword:     rapid.Bool().Draw(t, "password"),
			IsAI:            rapid.Bool().Draw(t, "ai"),
		}
		for i := range c.Vehicles {
			c.Vehicles[i] = rapid.Uint16().Draw(t, "vehicles")
			c.Stations[i] = rapid.Uint16().Draw(t, "stations")
		}
		return c
	})
}

func serverList() *rapid.Generator[ServerList] {
	return rapid.Custom(func(t *rapid.T) ServerList {
		n := rapid.IntRange(0, 16).Draw(t, "n")
		port := func() uint16 { return rapid.Uint16().Draw(t, "port") }
		if rapid.Bool().Draw(t, "v6") {
			list := IPv6ServerList{}
			for range n {
				a := [16]byte(rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "addr"))
				list[netip.AddrPortFrom(netip.AddrFrom16(a), port())] = struct{}{}
			}
			return list
		}
		list := IPv4ServerList{}
		for range n {
			a := [4]byte(rapid.SliceOfN(rapid.Byte(), 4, 4).Draw(t, "addr"))
			list[netip.AddrPortFrom(netip.AddrFrom4(a), port())] = struct{}{}
		}
		return list
	})
}

func udpPayload() *rapid.Generator[UDPPayload] {
	return rapid.OneOf(
		rapid.Just[UDPPayload](ClientFindServer{}),
		rapid.Just[UDPPayload](ClientDetailInfo{}),
		rapid.Just[UDPPayload](MasterAckRegister{}),
		rapid.Map(serverResponse(), func(v ServerResponse) UDPPayload { return v }),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			companies := rapid.SliceOfN(companyInfo(), 0, 4).Draw(t, "companies")
			if companies == nil {
				companies = []CompanyInfo{}
			}
			return ServerDetailInfo{Version: rapid.Uint8().Draw(t, "version"), Companies: companies}
		}),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			return ServerRegister{
				WelcomeMessage: cstring().Draw(t, "welcome"),
				Version:        rapid.Uint8().Draw(t, "version"),
				Port:           rapid.Uint16().Draw(t, "port"),
				SessionKey:     rapid.Uint64().Draw(t, "key"),
			}
		}),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			return ClientGetList{
				MasterServerVersion: rapid.Uint8().Draw(t, "version"),
				RequestType:         ServerListRequestType(rapid.IntRange(0, 2).Draw(t, "type")),
			}
		}),
		rapid.Map(serverList(), func(l ServerList) UDPPayload { return MasterResponseList{Servers: l} }),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			return ServerUnregister{Version: rapid.Uint8().Draw(t, "version"), Port: rapid.Uint16().Draw(t, "port")}
		}),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			return ServerNewGRFs{NewGRFs: newGRFDetails().Draw(t, "newgrfs")}
		}),
		rapid.Custom(func(t *rapid.T) UDPPayload {
			return MasterSessionKey{SessionKey: rapid.Uint64().Draw(t, "key")}
		}),
	)
}

func coordinatorPayload() *rapid.Generator[CoordinatorPayload] {
	entry := rapid.Custom(func(t *rapid.T) NewGRFLookupEntry {
		return NewGRFLookupEntry{
			GRFID: rapid.Uint32().Draw(t, "grfid"),
			MD5:   grfHash().Draw(t, "md5"),
			Name:  cstring().Draw(t, "name"),
		}
	})
	listed := rapid.Custom(func(t *rapid.T) ListedServer {
		return ListedServer{Address: cstring().Draw(t, "address"), Info: serverResponse().Draw(t, "info")}
	})
	return rapid.OneOf(
		rapid.Just[CoordinatorPayload](GCError{}),
		rapid.Just[CoordinatorPayload](GCTurnConnect{}),
		rapid.Custom(func(t *rapid.T) CoordinatorPayload {
			return ClientListing{Revision: cstring().Draw(t, "revision"), NewGRFLookupCursor: rapid.Uint32().Draw(t, "cursor")}
		}),
		rapid.Custom(func(t *rapid.T) CoordinatorPayload {
			servers := rapid.SliceOfN(listed, 0, 3).Draw(t, "servers")
			if len(servers) == 0 {
				servers = []ListedServer{}
			}
			return GCListing{Servers: servers}
		}),
		rapid.Custom(func(t *rapid.T) CoordinatorPayload {
			return GCNewGRFLookup{
				Cursor:  rapid.Uint32().Draw(t, "cursor"),
				NewGRFs: nonNil(rapid.MapOfN(rapid.Uint32(), entry, 0, 8).Draw(t, "newgrfs")),
			}
		}),
	)
}

// TestUDPRoundTripRapid tests that every UDP payload decodes back to itself
// and re-encodes to the same bytes.
func TestUDPRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := udpPayload().Draw(t, "payload")

		data, err := EncodeUDPPacket(p)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		got, rest, err := DecodeUDPPacket(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected rest: %x", rest)
		}
		require.Equal(t, p, got)

		again, err := EncodeUDPPacket(got)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if !bytes.Equal(data, again) {
			t.Fatalf("re-encoding differs:\n%x\n%x", data, again)
		}
	})
}

// TestCoordinatorRoundTripRapid tests that coordinator payloads decode back to
// themselves and re-encode to the same bytes.
func TestCoordinatorRoundTripRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := coordinatorPayload().Draw(t, "payload")

		data, err := EncodeCoordinatorPacket(p)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		got, rest, err := DecodeCoordinatorPacket(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("unexpected rest: %x", rest)
		}
		require.Equal(t, p, got)
		again, err := EncodeCoordinatorPacket(got)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if !bytes.Equal(data, again) {
			t.Fatalf("re-encoding differs:\n%x\n%x", data, again)
		}
	})
}

// TestOrderedEncodingDeterministic tests that the encoding of a map does not
// depend on the order its entries were inserted in.
func TestOrderedEncodingDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.Uint32(), 0, 32, rapid.ID[uint32]).Draw(t, "ids")
		perm := rapid.Permutation(ids).Draw(t, "perm")

		a, b := NewGRFDetails{}, NewGRFDetails{}
		for _, id := range ids {
			a[id] = NewGRFInfo{Name: "grf"}
		}
		for _, id := range perm {
			b[id] = NewGRFInfo{Name: "grf"}
		}

		ea, err := Encode(a)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		eb, err := Encode(b)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if !bytes.Equal(ea, eb) {
			t.Fatalf("encodings differ:\n%x\n%x", ea, eb)
		}
	})
}

// TestTruncationNeverPanics tests that every strict prefix of a valid packet
// is rejected with an error.
func TestTruncationNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := udpPayload().Draw(t, "payload")
		data, err := EncodeUDPPacket(p)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		n := rapid.IntRange(0, len(data)-1).Draw(t, "cut")
		if _, _, err := DecodeUDPPacket(data[:n]); err == nil {
			t.Fatalf("prefix of %d/%d bytes decoded without error", n, len(data))
		}
	})
}

// TestArbitraryInputNeverPanics feeds random bytes to both decoders.
func TestArbitraryInputNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")
		_, _, _ = DecodeUDPPacket(data)
		_, _, _ = DecodeCoordinatorPacket(data)
		for kind := range newGRFSerializationTypeEnd {
			_, _, _ = ParseActiveNewGRF(data, kind)
		}
	})
}
