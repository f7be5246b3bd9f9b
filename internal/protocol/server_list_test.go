package protocol

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterResponseListFixture(t *testing.T) {
	data := mustHex(t, masterListHex)

	got, rest, err := Decode[MasterResponseList](data)
	require.NoError(t, err)
	assert.Equal(t, fixtureMasterList(), got.Servers)
	assert.Equal(t, mustHex(t, masterListTrailingHex), rest)
	assert.Equal(t, ServerListIPv4, got.Servers.ListType())
	assert.Equal(t, 10, got.Servers.Len())
}

func TestIPv4ServerListOrder(t *testing.T) {
	list := IPv4ServerList{
		netip.MustParseAddrPort("10.0.0.2:3979"): {},
		netip.MustParseAddrPort("10.0.0.1:3980"): {},
		netip.MustParseAddrPort("10.0.0.1:3979"): {},
	}

	out, err := Encode(MasterResponseList{Servers: list})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		1, 3, 0,
		10, 0, 0, 1, 0x8B, 0x0F,
		10, 0, 0, 1, 0x8C, 0x0F,
		10, 0, 0, 2, 0x8B, 0x0F,
	}, out)

	assert.Equal(t, []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.1:3979"),
		netip.MustParseAddrPort("10.0.0.1:3980"),
		netip.MustParseAddrPort("10.0.0.2:3979"),
	}, list.Addrs())
}

func TestIPv6ServerListWire(t *testing.T) {
	list := IPv6ServerList{
		netip.MustParseAddrPort("[2001:db8::1]:3979"): {},
	}

	out, err := Encode(MasterResponseList{Servers: list})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		2, 1, 0,
		0x01, 0x20, 0xB8, 0x0D, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00,
		0x8B, 0x0F,
	}, out, "each segment is written little-endian")

	got, rest, err := Decode[MasterResponseList](out)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, list, got.Servers)
}

func TestServerListFamilyMismatch(t *testing.T) {
	_, err := Encode(MasterResponseList{Servers: IPv4ServerList{
		netip.MustParseAddrPort("[2001:db8::1]:3979"): {},
	}})
	require.ErrorIs(t, err, ErrAddressFamily)

	_, err = Encode(MasterResponseList{Servers: IPv6ServerList{
		netip.MustParseAddrPort("192.0.2.1:3979"): {},
	}})
	require.ErrorIs(t, err, ErrAddressFamily)
}

func TestServerListErrors(t *testing.T) {
	t.Run("unknown list type", func(t *testing.T) {
		for _, tag := range []byte{0, 3, 0xFF} {
			_, _, err := Decode[MasterResponseList]([]byte{tag, 0, 0})
			require.ErrorIs(t, err, ErrUnknownVariant, "tag %d", tag)
		}
	})

	t.Run("nil list", func(t *testing.T) {
		_, err := Encode(MasterResponseList{})
		require.ErrorIs(t, err, ErrNilPayload)
	})

	t.Run("truncated entry", func(t *testing.T) {
		data := mustHex(t, masterListHex)
		_, _, err := Decode[MasterResponseList](data[:3+6*10-1])
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("empty list", func(t *testing.T) {
		got, rest, err := Decode[MasterResponseList]([]byte{2, 0, 0})
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, IPv6ServerList{}, got.Servers)
	})
}

func TestServerListDuplicatesCollapse(t *testing.T) {
	data := []byte{1, 2, 0, 1, 2, 3, 4, 0x8B, 0x0F, 1, 2, 3, 4, 0x8B, 0x0F}
	got, _, err := Decode[MasterResponseList](data)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Servers.Len())
}

func TestIPv4ServerListMappedKeys(t *testing.T) {
	t.Run("mapped duplicate is written once", func(t *testing.T) {
		list := IPv4ServerList{
			netip.MustParseAddrPort("1.2.3.4:1"):          {},
			netip.MustParseAddrPort("[::ffff:1.2.3.4]:1"): {},
		}
		out, err := Encode(MasterResponseList{Servers: list})
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 1, 0, 1, 2, 3, 4, 1, 0}, out)
		assert.Equal(t, 1, list.Len())

		got, rest, err := Decode[MasterResponseList](out)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, IPv4ServerList{netip.MustParseAddrPort("1.2.3.4:1"): {}}, got.Servers)
	})

	t.Run("mapped key sorts by its IPv4 form", func(t *testing.T) {
		mapped := IPv4ServerList{
			netip.MustParseAddrPort("9.9.9.9:1"):          {},
			netip.MustParseAddrPort("[::ffff:1.2.3.4]:1"): {},
		}
		plain := IPv4ServerList{
			netip.MustParseAddrPort("9.9.9.9:1"): {},
			netip.MustParseAddrPort("1.2.3.4:1"): {},
		}
		want, err := Encode(MasterResponseList{Servers: plain})
		require.NoError(t, err)
		got, err := Encode(MasterResponseList{Servers: mapped})
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, []byte{1, 2, 0, 1, 2, 3, 4, 1, 0, 9, 9, 9, 9, 1, 0}, got)
		assert.Equal(t, plain.Addrs(), mapped.Addrs())
	})
}

func TestIPv6ServerListZonesCollapse(t *testing.T) {
	list := IPv6ServerList{
		netip.MustParseAddrPort("[fe80::1%eth0]:3979"): {},
		netip.MustParseAddrPort("[fe80::1]:3979"):      {},
	}
	out, err := Encode(MasterResponseList{Servers: list})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 1, 0}, out[:3])
	assert.Len(t, out, 3+16+2)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("[fe80::1]:3979")}, list.Addrs())

	got, _, err := Decode[MasterResponseList](out)
	require.NoError(t, err)
	assert.Equal(t, IPv6ServerList{netip.MustParseAddrPort("[fe80::1]:3979"): {}}, got.Servers)
}

func TestServerListTypeString(t *testing.T) {
	assert.Equal(t, "ipv4", ServerListIPv4.String())
	assert.Equal(t, "ipv6", ServerListIPv6.String())
	assert.False(t, ServerListType(0).Valid())
	assert.Equal(t, "ServerListType(0)", ServerListType(0).String())
}
