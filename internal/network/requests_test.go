package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/protocol"
)

func TestBuildRequest(t *testing.T) {
	assert.Equal(t, []string{"detail_info", "find_server", "get_list", "listing"}, RequestNames())

	parser := protocol.NewParser()
	cases := []struct {
		name   string
		opts   RequestOptions
		family events.Family
		want   []byte
	}{
		{"find_server", RequestOptions{}, events.FamilyUDP, []byte{0x03, 0x00, 0x00}},
		{"detail_info", RequestOptions{}, events.FamilyUDP, []byte{0x03, 0x00, 0x02}},
		{"get_list", RequestOptions{ListType: protocol.RequestIPv6}, events.FamilyUDP, []byte{0x05, 0x00, 0x06, 0x02, 0x01}},
		{"listing", RequestOptions{Revision: "1", Cursor: 2}, events.FamilyCoordinator, []byte{0x09, 0x00, 0x04, '1', 0x00, 0x02, 0x00, 0x00, 0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := BuildRequest(tc.name, tc.opts)
			require.NoError(t, err)
			family, data, err := parser.Encode(req)
			require.NoError(t, err)
			assert.Equal(t, tc.family, family)
			assert.Equal(t, tc.want, data)
		})
	}

	_, err := BuildRequest("server_response", RequestOptions{})
	assert.Error(t, err)
}
