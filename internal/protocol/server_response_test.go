package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerResponseFixture(t *testing.T) {
	data := mustHex(t, serverResponseHex)
	want := fixtureServerResponse(t)

	got, rest, err := Decode[ServerResponse](data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, want, got)

	out, err := Encode(want)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestServerResponseNewGRFShapes(t *testing.T) {
	hash := mustHash(t, "00112233445566778899aabbccddeeff")
	tests := []struct {
		name string
		grfs ActiveNewGRF
	}{
		{"only id", NewGRFIdentifiers{7: hash}},
		{"full", NewGRFDetails{7: {MD5: hash, Name: "OpenGFX+ Trains"}}},
		{"lookup", NewGRFLookupIDs{7: {}, 1: {}}},
		{"empty", NewGRFIdentifiers{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fixtureServerResponse(t)
			in.ActiveNewGRF = tt.grfs

			data, err := Encode(in)
			require.NoError(t, err)
			assert.Equal(t, uint8(tt.grfs.SerializationType()), data[1])

			got, rest, err := Decode[ServerResponse](data)
			require.NoError(t, err)
			assert.Empty(t, rest)
			assert.Equal(t, in, got)
		})
	}
}

func TestServerResponseErrors(t *testing.T) {
	data := mustHex(t, serverResponseHex)

	t.Run("unsupported version", func(t *testing.T) {
		bad := append([]byte{}, data...)
		bad[0] = 5
		_, _, err := Decode[ServerResponse](bad)
		require.ErrorIs(t, err, ErrUnknownVariant)

		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "protocol version", de.Field)
		assert.Equal(t, 0, de.Offset)
	})

	t.Run("unknown newgrf serialization type", func(t *testing.T) {
		bad := append([]byte{}, data...)
		bad[1] = 3
		_, _, err := Decode[ServerResponse](bad)
		require.ErrorIs(t, err, ErrUnknownVariant)

		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 1, de.Offset)
	})

	t.Run("every truncation fails", func(t *testing.T) {
		for n := 0; n < len(data); n++ {
			got, rest, err := Decode[ServerResponse](data[:n])
			require.Error(t, err, "prefix of %d bytes", n)
			assert.Zero(t, got)
			assert.Nil(t, rest)
		}
	})

	t.Run("nil newgrf set", func(t *testing.T) {
		in := fixtureServerResponse(t)
		in.ActiveNewGRF = nil
		_, err := Encode(in)
		require.ErrorIs(t, err, ErrNilPayload)
	})

	t.Run("too many newgrfs", func(t *testing.T) {
		grfs := NewGRFLookupIDs{}
		for i := range uint32(256) {
			grfs[i] = struct{}{}
		}
		in := fixtureServerResponse(t)
		in.ActiveNewGRF = grfs
		_, err := Encode(in)
		require.ErrorIs(t, err, ErrCountOverflow)
	})
}
