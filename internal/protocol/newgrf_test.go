package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGRFHash(t *testing.T) {
	h := mustHash(t, "48b3f9e4fd0df2a72b5f44d3c8a2f4a0")
	assert.Equal(t, "48b3f9e4fd0df2a72b5f44d3c8a2f4a0", h.String())
	assert.Equal(t, byte(0x48), h[0])

	_, err := ParseGRFHash("48b3")
	assert.Error(t, err)
	_, err = ParseGRFHash("zz")
	assert.Error(t, err)
}

func TestGRFHashJSON(t *testing.T) {
	grfs := NewGRFIdentifiers{0x00074e44: mustHash(t, "48b3f9e4fd0df2a72b5f44d3c8a2f4a0")}
	out, err := json.Marshal(grfs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"478788":"48b3f9e4fd0df2a72b5f44d3c8a2f4a0"}`, string(out))

	var back NewGRFIdentifiers
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, grfs, back)
}

func TestNewGRFSerializationType(t *testing.T) {
	assert.Equal(t, "only_id", NewGRFOnlyID.String())
	assert.Equal(t, "full", NewGRFFull.String())
	assert.Equal(t, "lookup", NewGRFLookup.String())
	assert.True(t, NewGRFLookup.Valid())
	assert.False(t, NewGRFSerializationType(3).Valid())
	assert.Equal(t, "NewGRFSerializationType(3)", NewGRFSerializationType(3).String())
}

func TestNewGRFIdentifiersWire(t *testing.T) {
	h1 := mustHash(t, "11111111111111111111111111111111")
	h2 := mustHash(t, "22222222222222222222222222222222")

	out, err := Encode(NewGRFIdentifiers{0x02000000: h2, 0x00000001: h1})
	require.NoError(t, err)

	want := []byte{2, 0x01, 0x00, 0x00, 0x00}
	want = append(want, h1[:]...)
	want = append(want, 0x00, 0x00, 0x00, 0x02)
	want = append(want, h2[:]...)
	assert.Equal(t, want, out, "entries are written in ascending id order")
}

func TestNewGRFDetailsWire(t *testing.T) {
	h := mustHash(t, "0102030405060708090a0b0c0d0e0f10")
	out, err := Encode(NewGRFDetails{5: {MD5: h, Name: "x"}})
	require.NoError(t, err)

	want := []byte{1, 5, 0, 0, 0}
	want = append(want, h[:]...)
	want = append(want, 'x', 0)
	assert.Equal(t, want, out)
}

func TestNewGRFLookupIDsWire(t *testing.T) {
	out, err := Encode(NewGRFLookupIDs{3: {}, 1: {}, 2: {}})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}, out)
}

func TestNewGRFCountLimit(t *testing.T) {
	ids := NewGRFLookupIDs{}
	for i := range uint32(255) {
		ids[i] = struct{}{}
	}
	out, err := Encode(ids)
	require.NoError(t, err)
	assert.Equal(t, byte(255), out[0])
	assert.Len(t, out, 1+255*4)

	ids[255] = struct{}{}
	_, err = Encode(ids)
	require.ErrorIs(t, err, ErrCountOverflow)
}

func TestNewGRFDuplicateKeysCollapse(t *testing.T) {
	h1 := mustHash(t, "11111111111111111111111111111111")
	h2 := mustHash(t, "22222222222222222222222222222222")

	data := []byte{2, 9, 0, 0, 0}
	data = append(data, h1[:]...)
	data = append(data, 9, 0, 0, 0)
	data = append(data, h2[:]...)

	got, rest, err := Decode[NewGRFIdentifiers](data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, NewGRFIdentifiers{9: h2}, got)
}

func TestParseActiveNewGRF(t *testing.T) {
	data := []byte{1, 4, 0, 0, 0, 0xAA}

	grfs, rest, err := ParseActiveNewGRF(data, NewGRFLookup)
	require.NoError(t, err)
	assert.Equal(t, NewGRFLookupIDs{4: {}}, grfs)
	assert.Equal(t, []byte{0xAA}, rest)

	_, _, err = ParseActiveNewGRF(data, NewGRFSerializationType(9))
	require.ErrorIs(t, err, ErrUnknownVariant)

	_, _, err = ParseActiveNewGRF(data, NewGRFOnlyID)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestNewGRFDecodeEmpty(t *testing.T) {
	got, rest, err := Decode[NewGRFDetails]([]byte{0})
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
