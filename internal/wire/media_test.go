package wire_test

import (
	"testing"

	"github.com/beamroom/beamroomd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := wire.Header{
		Seq:         123456,
		PartIndex:   2,
		PartCount:   5,
		Flags:       wire.FlagKeyframe | wire.FlagHasParamSet,
		Width:       1920,
		Height:      1080,
		ConfigBytes: 37,
	}
	buf := make([]byte, wire.HeaderSize)
	require.NoError(t, wire.WriteHeader(h, buf))

	got, offset, err := wire.ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, wire.HeaderSize, offset)
	assert.Equal(t, h, got)
	assert.True(t, got.IsKeyframe())
	assert.True(t, got.HasParamSet())
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, wire.HeaderSize)
	_, _, err := wire.ParseHeader(buf)
	require.ErrorIs(t, err, wire.ErrBadMagic)
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	_, _, err := wire.ParseHeader(make([]byte, 4))
	require.ErrorIs(t, err, wire.ErrShortHeader)
}

func TestParamSetsRoundTrip(t *testing.T) {
	p := wire.ParamSets{
		SPS: [][]byte{{0x67, 0x42, 0x00, 0x1f}},
		PPS: [][]byte{{0x68, 0xce, 0x3c, 0x80}},
	}
	blob, err := wire.EncodeParamSets(p)
	require.NoError(t, err)

	got, err := wire.DecodeParamSets(blob)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestParamSetsEmpty(t *testing.T) {
	blob, err := wire.EncodeParamSets(wire.ParamSets{})
	require.NoError(t, err)
	got, err := wire.DecodeParamSets(blob)
	require.NoError(t, err)
	assert.Empty(t, got.SPS)
	assert.Empty(t, got.PPS)
}

func TestParamSetsTooMany(t *testing.T) {
	many := make([][]byte, 256)
	_, err := wire.EncodeParamSets(wire.ParamSets{SPS: many})
	require.ErrorIs(t, err, wire.ErrTooManyParamSets)
}

func TestParamSetsTruncated(t *testing.T) {
	_, err := wire.DecodeParamSets([]byte{1, 0, 0, 5, 1, 2})
	require.ErrorIs(t, err, wire.ErrShortParamSets)
}
