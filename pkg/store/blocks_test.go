package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlock_CompressibleRow_RoundTripsLZ4(t *testing.T) {
	t.Parallel()

	// Long runs of repeated values compress well, so the LZ4 path engages.
	row := make([]float64, 512)
	for i := range row {
		row[i] = float64(i / 64)
	}

	block, err := encodeBlock(row, CompressionLZ4)

	require.NoError(t, err)
	assert.Equal(t, blockLZ4, block[0])
	assert.Less(t, len(block), 1+len(row)*8)

	decoded, err := decodeBlock(block, len(row))

	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestEncodeBlock_IncompressibleRow_FallsBackToRaw(t *testing.T) {
	t.Parallel()

	// Pseudo-random mantissas leave LZ4 nothing to match on.
	row := make([]float64, 64)
	x := 0.731

	for i := range row {
		x = math.Mod(x*997.13+0.417, 1)
		row[i] = x
	}

	block, err := encodeBlock(row, CompressionLZ4)

	require.NoError(t, err)
	assert.Equal(t, blockRaw, block[0])
	assert.Len(t, block, 1+len(row)*8)

	decoded, err := decodeBlock(block, len(row))

	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestEncodeBlock_CompressionNone_AlwaysRaw(t *testing.T) {
	t.Parallel()

	row := make([]float64, 256)

	block, err := encodeBlock(row, CompressionNone)

	require.NoError(t, err)
	assert.Equal(t, blockRaw, block[0])
	assert.Len(t, block, 1+len(row)*8)
}

func TestEncodeBlock_RoundTripsSpecialValues(t *testing.T) {
	t.Parallel()

	row := []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), math.MaxFloat64, math.SmallestNonzeroFloat64, -1.5e-7}

	for _, comp := range []Compression{CompressionLZ4, CompressionNone} {
		block, err := encodeBlock(row, comp)

		require.NoError(t, err)

		decoded, err := decodeBlock(block, len(row))

		require.NoError(t, err)
		assert.Equal(t, row, decoded)
	}
}

func TestDecodeBlock_EmptyPayload_Error(t *testing.T) {
	t.Parallel()

	_, err := decodeBlock(nil, 4)

	assert.ErrorContains(t, err, "empty payload")
}

func TestDecodeBlock_UnknownFlag_Error(t *testing.T) {
	t.Parallel()

	_, err := decodeBlock([]byte{0xff, 1, 2, 3}, 4)

	assert.ErrorContains(t, err, "unknown flag")
}

func TestDecodeBlock_LengthMismatch_Error(t *testing.T) {
	t.Parallel()

	block, err := encodeBlock([]float64{1, 2, 3}, CompressionNone)

	require.NoError(t, err)

	// Asking for a different element count must not silently truncate.
	_, err = decodeBlock(block, 4)

	assert.ErrorContains(t, err, "for 4 elements")
}

func TestDecodeBlock_CorruptLZ4_Error(t *testing.T) {
	t.Parallel()

	block := []byte{blockLZ4, 0xde, 0xad, 0xbe, 0xef}

	_, err := decodeBlock(block, 16)

	assert.Error(t, err)
}
