package store

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/dhpolar/pkg/units"
)

// Compression selects the row-block encoding inside the backing container.
type Compression uint8

const (
	// CompressionLZ4 stores row blocks LZ4 block-compressed, falling back to
	// raw for incompressible rows.
	CompressionLZ4 Compression = iota

	// CompressionNone stores row blocks as raw little-endian float64.
	CompressionNone
)

// Block encoding flags (first byte of every stored block).
const (
	blockRaw byte = 0
	blockLZ4 byte = 1
)

// encodeBlock serializes one row of float64 values for the container.
// LZ4 compression is attempted when enabled; rows that do not shrink are
// stored raw so decoding never depends on compressibility.
func encodeBlock(row []float64, comp Compression) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(1 + len(row)*units.F64Bytes)
	buf.WriteByte(blockRaw)

	writeErr := binary.Write(buf, binary.LittleEndian, row)
	if writeErr != nil {
		return nil, fmt.Errorf("encode block: %w", writeErr)
	}

	if comp != CompressionLZ4 {
		return buf.Bytes(), nil
	}

	raw := buf.Bytes()[1:]
	compressed := make([]byte, 1+lz4.CompressBlockBound(len(raw)))
	compressed[0] = blockLZ4

	written, err := lz4.CompressBlock(raw, compressed[1:], nil)
	if err != nil || written == 0 || written >= len(raw) {
		// Incompressible row; keep the raw encoding.
		return buf.Bytes(), nil
	}

	return compressed[:1+written], nil
}

// decodeBlock deserializes one stored row into elems float64 values.
func decodeBlock(data []byte, elems int) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode block: empty payload")
	}

	var raw []byte

	switch data[0] {
	case blockRaw:
		raw = data[1:]
	case blockLZ4:
		raw = make([]byte, elems*units.F64Bytes)

		n, err := lz4.UncompressBlock(data[1:], raw)
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}

		raw = raw[:n]
	default:
		return nil, fmt.Errorf("decode block: unknown flag 0x%02x", data[0])
	}

	if len(raw) != elems*units.F64Bytes {
		return nil, fmt.Errorf("decode block: %d bytes for %d elements", len(raw), elems)
	}

	row := make([]float64, elems)

	readErr := binary.Read(bytes.NewReader(raw), binary.LittleEndian, row)
	if readErr != nil {
		return nil, fmt.Errorf("decode block: %w", readErr)
	}

	return row, nil
}
