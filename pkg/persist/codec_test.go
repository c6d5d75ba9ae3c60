package persist

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSummary is a round-trip fixture shaped like the payloads the pipeline
// persists: scalar results keyed by component.
type runSummary struct {
	Functional string             `json:"functional"`
	NBasis     int                `json:"n_basis"`
	Energies   map[string]float64 `json:"energies"`
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	original := runSummary{
		Functional: "XYG3",
		NBasis:     42,
		Energies:   map[string]float64{"scf": -1.5, "corr": -0.25},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))

	var decoded runSummary

	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original.Functional, decoded.Functional)
	assert.Equal(t, original.NBasis, decoded.NBasis)
	assert.Equal(t, original.Energies, decoded.Energies)
}

func TestJSONCodec_Extension(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	assert.Equal(t, ".json", codec.Extension())
}

func TestJSONCodec_CompactNoIndent(t *testing.T) {
	t.Parallel()

	codec := &JSONCodec{Indent: ""}

	state := runSummary{Functional: "B2PLYP", NBasis: 1}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, state))

	// Compact JSON has at most one trailing newline (from json.Encoder).
	output := buf.String()

	assert.LessOrEqual(t, strings.Count(output, "\n"), 1)
}

func TestJSONCodec_PrettyPrint(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	state := runSummary{Functional: "XYG3", NBasis: 1}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, state))

	// Pretty-printed JSON has indentation.
	output := buf.String()

	assert.Contains(t, output, defaultIndent)
}

func TestJSONCodec_DecodeError(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	var decoded runSummary

	err := codec.Decode(strings.NewReader("not valid json{{{"), &decoded)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "json decode")
}

func TestJSONCodec_EncodeError(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()

	// Channels cannot be JSON-encoded.
	var buf bytes.Buffer

	err := codec.Encode(&buf, make(chan int))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "json encode")
}

func TestGobCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewGobCodec()

	original := runSummary{
		Functional: "XYGJ-OS",
		NBasis:     123,
		Energies:   map[string]float64{"scf": -10, "corr": -0.5},
	}

	var buf bytes.Buffer

	require.NoError(t, codec.Encode(&buf, original))

	var decoded runSummary

	require.NoError(t, codec.Decode(&buf, &decoded))

	assert.Equal(t, original.Functional, decoded.Functional)
	assert.Equal(t, original.NBasis, decoded.NBasis)
	assert.Equal(t, original.Energies, decoded.Energies)
}

func TestGobCodec_Extension(t *testing.T) {
	t.Parallel()

	codec := NewGobCodec()

	assert.Equal(t, ".gob", codec.Extension())
}

func TestGobCodec_DecodeError(t *testing.T) {
	t.Parallel()

	codec := NewGobCodec()

	var decoded runSummary

	err := codec.Decode(strings.NewReader("not gob data"), &decoded)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gob decode")
}

func TestSaveFile_ExactPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewGobCodec()

	// Checkpoint metadata callers pick the whole path, extension included.
	path := filepath.Join(dir, "meta.chk")

	state := runSummary{Functional: "XYG3", NBasis: 8}

	require.NoError(t, SaveFile(path, codec, state))

	_, err := os.Stat(path)

	require.NoError(t, err)

	var loaded runSummary

	require.NoError(t, LoadFile(path, codec, &loaded))

	assert.Equal(t, state.Functional, loaded.Functional)
	assert.Equal(t, state.NBasis, loaded.NBasis)
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var state runSummary

	err := LoadFile(filepath.Join(dir, "missing.gob"), NewGobCodec(), &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestSaveState_AppendsExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewJSONCodec()

	state := runSummary{Functional: "XYG3", NBasis: 99}

	require.NoError(t, SaveState(dir, "polar", codec, state))

	path := filepath.Join(dir, "polar.json")

	_, err := os.Stat(path)

	assert.NoError(t, err)
}

func TestLoadState_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewJSONCodec()

	original := runSummary{Functional: "B2PLYP", NBasis: 77, Energies: map[string]float64{"scf": -5}}

	require.NoError(t, SaveState(dir, "polar", codec, original))

	var loaded runSummary

	require.NoError(t, LoadState(dir, "polar", codec, &loaded))

	assert.Equal(t, original.Functional, loaded.Functional)
	assert.Equal(t, original.NBasis, loaded.NBasis)
	assert.Equal(t, original.Energies, loaded.Energies)
}

func TestLoadState_FileNotFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewJSONCodec()

	var state runSummary

	err := LoadState(dir, "nonexistent", codec, &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestSaveState_InvalidDirectory(t *testing.T) {
	t.Parallel()

	codec := NewJSONCodec()
	state := runSummary{Functional: "XYG3"}

	err := SaveState("/nonexistent/path/that/does/not/exist", "polar", codec, state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestLoadState_DecodeError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// Write invalid JSON to a file that LoadState will try to decode.
	path := filepath.Join(dir, "corrupt.json")

	require.NoError(t, os.WriteFile(path, []byte("not json{{{"), 0o600))

	codec := NewJSONCodec()

	var state runSummary

	err := LoadState(dir, "corrupt", codec, &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
