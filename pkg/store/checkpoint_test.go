package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkpointPaths(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()

	return filepath.Join(dir, "snapshot"), filepath.Join(dir, "meta.gob")
}

func TestStore_CheckpointRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Create("rho", CreateOpts{Data: seqTensor(2, 3)}))
	require.NoError(t, s.Create("Y_mo_ri", CreateOpts{Data: seqTensor(4, 5), Paged: true}))

	datasetPath, metadataPath := checkpointPaths(t)

	require.NoError(t, s.Checkpoint(datasetPath, metadataPath))

	restored, err := Restore(datasetPath, metadataPath, CompressionLZ4)
	require.NoError(t, err)

	t.Cleanup(func() { restored.Close() })

	rho, err := restored.Load("rho")

	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, rho.Shape())
	assert.InDelta(t, 5.25, rho.At(1, 2), 0)

	res, err := restored.ResidencyOf("rho")

	require.NoError(t, err)
	assert.Equal(t, ResidencyResident, res)

	y, err := restored.Load("Y_mo_ri")

	require.NoError(t, err)
	assert.Equal(t, seqTensor(4, 5).Data(), y.Data())

	res, err = restored.ResidencyOf("Y_mo_ri")

	require.NoError(t, err)
	assert.Equal(t, ResidencyPaged, res)
}

func TestStore_Checkpoint_LiveStoreUnaffected(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Create("t_ijab", CreateOpts{Data: seqTensor(3, 2), Paged: true}))

	datasetPath, metadataPath := checkpointPaths(t)

	require.NoError(t, s.Checkpoint(datasetPath, metadataPath))

	// The live store keeps working after a checkpoint, and later writes do
	// not leak into the snapshot.
	ds, err := s.Dataset("t_ijab")
	require.NoError(t, err)

	mutated := seqTensor(3, 2)
	mutated.Scale(-1)

	require.NoError(t, ds.WriteRows(0, mutated))
	require.NoError(t, s.Create("extra", CreateOpts{Shape: []int{2}}))

	restored, err := Restore(datasetPath, metadataPath, CompressionLZ4)
	require.NoError(t, err)

	t.Cleanup(func() { restored.Close() })

	got, err := restored.Load("t_ijab")

	require.NoError(t, err)
	assert.InDelta(t, 0.25, got.Data()[0], 0)
	assert.False(t, restored.Has("extra"))
}

func TestStore_CheckpointRestore_PreservesAliases(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Create("pdA_F_0_mo", CreateOpts{Data: seqTensor(3, 2), Paged: true}))
	require.NoError(t, s.Alias("pdA_F_0_mo_n", "pdA_F_0_mo"))

	datasetPath, metadataPath := checkpointPaths(t)

	require.NoError(t, s.Checkpoint(datasetPath, metadataPath))

	restored, err := Restore(datasetPath, metadataPath, CompressionLZ4)
	require.NoError(t, err)

	t.Cleanup(func() { restored.Close() })

	require.NoError(t, restored.Delete("pdA_F_0_mo"))

	got, err := restored.Load("pdA_F_0_mo_n")

	require.NoError(t, err)
	assert.InDelta(t, 5.25, got.At(2, 1), 0)
}

func TestStore_Checkpoint_TargetExists_StorageError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Create("rho", CreateOpts{Shape: []int{2}}))

	dir := t.TempDir()

	// Pebble refuses to snapshot onto an existing directory.
	err := s.Checkpoint(dir, filepath.Join(dir, "meta.gob"))

	assert.ErrorIs(t, err, ErrStorage)
}

func TestRestore_MissingMetadata_StorageError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	datasetPath, metadataPath := checkpointPaths(t)

	require.NoError(t, s.Checkpoint(datasetPath, metadataPath))

	_, err := Restore(datasetPath, filepath.Join(t.TempDir(), "absent.gob"), CompressionLZ4)

	assert.ErrorIs(t, err, ErrStorage)
}
