package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

func TestStoreInspect_ListsDatasets(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "container")
	seedStore(t, dir, 0)

	out, err := executeStore(t, "inspect", dir)
	require.NoError(t, err)
	require.Contains(t, out, "y_ia_ri")
	require.Contains(t, out, "3x4x4")
	require.Contains(t, out, "u_1")
	require.Contains(t, out, "paged")
	require.Contains(t, out, "2 datasets")
}

func TestStoreInspect_MissingContainer(t *testing.T) {
	t.Parallel()

	// Pebble creates missing directories, so a bogus path yields an empty
	// catalog rather than an open error.
	out, err := executeStore(t, "inspect", filepath.Join(t.TempDir(), "fresh"))
	require.NoError(t, err)
	require.Contains(t, out, "0 datasets")
}

func TestStoreInspect_CheckpointMetadata(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	st, err := store.New(store.Config{
		Path:        filepath.Join(base, "live"),
		Compression: store.CompressionLZ4,
	})
	require.NoError(t, err)

	require.NoError(t, st.Create("t_ijab", store.CreateOpts{Data: tensor.New(2, 3, 3), Paged: true}))
	require.NoError(t, st.Create("pol_scf", store.CreateOpts{Data: tensor.New(3, 3)}))

	chkDir := filepath.Join(base, "chk")
	require.NoError(t, os.MkdirAll(chkDir, 0o755))

	containerCopy := filepath.Join(chkDir, checkpointContainerName)
	metadata := filepath.Join(chkDir, checkpointMetadataName)

	require.NoError(t, st.Checkpoint(containerCopy, metadata))
	require.NoError(t, st.Close())

	out, err := executeStore(t, "inspect", containerCopy, "--metadata", metadata)
	require.NoError(t, err)
	require.Contains(t, out, "t_ijab")
	require.Contains(t, out, "pol_scf")
	require.Contains(t, out, "resident")
	require.Contains(t, out, "paged")
}

func TestStoreDiff_IdenticalStores(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA, dirB := filepath.Join(base, "a"), filepath.Join(base, "b")
	seedStore(t, dirA, 0)
	seedStore(t, dirB, 0)

	out, err := executeStore(t, "diff", dirA, dirB)
	require.NoError(t, err)
	require.Contains(t, out, "stores match")
}

func TestStoreDiff_ValueDeviation(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA, dirB := filepath.Join(base, "a"), filepath.Join(base, "b")
	seedStore(t, dirA, 0)
	seedStore(t, dirB, 1e-3)

	out, err := executeStore(t, "diff", dirA, dirB)
	require.ErrorIs(t, err, ErrStoresDiffer)
	require.Contains(t, out, "y_ia_ri")
	require.Contains(t, out, "max |delta|")
}

func TestStoreDiff_ToleratedDeviation(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA, dirB := filepath.Join(base, "a"), filepath.Join(base, "b")
	seedStore(t, dirA, 0)
	seedStore(t, dirB, 1e-9)

	out, err := executeStore(t, "diff", dirA, dirB, "--tol", "1e-6")
	require.NoError(t, err)
	require.Contains(t, out, "stores match")
}

func TestStoreDiff_CatalogDrift(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA, dirB := filepath.Join(base, "a"), filepath.Join(base, "b")
	seedStore(t, dirA, 0)
	seedStore(t, dirB, 0)

	extra, err := store.New(store.Config{Path: dirB, Compression: store.CompressionLZ4})
	require.NoError(t, err)
	require.NoError(t, extra.Create("fxc", store.CreateOpts{Data: tensor.New(4, 4), Paged: true}))
	require.NoError(t, extra.Close())

	out, err := executeStore(t, "diff", dirA, dirB)
	require.ErrorIs(t, err, ErrStoresDiffer)
	require.Contains(t, out, "+ fxc")
}

// seedStore fills dir with two paged datasets. perturb shifts one value so
// diffs have something to find.
func seedStore(t *testing.T, dir string, perturb float64) {
	t.Helper()

	st, err := store.New(store.Config{Path: dir, Compression: store.CompressionLZ4})
	require.NoError(t, err)

	yia := tensor.New(3, 4, 4)
	yia.Set(1.25+perturb, 0, 0, 0)
	yia.Set(-0.5, 2, 3, 1)

	require.NoError(t, st.Create("y_ia_ri", store.CreateOpts{Data: yia, Paged: true}))

	u1 := tensor.New(3, 6)
	u1.Set(0.75, 1, 2)

	require.NoError(t, st.Create("u_1", store.CreateOpts{Data: u1, Paged: true}))
	require.NoError(t, st.Close())
}

func executeStore(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewStoreCommand()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{}, args...))

	err := cmd.Execute()

	return out.String(), err
}
