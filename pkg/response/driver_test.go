package response

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib/model"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestDriver wires the analytic model engine to a fresh store under a
// temporary directory and returns both so tests can inspect intermediates.
func newTestDriver(t *testing.T, name string, budgetMB float64) (*Driver, *store.Store) {
	t.Helper()

	eng, err := model.New(model.DefaultParams())
	require.NoError(t, err)

	st, err := store.New(store.Config{Path: t.TempDir(), Compression: store.CompressionLZ4})
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	fn, err := functional.Parse(name)
	require.NoError(t, err)

	drv, err := NewDriver(Options{
		Engine:     eng,
		Store:      st,
		Functional: fn,
		BudgetMB:   budgetMB,
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	return drv, st
}

func TestNewDriver_MissingOptions_Errors(t *testing.T) {
	t.Parallel()

	eng, err := model.New(model.DefaultParams())
	require.NoError(t, err)

	st, err := store.New(store.Config{Path: t.TempDir(), Compression: store.CompressionNone})
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	fn, err := functional.Parse("mp2")
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing engine", opts: Options{Store: st, Functional: fn}},
		{name: "missing store", opts: Options{Engine: eng, Functional: fn}},
		{name: "missing functional", opts: Options{Engine: eng, Store: st}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewDriver(tt.opts)

			require.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestNewDriver_UnknownExchangeComponent_Error(t *testing.T) {
	t.Parallel()

	eng, err := model.New(model.DefaultParams())
	require.NoError(t, err)

	st, err := store.New(store.Config{Path: t.TempDir(), Compression: store.CompressionNone})
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	_, err = NewDriver(Options{
		Engine:     eng,
		Store:      st,
		Functional: functional.Functional{Name: "custom", SCF: "SCAN"},
		Logger:     testLogger(),
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, "classify functional")
	assert.ErrorContains(t, err, "SCAN")
}

func TestDriver_StageWithoutInputs_ErrPrecondition(t *testing.T) {
	t.Parallel()

	drv, _ := newTestDriver(t, "mp2", 0)
	ctx := context.Background()

	err := drv.preparePT2(ctx)

	require.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorContains(t, err, KeyYmoRI)

	err = drv.prepareU1(ctx)

	require.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorContains(t, err, KeyH1MO)
}

func TestDriver_CancelledContext_LeavesFailedState(t *testing.T) {
	t.Parallel()

	drv, _ := newTestDriver(t, "mp2", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := drv.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "stage EnsureSCF")
	assert.Equal(t, StateFailed, drv.State())
}

func TestDriver_RunTwice_ErrAlreadyRun(t *testing.T) {
	t.Parallel()

	drv, _ := newTestDriver(t, "mp2", 0)

	assert.Nil(t, drv.Reference())

	_, err := drv.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, drv.Reference())
	assert.Equal(t, 8, drv.Reference().NMO)

	_, err = drv.Run(context.Background())

	require.ErrorIs(t, err, ErrAlreadyRun)
	assert.ErrorContains(t, err, StateDone.String())
}

func TestState_String_NamesEveryState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{state: StateInitialized, want: "Initialized"},
		{state: StateSCFDone, want: "SCFDone"},
		{state: StatePerturbationPrepared, want: "PerturbationPrepared"},
		{state: StateIntegralsPrepared, want: "IntegralsPrepared"},
		{state: StateResponseSolved, want: "ResponseSolved"},
		{state: StateGGAKernelPrepared, want: "GGAKernelPrepared"},
		{state: StateDerivativeDensityAssembled, want: "DerivativeDensityAssembled"},
		{state: StatePropertyAssembled, want: "PropertyAssembled"},
		{state: StateDone, want: "Done"},
		{state: StateFailed, want: "Failed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}

	assert.Equal(t, "State(42)", State(42).String())
}
