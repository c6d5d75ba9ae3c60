package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/dhpolar/internal/jobfile"
	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/observability"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
)

const waterJobYAML = `name: water
molecule:
  atoms:
    - symbol: O
      xyz: [0.0, 0.0, 0.2217]
    - symbol: H
      xyz: [0.0, 1.4309, -0.8867]
    - symbol: H
      xyz: [0.0, -1.4309, -0.8867]
method:
  functional: mp2
`

func TestRunCommand_Defaults(t *testing.T) {
	t.Parallel()

	out, err := executeRun(t, noopObservabilityInit,
		"--store", filepath.Join(t.TempDir(), "container"))
	require.NoError(t, err)
	require.Contains(t, out, "xyg3 static polarizability")
	require.Contains(t, out, "alpha_iso(total)")
	require.Contains(t, out, "E(corr, PT2)")
	require.Contains(t, out, "completed in")
}

func TestRunCommand_VerboseStageTimings(t *testing.T) {
	t.Parallel()

	out, err := executeRun(t, noopObservabilityInit, "--verbose")
	require.NoError(t, err)
	require.Contains(t, out, "EnsureSCF")
	require.Contains(t, out, "PreparePolar")
}

func TestRunCommand_UnknownFunctional(t *testing.T) {
	t.Parallel()

	_, err := executeRun(t, noopObservabilityInit, "--functional", "m06-2x")
	require.ErrorIs(t, err, functional.ErrUnknownFunctional)
}

func TestRunCommand_JobFileSelectsMethod(t *testing.T) {
	t.Parallel()

	out, err := executeRun(t, noopObservabilityInit, writeJobFile(t, waterJobYAML))
	require.NoError(t, err)
	require.Contains(t, out, "job: water")
	require.Contains(t, out, "mp2 static polarizability")
}

func TestRunCommand_FunctionalFlagBeatsJobFile(t *testing.T) {
	t.Parallel()

	out, err := executeRun(t, noopObservabilityInit,
		writeJobFile(t, waterJobYAML), "--functional", "b2plyp")
	require.NoError(t, err)
	require.Contains(t, out, "b2plyp static polarizability")
}

func TestRunCommand_MissingJobFile(t *testing.T) {
	t.Parallel()

	_, err := executeRun(t, noopObservabilityInit,
		filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read job file")
}

func TestRunCommand_InvalidJobFile(t *testing.T) {
	t.Parallel()

	job := writeJobFile(t, "molecule:\n  atoms:\n    - symbol: H\n      xyz: [0, 0, 0]\n")

	_, err := executeRun(t, noopObservabilityInit, job)
	require.ErrorIs(t, err, jobfile.ErrInvalid)
}

func TestRunCommand_StrictTinyBudget_Fails(t *testing.T) {
	t.Parallel()

	// The process heap alone dwarfs half a mebibyte, so strict sizing
	// rejects the first batched stage.
	_, err := executeRun(t, noopObservabilityInit, "--budget-mb", "0.5", "--strict")
	require.ErrorIs(t, err, batch.ErrBudgetExceeded)
}

func TestRunCommand_ReportWritten(t *testing.T) {
	t.Parallel()

	reportPath := filepath.Join(t.TempDir(), "run.html")

	out, err := executeRun(t, noopObservabilityInit, "--report", reportPath)
	require.NoError(t, err)
	require.Contains(t, out, "report written to")

	info, statErr := os.Stat(reportPath)
	require.NoError(t, statErr)
	require.Positive(t, info.Size())
}

func TestRunCommand_CheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "chk")

	out, err := executeRun(t, noopObservabilityInit, "--checkpoint-dir", dir)
	require.NoError(t, err)
	require.Contains(t, out, "checkpoint written to")

	restored, err := store.Restore(
		filepath.Join(dir, checkpointContainerName),
		filepath.Join(dir, checkpointMetadataName),
		store.CompressionLZ4)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, restored.Close()) })

	require.NotEmpty(t, restored.Keys())
}

func TestRunCommand_InitializesObservability(t *testing.T) {
	t.Parallel()

	var seenCfg observability.Config

	captureInit := func(cfg observability.Config) (observability.Providers, error) {
		seenCfg = cfg

		return noopObservabilityInit(cfg)
	}

	_, err := executeRun(t, captureInit,
		"--quiet",
		"--metrics-listen", "localhost:9464",
		"--otlp-endpoint", "localhost:4317")
	require.NoError(t, err)
	require.NotEmpty(t, seenCfg.ServiceVersion)
	require.Equal(t, slog.LevelError, seenCfg.LogLevel)
	require.True(t, seenCfg.LogJSON)
	require.Equal(t, "localhost:9464", seenCfg.MetricsListen)
	require.Equal(t, "localhost:4317", seenCfg.OTLPEndpoint)
}

func TestRunCommand_ShutdownCalledOnExit(t *testing.T) {
	t.Parallel()

	var shutdownCalled bool

	initFn := func(_ observability.Config) (observability.Providers, error) {
		return observability.Providers{
			Logger: discardLogger(),
			Shutdown: func(_ context.Context) error {
				shutdownCalled = true

				return nil
			},
		}, nil
	}

	_, err := executeRun(t, initFn)
	require.NoError(t, err)
	require.True(t, shutdownCalled, "providers.Shutdown must be called on exit")
}

func TestRunCommand_ExportsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	initFn := func(_ observability.Config) (observability.Providers, error) {
		return observability.Providers{
			Tracer:   tp.Tracer("dhpolar"),
			Logger:   discardLogger(),
			Shutdown: func(_ context.Context) error { return nil },
		}, nil
	}

	_, err := executeRun(t, initFn)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range exporter.GetSpans() {
		names[span.Name] = true
	}

	require.True(t, names["dhpolar.run"], "root span should be exported")
	require.True(t, names["dhpolar.stage"], "stage spans should be exported")
}

func executeRun(t *testing.T, initFn observabilityInitializer, args ...string) (string, error) {
	t.Helper()

	cmd := newRunCommandWithDeps(initFn)

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// Nil args would make cobra fall back to os.Args.
	cmd.SetArgs(append([]string{}, args...))

	err := cmd.Execute()

	return out.String(), err
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopObservabilityInit(_ observability.Config) (observability.Providers, error) {
	return observability.Providers{
		Logger:   discardLogger(),
		Shutdown: func(_ context.Context) error { return nil },
	}, nil
}
