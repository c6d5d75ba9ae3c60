// Package commands implements CLI command handlers for dhpolar.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/dhpolar/internal/jobfile"
	"github.com/Sumatoshi-tech/dhpolar/internal/report"
	"github.com/Sumatoshi-tech/dhpolar/pkg/config"
	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/observability"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib/model"
	"github.com/Sumatoshi-tech/dhpolar/pkg/response"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/version"
)

// Checkpoint artifact names inside a --checkpoint-dir.
const (
	checkpointContainerName = "container"
	checkpointMetadataName  = "residents.gob"
)

// observabilityInitializer builds telemetry providers from a config.
// Injected so tests can execute commands without exporters.
type observabilityInitializer func(observability.Config) (observability.Providers, error)

// RunCommand holds configuration and dependencies for the run command.
type RunCommand struct {
	configPath     string
	functionalName string
	budgetMB       float64
	strict         bool
	storePath      string
	reportPath     string
	checkpointDir  string
	maxCycle       int
	tol            float64
	optimized      bool
	metricsListen  string
	otlpEndpoint   string
	quiet          bool
	verbose        bool
	noColor        bool

	initObservability observabilityInitializer
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return newRunCommandWithDeps(observability.Init)
}

func newRunCommandWithDeps(initFn observabilityInitializer) *cobra.Command {
	rc := &RunCommand{initObservability: initFn}

	cmd := &cobra.Command{
		Use:   "run [job.yaml]",
		Short: "Run the response pipeline for one reference system",
		Long: `Run the polarizability pipeline: converge the reference, solve the
coupled-perturbed equations and assemble the doubly hybrid response.

The optional argument is a YAML job file describing the molecule and
method. Without one the configured model dimensions are used directly.
Configuration comes from --config, a dhpolar.yaml on the search path and
DHPOLAR_* environment variables; flags win over all of them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.configPath, "config", "", "Config file path (default: dhpolar.yaml on the search path)")
	cmd.Flags().StringVarP(&rc.functionalName, "functional", "f", "", "Doubly hybrid functional (overrides job file and config)")
	cmd.Flags().Float64Var(&rc.budgetMB, "budget-mb", 0, "Advisory working-set budget in MiB (0 = unbudgeted)")
	cmd.Flags().BoolVar(&rc.strict, "strict", false, "Fail instead of degrading batches when the budget is too small")
	cmd.Flags().StringVar(&rc.storePath, "store", "", "Tensor store directory (default: run-scoped temporary dir)")
	cmd.Flags().StringVar(&rc.reportPath, "report", "", "Write an HTML run report to this path")
	cmd.Flags().StringVar(&rc.checkpointDir, "checkpoint-dir", "", "Checkpoint the store into this directory after the run")
	cmd.Flags().IntVar(&rc.maxCycle, "max-cycle", 0, "Response solver iteration cap (0 = config value)")
	cmd.Flags().Float64Var(&rc.tol, "tol", 0, "Response solver convergence threshold (0 = config value)")
	cmd.Flags().BoolVar(&rc.optimized, "optimized", true, "Use the reordered contraction kernels")
	cmd.Flags().StringVar(&rc.metricsListen, "metrics-listen", "", "Prometheus scrape address (e.g. localhost:9464)")
	cmd.Flags().StringVar(&rc.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector address")
	cmd.Flags().BoolVarP(&rc.quiet, "quiet", "q", false, "Log errors only")
	cmd.Flags().BoolVarP(&rc.verbose, "verbose", "v", false, "Include the per-stage timing table")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	if rc.noColor {
		color.NoColor = true //nolint:reassign // intentional override of library global
	}

	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}

	rc.applyOverrides(cmd, cfg)

	var job *jobfile.Job

	if len(args) > 0 {
		job, err = jobfile.Load(args[0])
		if err != nil {
			return err
		}
	}

	providers, err := rc.initObservability(rc.observabilityConfig(cmd, cfg))
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		if providers.Shutdown != nil {
			_ = providers.Shutdown(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rc.execute(ctx, cmd, cfg, job, providers)
}

// applyOverrides layers changed flags over the loaded config.
func (rc *RunCommand) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("budget-mb") {
		cfg.Memory.BudgetMB = rc.budgetMB
	}

	if flags.Changed("strict") {
		cfg.Memory.Strict = rc.strict
	}

	if flags.Changed("store") {
		cfg.Store.Path = rc.storePath
	}

	if flags.Changed("max-cycle") {
		cfg.Response.MaxCycle = rc.maxCycle
	}

	if flags.Changed("tol") {
		cfg.Response.Tol = rc.tol
	}

	if flags.Changed("optimized") {
		cfg.Contraction.Optimized = rc.optimized
	}

	if flags.Changed("metrics-listen") {
		cfg.Observability.MetricsListen = rc.metricsListen
	}

	if flags.Changed("otlp-endpoint") {
		cfg.Observability.OTLPEndpoint = rc.otlpEndpoint
	}

	if flags.Changed("report") {
		cfg.Observability.ReportPath = rc.reportPath
	}
}

func (rc *RunCommand) observabilityConfig(cmd *cobra.Command, cfg *config.Config) observability.Config {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.MetricsListen = cfg.Observability.MetricsListen
	obsCfg.LogJSON = strings.EqualFold(cfg.Logging.Format, "json")
	obsCfg.LogLevel = parseLogLevel(cfg.Logging.Level)
	obsCfg.LogWriter = logWriter(cmd, cfg.Logging.Output)

	if rc.quiet {
		obsCfg.LogLevel = slog.LevelError
	}

	return obsCfg
}

// parseLogLevel maps a config level string to a slog level. Unknown
// strings fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logWriter maps the configured log output onto the command's streams so
// tests capture log lines along with everything else.
func logWriter(cmd *cobra.Command, output string) io.Writer {
	if strings.EqualFold(output, "stdout") {
		return cmd.OutOrStdout()
	}

	return cmd.ErrOrStderr()
}

func (rc *RunCommand) execute(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *config.Config,
	job *jobfile.Job,
	providers observability.Providers,
) error {
	fn, err := rc.resolveFunctional(cmd, cfg, job)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, job)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = st.Close()
	}()

	cpks := qclib.CPKSOptions{MaxCycle: cfg.Response.MaxCycle, Tol: cfg.Response.Tol}
	if job != nil {
		cpks = job.CPKSOptions(cpks)
	}

	driver, err := response.NewDriver(response.Options{
		Engine:     eng,
		Store:      st,
		Functional: fn,
		BudgetMB:   cfg.Memory.BudgetMB,
		Strict:     cfg.Memory.Strict,
		Optimized:  cfg.Contraction.Optimized,
		CPKS:       cpks,
		Logger:     providers.Logger,
		Tracer:     providers.Tracer,
		Meter:      providers.Meter,
	})
	if err != nil {
		return err
	}

	ctx, span := rootSpan(ctx, providers, fn.Name)
	defer span.End()

	started := time.Now()
	res, runErr := driver.Run(ctx)
	wall := time.Since(started)

	recordRunMetrics(ctx, providers, fn.Name, runErr, wall, st)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())

		return fmt.Errorf("run %s: %w", fn.Name, runErr)
	}

	if job != nil && job.Name != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "job: %s\n", job.Name)
	}

	writeResult(cmd.OutOrStdout(), res, wall, rc.verbose)

	return rc.writeArtifacts(cmd.OutOrStdout(), cfg, res, st, wall)
}

// resolveFunctional applies precedence: flag, then job file, then config.
func (rc *RunCommand) resolveFunctional(
	cmd *cobra.Command, cfg *config.Config, job *jobfile.Job,
) (functional.Functional, error) {
	name := cfg.Functional.Default

	if job != nil && job.Method.Functional != "" {
		name = job.Method.Functional
	}

	if cmd.Flags().Changed("functional") {
		name = rc.functionalName
	}

	return functional.Parse(name)
}

func buildEngine(cfg *config.Config, job *jobfile.Job) (*model.Engine, error) {
	prm := model.Params{
		Seed:  cfg.Model.Seed,
		NAO:   cfg.Model.NAO,
		NAux:  cfg.Model.NAux,
		NGrid: cfg.Model.NGrid,
		NOcc:  cfg.Model.NOcc,
	}

	if job != nil {
		var err error

		prm, err = job.Params(prm)
		if err != nil {
			return nil, err
		}
	}

	return model.New(prm)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	comp := store.CompressionLZ4
	if strings.EqualFold(cfg.Store.Compression, "none") {
		comp = store.CompressionNone
	}

	return store.New(store.Config{Path: cfg.Store.Path, Compression: comp})
}

// rootSpan opens the run-level span. The driver's stage spans become its
// children through the returned context.
func rootSpan(
	ctx context.Context, providers observability.Providers, fnName string,
) (context.Context, trace.Span) {
	tracer := providers.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("dhpolar")
	}

	return tracer.Start(ctx, "dhpolar.run",
		trace.WithAttributes(attribute.String("functional", fnName)))
}

// recordRunMetrics publishes the per-run instruments. A failure here only
// loses telemetry, never the run.
func recordRunMetrics(
	ctx context.Context,
	providers observability.Providers,
	fnName string,
	runErr error,
	wall time.Duration,
	st *store.Store,
) {
	if providers.Meter == nil {
		return
	}

	rm, err := observability.NewRunMetrics(providers.Meter)
	if err != nil {
		return
	}

	rm.RecordRun(ctx, fnName, runErr, wall)

	stats := st.Stats()
	rm.RecordStoreTraffic(ctx, stats.BytesRead, stats.BytesWritten)
}

// writeArtifacts emits the optional HTML report and store checkpoint.
func (rc *RunCommand) writeArtifacts(
	w io.Writer,
	cfg *config.Config,
	res *response.Result,
	st *store.Store,
	wall time.Duration,
) error {
	if cfg.Observability.ReportPath != "" {
		err := report.Build(res, st, wall).WriteFile(cfg.Observability.ReportPath)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "report written to %s\n", cfg.Observability.ReportPath)
	}

	if rc.checkpointDir != "" {
		err := checkpointStore(st, rc.checkpointDir)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "checkpoint written to %s\n", rc.checkpointDir)
	}

	return nil
}

// checkpointStore snapshots the container plus resident set under dir. The
// container copy must not already exist, so a rerun needs a fresh dir.
func checkpointStore(st *store.Store, dir string) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("create checkpoint dir %s: %w", dir, err)
	}

	return st.Checkpoint(
		filepath.Join(dir, checkpointContainerName),
		filepath.Join(dir, checkpointMetadataName),
	)
}
