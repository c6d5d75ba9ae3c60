package response

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/dhpolar/pkg/batch"
	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

const tracerName = "github.com/Sumatoshi-tech/dhpolar/pkg/response"

// State is the pipeline phase a driver has completed.
type State uint8

// Pipeline states in schedule order. GGAKernelPrepared is reached only when
// the self-consistent functional carries a grid kernel; Failed is terminal.
const (
	StateInitialized State = iota + 1
	StateSCFDone
	StatePerturbationPrepared
	StateIntegralsPrepared
	StateResponseSolved
	StateGGAKernelPrepared
	StateDerivativeDensityAssembled
	StatePropertyAssembled
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateSCFDone:
		return "SCFDone"
	case StatePerturbationPrepared:
		return "PerturbationPrepared"
	case StateIntegralsPrepared:
		return "IntegralsPrepared"
	case StateResponseSolved:
		return "ResponseSolved"
	case StateGGAKernelPrepared:
		return "GGAKernelPrepared"
	case StateDerivativeDensityAssembled:
		return "DerivativeDensityAssembled"
	case StatePropertyAssembled:
		return "PropertyAssembled"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Options configures a Driver. Engine, Store and Functional are required;
// everything else has a usable zero value.
type Options struct {
	// Engine supplies integrals, Fock builds and grid evaluation.
	Engine qclib.Engine

	// Store receives every intermediate tensor of the run.
	Store *store.Store

	// Functional selects the doubly hybrid the pipeline evaluates.
	Functional functional.Functional

	// BudgetMB caps the advisory working-set estimate used to size
	// batches. Zero means unbudgeted.
	BudgetMB float64

	// Strict fails a stage when the budget cannot fit even one batch row
	// instead of degrading to row-at-a-time batches. Meaningless without
	// a budget.
	Strict bool

	// Optimized selects the reordered contraction kernels.
	Optimized bool

	// CPKS overrides response solver defaults where non-zero.
	CPKS qclib.CPKSOptions

	// Logger, Tracer and Meter default to slog.Default and the global
	// OpenTelemetry providers.
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// pipelineStage is one schedule row. Stages with after advance the driver
// state on completion; advanceOnSkip keeps mandatory transitions when a
// grid-only stage is skipped.
type pipelineStage struct {
	name          string
	ggaOnly       bool
	after         State
	advanceOnSkip bool
	run           func(context.Context) error
}

// Driver runs the polarizability schedule over one reference system.
type Driver struct {
	eng    qclib.Engine
	st     *store.Store
	fn     functional.Functional
	con    tensor.Contractor
	acct   batch.Accountant
	strict bool
	cpks   qclib.CPKSOptions

	logger   *slog.Logger
	tracer   trace.Tracer
	stageDur metric.Float64Histogram

	state State
	gga   bool

	ref     *qclib.Reference
	result  *Result
	timings []StageTiming
}

// NewDriver validates options and resolves the self-consistent functional
// class. The store may be empty or carry a checkpoint from a previous run;
// the driver only ever writes fresh keys.
func NewDriver(opts Options) (*Driver, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrUsage)
	}

	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrUsage)
	}

	if opts.Functional.Name == "" {
		return nil, fmt.Errorf("%w: functional is required", ErrUsage)
	}

	xct, err := opts.Engine.XCType(opts.Functional.SCF)
	if err != nil {
		return nil, fmt.Errorf("classify functional %q: %w", opts.Functional.Name, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter(tracerName)
	}

	stageDur, err := meter.Float64Histogram(
		"dhpolar.stage.duration",
		metric.WithDescription("Wall time per pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("stage duration histogram unavailable", "error", err)

		stageDur = nil
	}

	return &Driver{
		eng:      opts.Engine,
		st:       opts.Store,
		fn:       opts.Functional,
		con:      tensor.NewContractor(opts.Optimized),
		acct:     batch.Accountant{BudgetMB: opts.BudgetMB},
		strict:   opts.Strict,
		cpks:     opts.CPKS,
		logger:   logger,
		tracer:   tracer,
		stageDur: stageDur,
		state:    StateInitialized,
		gga:      xct == qclib.XCTypeGGA,
		result:   &Result{Functional: opts.Functional.Name},
	}, nil
}

// State returns the phase the driver has completed.
func (d *Driver) State() State {
	return d.state
}

// Reference returns the converged reference, nil before the SCF stage ran.
func (d *Driver) Reference() *qclib.Reference {
	return d.ref
}

// schedule is the fixed stage order. Grid-only stages are skipped for
// functionals whose self-consistent reference has no grid kernel.
func (d *Driver) schedule() []pipelineStage {
	return []pipelineStage{
		{name: "EnsureSCF", after: StateSCFDone, run: d.ensureSCF},
		{name: "PrepareH1", after: StatePerturbationPrepared, run: d.prepareH1},
		{name: "PrepareIntegral", run: d.prepareIntegral},
		{name: "PrepareXCKernel", ggaOnly: true, after: StateIntegralsPrepared, advanceOnSkip: true, run: d.prepareXCKernel},
		{name: "PreparePT2", run: d.preparePT2},
		{name: "PrepareLagrangian", run: d.prepareLagrangian},
		{name: "PrepareDr", run: d.prepareDr},
		{name: "PrepareU1", after: StateResponseSolved, run: d.prepareU1},
		{name: "PrepareDmU", ggaOnly: true, run: d.prepareDmU},
		{name: "PreparePolarAx1GGA", ggaOnly: true, after: StateGGAKernelPrepared, run: d.preparePolarAx1GGA},
		{name: "PreparePdAF0mo", run: d.preparePdAF0MO},
		{name: "PreparePdAYiaRI", run: d.preparePdAYiaRI},
		{name: "PreparePT2Deriv", after: StateDerivativeDensityAssembled, run: d.preparePT2Deriv},
		{name: "PreparePolar", after: StatePropertyAssembled, run: d.preparePolar},
	}
}

// Run executes every stage in order and returns the assembled result. The
// first stage error aborts the schedule and leaves the driver Failed; a
// driver cannot be run twice.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	if d.state != StateInitialized {
		return nil, fmt.Errorf("%w: state %s", ErrAlreadyRun, d.state)
	}

	d.logger.InfoContext(ctx, "pipeline starting",
		"functional", d.fn.Name,
		"gga", d.gga,
		"xdh", d.fn.IsXDH(),
		"budget_mb", d.acct.BudgetMB)

	for i, stage := range d.schedule() {
		if stage.ggaOnly && !d.gga {
			d.logger.DebugContext(ctx, "stage skipped", "stage", stage.name)

			if stage.after != 0 && stage.advanceOnSkip {
				d.transition(ctx, stage.after)
			}

			continue
		}

		if err := d.runStage(ctx, i, stage); err != nil {
			d.state = StateFailed

			return nil, fmt.Errorf("stage %s: %w", stage.name, err)
		}

		if stage.after != 0 {
			d.transition(ctx, stage.after)
		}
	}

	d.transition(ctx, StateDone)

	d.result.Stages = d.timings

	return d.result, nil
}

func (d *Driver) runStage(ctx context.Context, idx int, stage pipelineStage) error {
	ctx, span := d.tracer.Start(ctx, "dhpolar.stage", trace.WithAttributes(
		attribute.String("stage.name", stage.name),
		attribute.Int("stage.index", idx+1),
	))
	defer span.End()

	d.logger.InfoContext(ctx, "stage starting", "stage", stage.name)

	start := time.Now()
	err := stage.run(ctx)
	elapsed := time.Since(start)

	if d.stageDur != nil {
		d.stageDur.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("stage.name", stage.name)))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.ErrorContext(ctx, "stage failed",
			"stage", stage.name, "elapsed", elapsed, "error", err)

		return err
	}

	snap := batch.TakeHeapSnapshot()
	d.timings = append(d.timings, StageTiming{
		Name:      stage.name,
		Elapsed:   elapsed,
		HeapAlloc: snap.HeapAlloc,
	})

	d.logger.InfoContext(ctx, "stage complete",
		"stage", stage.name,
		"elapsed", elapsed,
		"heap_mb", float64(snap.HeapAlloc)/(1<<20))

	return nil
}

func (d *Driver) transition(ctx context.Context, next State) {
	d.logger.DebugContext(ctx, "state transition",
		"from", d.state.String(), "to", next.String())

	d.state = next
}

// unbudgetedMB stands in for the advisory budget when none is configured.
// Large enough that every plan collapses to a single span, small enough
// that chunk arithmetic stays inside int64.
const unbudgetedMB = 1 << 30

// availMB returns the advisory headroom for batch sizing.
func (d *Driver) availMB() float64 {
	if d.acct.BudgetMB <= 0 {
		return unbudgetedMB
	}

	return d.acct.AvailableMB()
}

// chunk sizes one batch dimension against the advisory headroom. Strict
// mode turns an oversubscribed baseline into an error instead of a
// single-row batch.
func (d *Driver) chunk(unitCost, baseline int) (int, error) {
	if d.strict {
		return batch.ChunkSizeStrict(unitCost, d.availMB(), baseline)
	}

	return batch.ChunkSize(unitCost, d.availMB(), baseline), nil
}

// require fails with ErrPrecondition when any key is absent from the store.
func (d *Driver) require(keys ...string) error {
	for _, key := range keys {
		if !d.st.Has(key) {
			return fmt.Errorf("%w: key %q", ErrPrecondition, key)
		}
	}

	return nil
}

// occ, vir and full are span shorthands over the reference orbitals.
func (d *Driver) occ() batch.Span { return d.ref.OccSpan() }

func (d *Driver) vir() batch.Span { return d.ref.VirSpan() }

func (d *Driver) full() batch.Span { return d.ref.FullSpan() }
