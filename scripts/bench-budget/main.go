// bench-budget measures heap memory and store traffic of a full response
// run across a sweep of memory budgets on one model molecule.
//
// Usage:
//
//	go run ./scripts/bench-budget --functional xyg3 --nao 24 --nocc 8 \
//	  --budgets 2048,512,128 --profile-dir docs/profiles/budget-sweep
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
	"github.com/Sumatoshi-tech/dhpolar/pkg/persist"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib"
	"github.com/Sumatoshi-tech/dhpolar/pkg/qclib/model"
	"github.com/Sumatoshi-tech/dhpolar/pkg/response"
	"github.com/Sumatoshi-tech/dhpolar/pkg/store"
)

type runStats struct {
	BudgetMB     float64       `json:"budget_mb"`
	Wall         time.Duration `json:"wall_ns"`
	PeakHeap     int64         `json:"peak_heap_bytes"`
	BytesRead    int64         `json:"bytes_read"`
	BytesWritten int64         `json:"bytes_written"`
	HeapInUse    uint64        `json:"heap_inuse_bytes"`
}

func main() {
	functionalName := flag.String("functional", "xyg3", "Functional to benchmark")
	nao := flag.Int("nao", 24, "Orbital basis size")
	naux := flag.Int("naux", 36, "Auxiliary basis size")
	ngrid := flag.Int("ngrid", 96, "Quadrature grid size")
	nocc := flag.Int("nocc", 8, "Occupied orbital count")
	seed := flag.Int64("seed", 1, "Model seed")
	budgetsFlag := flag.String("budgets", "2048,512,128", "Comma-separated memory budgets in MiB")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	if *profileDir == "" {
		log.Fatal("--profile-dir is required")
	}

	if err := os.MkdirAll(*profileDir, 0o755); err != nil {
		log.Fatalf("mkdir profile-dir: %v", err)
	}

	if *cpuProfile {
		cpuPath := filepath.Join(*profileDir, "cpu.prof")

		cpuFile, cpuErr := os.Create(cpuPath)
		if cpuErr != nil {
			log.Fatalf("create cpu profile: %v", cpuErr)
		}
		defer cpuFile.Close()

		if startErr := pprof.StartCPUProfile(cpuFile); startErr != nil {
			log.Fatalf("start cpu profile: %v", startErr)
		}

		defer pprof.StopCPUProfile()

		log.Printf("CPU profiling enabled -> %s", cpuPath)
	}

	fn, err := functional.Parse(*functionalName)
	if err != nil {
		log.Fatalf("functional: %v", err)
	}

	budgets := parseBudgets(*budgetsFlag)
	prm := model.Params{Seed: *seed, NAO: *nao, NAux: *naux, NGrid: *ngrid, NOcc: *nocc}

	log.Printf("sweeping %s nao=%d naux=%d ngrid=%d nocc=%d over budgets %v",
		fn.Name, prm.NAO, prm.NAux, prm.NGrid, prm.NOcc, budgets)

	results := make([]runStats, 0, len(budgets))

	for _, budget := range budgets {
		stats, runErr := runOnce(fn, prm, budget, *profileDir)
		if runErr != nil {
			log.Fatalf("budget %.0f MiB: %v", budget, runErr)
		}

		results = append(results, stats)
	}

	// Print summary table.
	fmt.Println()
	fmt.Println("=== Budget Sweep ===")
	fmt.Printf("%12s %12s %14s %12s %12s %12s\n",
		"Budget(MiB)", "Wall", "PeakStage(MB)", "InUse(MB)", "Read(MB)", "Wrote(MB)")

	for _, r := range results {
		fmt.Printf("%12.0f %12s %14.1f %12.1f %12.1f %12.1f\n",
			r.BudgetMB,
			r.Wall.Round(time.Millisecond).String(),
			float64(r.PeakHeap)/1e6,
			float64(r.HeapInUse)/1e6,
			float64(r.BytesRead)/1e6,
			float64(r.BytesWritten)/1e6)
	}

	// Compute paging deltas relative to the widest budget.
	if len(results) > 1 {
		base := results[0]

		fmt.Println()
		fmt.Println("=== Paging Deltas vs Widest Budget ===")

		for _, r := range results[1:] {
			extra := float64(r.BytesRead+r.BytesWritten-base.BytesRead-base.BytesWritten) / 1e6
			saved := float64(base.PeakHeap-r.PeakHeap) / 1e6
			fmt.Printf("  %.0f MiB: %.1f MB peak saved for %.1f MB extra store traffic\n",
				r.BudgetMB, saved, extra)
		}
	}

	sweep := persist.NewPersister[[]runStats]("sweep", persist.NewJSONCodec())
	if err := sweep.Save(*profileDir, func() *[]runStats { return &results }); err != nil {
		log.Printf("warning: save sweep results: %v", err)
	} else {
		log.Printf("sweep results -> %s", filepath.Join(*profileDir, "sweep.json"))
	}
}

func runOnce(fn functional.Functional, prm model.Params, budgetMB float64, profileDir string) (runStats, error) {
	eng, err := model.New(prm)
	if err != nil {
		return runStats{}, fmt.Errorf("model: %w", err)
	}

	st, err := store.New(store.Config{Compression: store.CompressionLZ4})
	if err != nil {
		return runStats{}, fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	driver, err := response.NewDriver(response.Options{
		Engine:     eng,
		Store:      st,
		Functional: fn,
		BudgetMB:   budgetMB,
		Optimized:  true,
		CPKS:       qclib.CPKSOptions{MaxCycle: 64, Tol: 1e-9},
	})
	if err != nil {
		return runStats{}, fmt.Errorf("driver: %w", err)
	}

	log.Printf("running with budget %.0f MiB", budgetMB)

	start := time.Now()

	res, err := driver.Run(context.Background())
	if err != nil {
		return runStats{}, err
	}

	wall := time.Since(start)

	var peak int64
	for _, stg := range res.Stages {
		peak = max(peak, stg.HeapAlloc)
	}

	writeHeapProfile(profileDir, fmt.Sprintf("heap_budget_%.0f.prof", budgetMB))

	runtime.GC()
	runtime.GC()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := st.Stats()

	return runStats{
		BudgetMB:     budgetMB,
		Wall:         wall,
		PeakHeap:     peak,
		BytesRead:    stats.BytesRead,
		BytesWritten: stats.BytesWritten,
		HeapInUse:    m.HeapInuse,
	}, nil
}

func writeHeapProfile(dir, name string) {
	runtime.GC()
	runtime.GC()

	path := filepath.Join(dir, name)

	f, ferr := os.Create(path)
	if ferr != nil {
		log.Printf("warning: create heap profile %s: %v", path, ferr)

		return
	}
	defer f.Close()

	if perr := pprof.WriteHeapProfile(f); perr != nil {
		log.Printf("warning: write heap profile %s: %v", path, perr)
	}
}

func parseBudgets(s string) []float64 {
	parts := strings.Split(s, ",")
	budgets := make([]float64, 0, len(parts))

	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			log.Fatalf("bad budget %q (want positive MiB values)", part)
		}

		budgets = append(budgets, v)
	}

	if len(budgets) == 0 {
		log.Fatal("--budgets is empty")
	}

	return budgets
}
