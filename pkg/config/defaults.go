package config

// Store defaults.
const (
	DefaultStorePath        = ""
	DefaultStoreCompression = "lz4"
)

// Memory defaults.
const (
	DefaultMemoryBudgetMB = 2048.0
	DefaultMemoryStrict   = false
)

// Response solver defaults.
const (
	DefaultResponseMaxCycle = 64
	DefaultResponseTol      = 1e-9
)

// Model engine defaults. They mirror the model package so a bare run
// works without a config file.
const (
	DefaultModelSeed  = int64(1)
	DefaultModelNAO   = 8
	DefaultModelNAux  = 12
	DefaultModelNGrid = 24
	DefaultModelNOcc  = 3
)

// Contraction defaults.
const (
	DefaultContractionOptimized = true
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
)

// Functional default.
const (
	DefaultFunctional = "xyg3"
)
