// Package config provides configuration loading and validation for the dhpolar
// pipeline and its command line front end.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/dhpolar/pkg/functional"
)

// Sentinel validation errors.
var (
	ErrInvalidBudget      = errors.New("memory budget must be non-negative")
	ErrInvalidMaxCycle    = errors.New("response max cycle must be positive")
	ErrInvalidTolerance   = errors.New("response tolerance must be positive")
	ErrInvalidDimension   = errors.New("model dimension must be positive")
	ErrOccExceedsBasis    = errors.New("occupied count must stay below the basis size")
	ErrUnknownCompression = errors.New("unknown store compression")
)

// Config holds all configuration for a dhpolar run.
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Response      ResponseConfig      `mapstructure:"response"`
	Model         ModelConfig         `mapstructure:"model"`
	Contraction   ContractionConfig   `mapstructure:"contraction"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Functional    FunctionalConfig    `mapstructure:"functional"`
}

// StoreConfig holds tensor store configuration.
type StoreConfig struct {
	// Path is the container directory. Empty means a run-scoped
	// temporary directory.
	Path string `mapstructure:"path"`

	// Compression selects the page codec, "lz4" or "none".
	Compression string `mapstructure:"compression"`
}

// MemoryConfig holds the advisory working-set budget.
type MemoryConfig struct {
	// BudgetMB caps batch sizing. Zero means unbudgeted.
	BudgetMB float64 `mapstructure:"budget_mb"`

	// Strict turns budget overruns into hard errors instead of
	// single-row batches.
	Strict bool `mapstructure:"strict"`
}

// ResponseConfig holds coupled-perturbed solver configuration.
type ResponseConfig struct {
	MaxCycle int     `mapstructure:"max_cycle"`
	Tol      float64 `mapstructure:"tol"`
}

// ModelConfig holds the deterministic model engine dimensions.
type ModelConfig struct {
	Seed  int64 `mapstructure:"seed"`
	NAO   int   `mapstructure:"nao"`
	NAux  int   `mapstructure:"naux"`
	NGrid int   `mapstructure:"ngrid"`
	NOcc  int   `mapstructure:"nocc"`
}

// ContractionConfig selects contraction kernel variants.
type ContractionConfig struct {
	Optimized bool `mapstructure:"optimized"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ObservabilityConfig holds export endpoints. Empty fields disable the
// corresponding exporter.
type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	OTLPInsecure  bool   `mapstructure:"otlp_insecure"`
	MetricsListen string `mapstructure:"metrics_listen"`
	ReportPath    string `mapstructure:"report_path"`
}

// FunctionalConfig selects the doubly hybrid evaluated by default.
type FunctionalConfig struct {
	Default string `mapstructure:"default"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("dhpolar")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/dhpolar")
	}

	viperCfg.SetEnvPrefix("DHPOLAR")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Store defaults.
	viperCfg.SetDefault("store.path", DefaultStorePath)
	viperCfg.SetDefault("store.compression", DefaultStoreCompression)

	// Memory defaults.
	viperCfg.SetDefault("memory.budget_mb", DefaultMemoryBudgetMB)
	viperCfg.SetDefault("memory.strict", DefaultMemoryStrict)

	// Response solver defaults.
	viperCfg.SetDefault("response.max_cycle", DefaultResponseMaxCycle)
	viperCfg.SetDefault("response.tol", DefaultResponseTol)

	// Model engine defaults.
	viperCfg.SetDefault("model.seed", DefaultModelSeed)
	viperCfg.SetDefault("model.nao", DefaultModelNAO)
	viperCfg.SetDefault("model.naux", DefaultModelNAux)
	viperCfg.SetDefault("model.ngrid", DefaultModelNGrid)
	viperCfg.SetDefault("model.nocc", DefaultModelNOcc)

	// Contraction defaults.
	viperCfg.SetDefault("contraction.optimized", DefaultContractionOptimized)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.format", DefaultLogFormat)
	viperCfg.SetDefault("logging.output", DefaultLogOutput)

	// Observability defaults.
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.metrics_listen", "")
	viperCfg.SetDefault("observability.report_path", "")

	// Functional default.
	viperCfg.SetDefault("functional.default", DefaultFunctional)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Memory.BudgetMB < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidBudget, config.Memory.BudgetMB)
	}

	if config.Response.MaxCycle <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxCycle, config.Response.MaxCycle)
	}

	if config.Response.Tol <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidTolerance, config.Response.Tol)
	}

	for _, dim := range []struct {
		name  string
		value int
	}{
		{name: "nao", value: config.Model.NAO},
		{name: "naux", value: config.Model.NAux},
		{name: "ngrid", value: config.Model.NGrid},
		{name: "nocc", value: config.Model.NOcc},
	} {
		if dim.value <= 0 {
			return fmt.Errorf("%w: %s = %d", ErrInvalidDimension, dim.name, dim.value)
		}
	}

	if config.Model.NOcc >= config.Model.NAO {
		return fmt.Errorf("%w: nocc = %d, nao = %d", ErrOccExceedsBasis, config.Model.NOcc, config.Model.NAO)
	}

	switch strings.ToLower(config.Store.Compression) {
	case "lz4", "none":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCompression, config.Store.Compression)
	}

	if _, err := functional.Parse(config.Functional.Default); err != nil {
		return fmt.Errorf("default functional: %w", err)
	}

	return nil
}
