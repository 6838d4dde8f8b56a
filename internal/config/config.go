// Package config defines the configuration structures for gnn-opf.  No I/O or
// parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// NetworkConfig selects the grid model.  ConfigPath wins over Case when both
// are set.
type NetworkConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	Case       string `mapstructure:"case"`
}

// PipelineConfig holds the five run parameters plus the random seed.
type PipelineConfig struct {
	NumScenarios  int     `mapstructure:"num_scenarios"`
	LoadVariation float64 `mapstructure:"load_variation"`
	Epochs        int     `mapstructure:"epochs"`
	BatchSize     int     `mapstructure:"batch_size"`
	LearningRate  float64 `mapstructure:"learning_rate"`
	Seed          uint64  `mapstructure:"seed"`
}

// ScenarioConfig controls how scenario costs are produced.
type ScenarioConfig struct {
	CostModel     string  `mapstructure:"cost_model"` // "dcopf" | "synthetic"
	BaseCost      float64 `mapstructure:"base_cost"`
	CostNoise     float64 `mapstructure:"cost_noise"`
	RequireSolved bool    `mapstructure:"require_solved"`
	// SolverFailureThreshold is the number of consecutive failed solves after
	// which the remaining scenarios skip the solver.
	SolverFailureThreshold uint32 `mapstructure:"solver_failure_threshold"`
}

// BaselineConfig holds the MLP dimensions.
type BaselineConfig struct {
	HiddenDim int `mapstructure:"hidden_dim"`
	Features  int `mapstructure:"features"` // 1: scenario, 2: scenario + bus1_load
}

// GNNConfig holds the graph predictor dimensions and loss shaping.
type GNNConfig struct {
	HiddenDim        int     `mapstructure:"hidden_dim"`
	Readout          string  `mapstructure:"readout"`       // "mean" | "sum" | "attention"
	NodeFeatures     string  `mapstructure:"node_features"` // "voltage" | "load" | "voltage_load"
	PenaltyReference float64 `mapstructure:"penalty_reference"`
	PenaltyWeight    float64 `mapstructure:"penalty_weight"`
	// AdoptCheckpoint loads a checkpoint's recorded architecture instead of
	// rejecting one that differs from the settings above.
	AdoptCheckpoint bool `mapstructure:"adopt_checkpoint"`
}

// PathsConfig locates run artifacts.  Relative file names are resolved
// against DataDir.
type PathsConfig struct {
	DataDir            string `mapstructure:"data_dir"`
	ScenariosCSV       string `mapstructure:"scenarios_csv"`
	Checkpoint         string `mapstructure:"checkpoint"`
	BaselineCheckpoint string `mapstructure:"baseline_checkpoint"`
	Report             string `mapstructure:"report"`
}

// Resolve joins a relative artifact name onto DataDir.  Absolute names are
// returned unchanged.
func (p PathsConfig) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || p.DataDir == "" {
		return name
	}
	return filepath.Join(p.DataDir, name)
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	UseSSL         bool          `mapstructure:"use_ssl"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig selects where artifacts are mirrored after a run.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"` // "local" | "minio"
	MinIO   MinIOConfig `mapstructure:"minio"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Network  NetworkConfig  `mapstructure:"network"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Scenario ScenarioConfig `mapstructure:"scenario"`
	Baseline BaselineConfig `mapstructure:"baseline"`
	GNN      GNNConfig      `mapstructure:"gnn"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first error encountered.
func (c *Config) Validate() error {
	if c.Network.ConfigPath == "" && c.Network.Case == "" {
		return fmt.Errorf("config: one of network.config_path or network.case is required")
	}

	// Pipeline
	if c.Pipeline.NumScenarios < 1 {
		return fmt.Errorf("config: pipeline.num_scenarios must be ≥ 1, got %d", c.Pipeline.NumScenarios)
	}
	if c.Pipeline.LoadVariation <= 0 || c.Pipeline.LoadVariation >= 1 {
		return fmt.Errorf("config: pipeline.load_variation %g is outside (0, 1)", c.Pipeline.LoadVariation)
	}
	if c.Pipeline.Epochs < 1 {
		return fmt.Errorf("config: pipeline.epochs must be ≥ 1, got %d", c.Pipeline.Epochs)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("config: pipeline.batch_size must be ≥ 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.LearningRate <= 0 {
		return fmt.Errorf("config: pipeline.learning_rate must be > 0, got %g", c.Pipeline.LearningRate)
	}

	// Scenario
	switch c.Scenario.CostModel {
	case "dcopf", "synthetic":
	default:
		return fmt.Errorf("config: scenario.cost_model %q is invalid; expected dcopf|synthetic", c.Scenario.CostModel)
	}
	if c.Scenario.BaseCost <= 0 {
		return fmt.Errorf("config: scenario.base_cost must be > 0, got %g", c.Scenario.BaseCost)
	}
	if c.Scenario.CostNoise < 0 || c.Scenario.CostNoise >= 1 {
		return fmt.Errorf("config: scenario.cost_noise %g is outside [0, 1)", c.Scenario.CostNoise)
	}
	if c.Scenario.RequireSolved && c.Scenario.CostModel == "synthetic" {
		return fmt.Errorf("config: scenario.require_solved cannot be combined with cost_model synthetic")
	}

	// Models
	if c.Baseline.HiddenDim < 1 {
		return fmt.Errorf("config: baseline.hidden_dim must be ≥ 1, got %d", c.Baseline.HiddenDim)
	}
	if c.Baseline.Features != 1 && c.Baseline.Features != 2 {
		return fmt.Errorf("config: baseline.features must be 1 or 2, got %d", c.Baseline.Features)
	}
	if c.GNN.HiddenDim < 1 {
		return fmt.Errorf("config: gnn.hidden_dim must be ≥ 1, got %d", c.GNN.HiddenDim)
	}
	switch c.GNN.Readout {
	case "mean", "sum", "attention":
	default:
		return fmt.Errorf("config: gnn.readout %q is invalid; expected mean|sum|attention", c.GNN.Readout)
	}
	switch c.GNN.NodeFeatures {
	case "voltage", "load", "voltage_load":
	default:
		return fmt.Errorf("config: gnn.node_features %q is invalid; expected voltage|load|voltage_load", c.GNN.NodeFeatures)
	}
	if c.GNN.PenaltyWeight < 0 {
		return fmt.Errorf("config: gnn.penalty_weight must be ≥ 0, got %g", c.GNN.PenaltyWeight)
	}

	// Paths
	if c.Paths.ScenariosCSV == "" || c.Paths.Checkpoint == "" {
		return fmt.Errorf("config: paths.scenarios_csv and paths.checkpoint are required")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	// Storage
	switch c.Storage.Backend {
	case "local":
	case "minio":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return fmt.Errorf("config: storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: storage.backend %q is invalid; expected local|minio", c.Storage.Backend)
	}

	return nil
}
