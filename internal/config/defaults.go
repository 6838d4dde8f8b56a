package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultNetworkCase = "case14"

	DefaultNumScenarios  = 10
	DefaultLoadVariation = 0.3
	DefaultEpochs        = 5
	DefaultBatchSize     = 4
	DefaultLearningRate  = 0.01
	DefaultSeed          = 42

	DefaultCostModel = "dcopf"
	DefaultBaseCost  = 1000.0
	DefaultCostNoise = 0.2

	DefaultSolverFailureThreshold uint32 = 3

	DefaultBaselineHidden   = 8
	DefaultBaselineFeatures = 2

	DefaultGNNHidden        = 16
	DefaultReadout          = "mean"
	DefaultNodeFeatures     = "voltage"
	DefaultPenaltyReference = 100.0
	DefaultPenaltyWeight    = 1.0

	DefaultDataDir            = "data"
	DefaultScenariosCSV       = "opf_scenarios.csv"
	DefaultCheckpoint         = "gnn_opf_model.ckpt"
	DefaultBaselineCheckpoint = "baseline_opf_model.ckpt"
	DefaultReport             = "evaluation_report.json"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultMetricsNamespace = "gnnopf"

	DefaultStorageBackend = "local"
	DefaultMinIOBucket    = "gnn-opf-artifacts"
	DefaultMinIORegion    = "us-east-1"
	DefaultMinIOTimeout   = 10 * time.Second
)

// NewDefaultConfig returns a Config populated entirely with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-value field in cfg with its default.  Fields
// already set by the caller are left unchanged.
//
// Pipeline.Seed is the exception: 0 is treated as unset, so a run cannot be
// seeded with 0.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Network ───────────────────────────────────────────────────────────────
	if cfg.Network.ConfigPath == "" && cfg.Network.Case == "" {
		cfg.Network.Case = DefaultNetworkCase
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	if cfg.Pipeline.NumScenarios == 0 {
		cfg.Pipeline.NumScenarios = DefaultNumScenarios
	}
	if cfg.Pipeline.LoadVariation == 0 {
		cfg.Pipeline.LoadVariation = DefaultLoadVariation
	}
	if cfg.Pipeline.Epochs == 0 {
		cfg.Pipeline.Epochs = DefaultEpochs
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = DefaultBatchSize
	}
	if cfg.Pipeline.LearningRate == 0 {
		cfg.Pipeline.LearningRate = DefaultLearningRate
	}
	if cfg.Pipeline.Seed == 0 {
		cfg.Pipeline.Seed = DefaultSeed
	}

	// ── Scenario ──────────────────────────────────────────────────────────────
	if cfg.Scenario.CostModel == "" {
		cfg.Scenario.CostModel = DefaultCostModel
	}
	if cfg.Scenario.BaseCost == 0 {
		cfg.Scenario.BaseCost = DefaultBaseCost
	}
	if cfg.Scenario.CostNoise == 0 {
		cfg.Scenario.CostNoise = DefaultCostNoise
	}
	if cfg.Scenario.SolverFailureThreshold == 0 {
		cfg.Scenario.SolverFailureThreshold = DefaultSolverFailureThreshold
	}

	// ── Models ────────────────────────────────────────────────────────────────
	if cfg.Baseline.HiddenDim == 0 {
		cfg.Baseline.HiddenDim = DefaultBaselineHidden
	}
	if cfg.Baseline.Features == 0 {
		cfg.Baseline.Features = DefaultBaselineFeatures
	}
	if cfg.GNN.HiddenDim == 0 {
		cfg.GNN.HiddenDim = DefaultGNNHidden
	}
	if cfg.GNN.Readout == "" {
		cfg.GNN.Readout = DefaultReadout
	}
	if cfg.GNN.NodeFeatures == "" {
		cfg.GNN.NodeFeatures = DefaultNodeFeatures
	}
	if cfg.GNN.PenaltyReference == 0 {
		cfg.GNN.PenaltyReference = DefaultPenaltyReference
	}
	if cfg.GNN.PenaltyWeight == 0 {
		cfg.GNN.PenaltyWeight = DefaultPenaltyWeight
	}

	// ── Paths ─────────────────────────────────────────────────────────────────
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = DefaultDataDir
	}
	if cfg.Paths.ScenariosCSV == "" {
		cfg.Paths.ScenariosCSV = DefaultScenariosCSV
	}
	if cfg.Paths.Checkpoint == "" {
		cfg.Paths.Checkpoint = DefaultCheckpoint
	}
	if cfg.Paths.BaselineCheckpoint == "" {
		cfg.Paths.BaselineCheckpoint = DefaultBaselineCheckpoint
	}
	if cfg.Paths.Report == "" {
		cfg.Paths.Report = DefaultReport
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.MinIO.Bucket == "" {
		cfg.Storage.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.Storage.MinIO.Region == "" {
		cfg.Storage.MinIO.Region = DefaultMinIORegion
	}
	if cfg.Storage.MinIO.ConnectTimeout == 0 {
		cfg.Storage.MinIO.ConnectTimeout = DefaultMinIOTimeout
	}
}
