// Package pipeline wires the stages of one run together: scenario
// generation, baseline and graph predictor training, checkpoint round trip,
// evaluation and reporting.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/gnn-opf/internal/application/scenario"
	"github.com/turtacn/gnn-opf/internal/application/training"
	"github.com/turtacn/gnn-opf/internal/config"
	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/gnn-opf/internal/infrastructure/storage/minio"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_baseline"
	"github.com/turtacn/gnn-opf/internal/intelligence/opf_gnn"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Random streams derived from the run seed.  Each stage draws from its own
// stream so changing one stage leaves the others reproducible.
const (
	streamScenarios uint64 = iota + 1
	streamBaselineInit
	streamBaselineShuffle
	streamGNNInit
	streamGNNLoad
	streamBaselineLoad
)

// BaselineModel labels baseline metrics.
const BaselineModel = "baseline"

// sampleScenario and sampleLoad are the inputs of the sample baseline
// prediction printed after training.
const (
	sampleScenario = 1
	sampleLoad     = 0.5
)

// ─────────────────────────────────────────────────────────────────────────────
// Report
// ─────────────────────────────────────────────────────────────────────────────

// BaselineReport summarises baseline training.
type BaselineReport struct {
	Losses           []float64 `json:"epoch_losses"`
	SampleFeatures   []float64 `json:"sample_features"`
	SamplePrediction float64   `json:"sample_prediction"`
	Checkpoint       string    `json:"checkpoint"`
}

// GNNReport summarises graph predictor training.
type GNNReport struct {
	Losses       []float64 `json:"epoch_losses"`
	Readout      string    `json:"readout"`
	NodeFeatures string    `json:"node_features"`
	Checkpoint   string    `json:"checkpoint"`
}

// Report is the outcome of a full run.
type Report struct {
	RunID         string                      `json:"run_id"`
	Network       string                      `json:"network"`
	Seed          uint64                      `json:"seed"`
	NumScenarios  int                         `json:"num_scenarios"`
	LoadVariation float64                     `json:"load_variation"`
	Fidelity      map[string]int              `json:"fidelity"`
	ScenariosCSV  string                      `json:"scenarios_csv"`
	Baseline      BaselineReport              `json:"baseline"`
	GNN           GNNReport                   `json:"gnn"`
	Results       []training.EvaluationResult `json:"results"`
	Summary       training.Summary            `json:"summary"`
	Artifacts     []minio.ArtifactInfo        `json:"artifacts,omitempty"`
	StartedAt     time.Time                   `json:"started_at"`
	Duration      string                      `json:"duration"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Pipeline
// ─────────────────────────────────────────────────────────────────────────────

// Pipeline runs the stages configured by one Config.
type Pipeline struct {
	cfg       *config.Config
	runID     string
	logger    logging.Logger
	metrics   common.Metrics
	collector prometheus.MetricsCollector
	store     minio.ArtifactRepository
	solver    scenario.CostSolver
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger; every entry carries the run id.
func WithLogger(l logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithRunID overrides the generated run id.
func WithRunID(id string) Option { return func(p *Pipeline) { p.runID = id } }

// WithCollector reports metrics to c and writes them to the configured
// textfile at the end of Run.
func WithCollector(c prometheus.MetricsCollector) Option {
	return func(p *Pipeline) { p.collector = c }
}

// WithMetrics reports metrics to m instead of a collector.
func WithMetrics(m common.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithArtifactStore mirrors artifacts to store after a successful run.
func WithArtifactStore(store minio.ArtifactRepository) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithSolver replaces the DC-OPF cost solver; it is still wrapped in the
// circuit breaker.
func WithSolver(s scenario.CostSolver) Option { return func(p *Pipeline) { p.solver = s } }

// New validates cfg and builds a Pipeline.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.ConfigError("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigError, "invalid configuration")
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.logger = logging.OrNop(p.logger).With(logging.RunID(p.runID)).Named("pipeline")
	if p.metrics == nil && p.collector != nil {
		prometheus.RunInfo(p.collector, p.runID, cfg.Pipeline.Seed)
		p.metrics = prometheus.NewOPFMetrics(p.collector)
	}
	p.metrics = common.OrNoop(p.metrics)
	return p, nil
}

// RunID returns the run identifier.
func (p *Pipeline) RunID() string { return p.runID }

// Network loads the configured grid model.
func (p *Pipeline) Network() (*grid.Network, error) {
	return grid.Resolve(p.cfg.Network.ConfigPath, p.cfg.Network.Case)
}

func (p *Pipeline) path(name string) string { return p.cfg.Paths.Resolve(name) }

// Run executes every stage and writes the report.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	n, err := p.Network()
	if err != nil {
		return nil, err
	}
	p.logger.Info("run started",
		logging.String("network", n.Name),
		logging.Int("buses", n.NumBuses()),
		logging.Int("num_scenarios", p.cfg.Pipeline.NumScenarios),
		logging.Float64("load_variation", p.cfg.Pipeline.LoadVariation),
		logging.Any("seed", p.cfg.Pipeline.Seed))

	records, err := p.Generate(ctx, n)
	if err != nil {
		return nil, err
	}
	csvPath := p.path(p.cfg.Paths.ScenariosCSV)
	if err := scenario.SaveCSV(csvPath, n, records); err != nil {
		return nil, err
	}
	// Training reads the data back through the same loader external CSVs use.
	if records, err = scenario.LoadCSV(csvPath); err != nil {
		return nil, err
	}

	baseline, err := p.TrainBaseline(ctx, n, records)
	if err != nil {
		return nil, err
	}

	gnnReport, err := p.TrainGNN(ctx, n, records)
	if err != nil {
		return nil, err
	}

	results, summary, err := p.Evaluate(ctx, n, records, gnnReport.Checkpoint)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:         p.runID,
		Network:       n.Name,
		Seed:          p.cfg.Pipeline.Seed,
		NumScenarios:  len(records),
		LoadVariation: p.cfg.Pipeline.LoadVariation,
		Fidelity:      fidelityCounts(records),
		ScenariosCSV:  csvPath,
		Baseline:      *baseline,
		GNN:           *gnnReport,
		Results:       results,
		Summary:       summary,
		StartedAt:     started.UTC(),
		Duration:      time.Since(started).Round(time.Millisecond).String(),
	}
	reportPath := p.path(p.cfg.Paths.Report)
	if err := WriteReport(reportPath, report); err != nil {
		return nil, err
	}

	artifacts := []string{csvPath, baseline.Checkpoint, gnnReport.Checkpoint, reportPath}
	textfile, err := p.WriteMetrics()
	if err != nil {
		return nil, err
	}
	if textfile != "" {
		artifacts = append(artifacts, textfile)
	}
	if p.store != nil {
		if report.Artifacts, err = p.upload(ctx, artifacts); err != nil {
			return nil, err
		}
		// Rewrite so the stored location list is part of the local report.
		if err := WriteReport(reportPath, report); err != nil {
			return nil, err
		}
	}

	p.logger.Info("run finished",
		logging.Float64("mae", summary.MAE),
		logging.Float64("rmse", summary.RMSE),
		logging.Float64("max_error", summary.MaxError),
		logging.String("report", reportPath),
		logging.String("duration", report.Duration))
	return report, nil
}

// Generate produces the configured number of scenarios.
func (p *Pipeline) Generate(ctx context.Context, n *grid.Network) ([]scenario.Record, error) {
	sc := p.cfg.Scenario
	opts := scenario.Options{
		CostModel:     scenario.CostModel(sc.CostModel),
		BaseCost:      sc.BaseCost,
		CostNoise:     sc.CostNoise,
		RequireSolved: sc.RequireSolved,
	}
	var solver scenario.CostSolver
	if opts.CostModel == scenario.CostModelDCOPF {
		settings := scenario.DefaultBreakerSettings()
		settings.FailureThreshold = sc.SolverFailureThreshold
		solver = scenario.NewBreakerSolver(p.solver, settings, p.logger)
	}
	gen, err := scenario.NewGenerator(opts, common.NewStream(p.cfg.Pipeline.Seed, streamScenarios), solver, p.logger, p.metrics)
	if err != nil {
		return nil, err
	}
	return gen.Generate(ctx, n, p.cfg.Pipeline.NumScenarios, p.cfg.Pipeline.LoadVariation)
}

// TrainBaseline fits, saves and samples the baseline regressor.
func (p *Pipeline) TrainBaseline(ctx context.Context, n *grid.Network, records []scenario.Record) (*BaselineReport, error) {
	pc := p.cfg.Pipeline
	bcfg := &opf_baseline.Config{InputDim: p.cfg.Baseline.Features, HiddenDim: p.cfg.Baseline.HiddenDim}
	model, err := opf_baseline.NewModel(bcfg, common.NewStream(pc.Seed, streamBaselineInit), p.logger)
	if err != nil {
		return nil, err
	}
	samples := training.BaselineSamples(n, records, pc.LoadVariation, bcfg.InputDim)
	batches := float64((len(samples) + pc.BatchSize - 1) / pc.BatchSize)
	losses, err := model.Train(ctx, samples, opf_baseline.TrainOptions{
		Epochs:       pc.Epochs,
		BatchSize:    pc.BatchSize,
		LearningRate: pc.LearningRate,
		Rand:         common.NewStream(pc.Seed, streamBaselineShuffle),
		OnEpoch: func(epoch int, loss float64) {
			p.metrics.RecordEpoch(ctx, BaselineModel, epoch, loss/batches)
		},
	})
	if err != nil {
		return nil, err
	}

	ckpt := p.path(p.cfg.Paths.BaselineCheckpoint)
	err = model.Save(ckpt)
	p.metrics.RecordCheckpoint(ctx, common.CheckpointOpSave, err == nil)
	if err != nil {
		return nil, err
	}

	// The sample prediction comes from the checkpoint read back into the
	// configured architecture.
	reloaded, err := opf_baseline.NewModel(bcfg, common.NewStream(pc.Seed, streamBaselineLoad), p.logger)
	if err != nil {
		return nil, err
	}
	err = reloaded.LoadWeights(ckpt)
	p.metrics.RecordCheckpoint(ctx, common.CheckpointOpLoad, err == nil)
	if err != nil {
		return nil, err
	}

	features := opf_baseline.Features(sampleScenario, sampleLoad, bcfg.InputDim)
	pred, err := reloaded.Predict(features)
	if err != nil {
		return nil, err
	}
	p.logger.Info("baseline sample prediction",
		logging.Any("features", features), logging.Float64("prediction", pred))
	return &BaselineReport{Losses: losses, SampleFeatures: features, SamplePrediction: pred, Checkpoint: ckpt}, nil
}

func (p *Pipeline) driverOptions() training.Options {
	g := p.cfg.GNN
	return training.Options{
		Epochs:        p.cfg.Pipeline.Epochs,
		LearningRate:  p.cfg.Pipeline.LearningRate,
		LoadVariation: p.cfg.Pipeline.LoadVariation,
		NodeFeatures:  opf_gnn.NodeFeatureMode(g.NodeFeatures),
		Model: &opf_gnn.ModelConfig{
			HiddenDim:        g.HiddenDim,
			Readout:          opf_gnn.ReadoutType(g.Readout),
			PenaltyReference: g.PenaltyReference,
			PenaltyWeight:    g.PenaltyWeight,
		},
		AdoptCheckpoint: g.AdoptCheckpoint,
	}
}

// newDriver builds a graph predictor driver seeded from stream.
func (p *Pipeline) newDriver(n *grid.Network, stream uint64) (*training.Driver, error) {
	return training.NewDriver(n, p.driverOptions(), common.NewStream(p.cfg.Pipeline.Seed, stream), p.logger, p.metrics)
}

// TrainGNN fits the graph predictor and writes its checkpoint.
func (p *Pipeline) TrainGNN(ctx context.Context, n *grid.Network, records []scenario.Record) (*GNNReport, error) {
	d, err := p.newDriver(n, streamGNNInit)
	if err != nil {
		return nil, err
	}
	losses, err := d.Train(ctx, records)
	if err != nil {
		return nil, err
	}
	ckpt := p.path(p.cfg.Paths.Checkpoint)
	if err := d.Save(ctx, ckpt); err != nil {
		return nil, err
	}
	cfg := d.Model().Config()
	return &GNNReport{
		Losses:       losses,
		Readout:      string(cfg.Readout),
		NodeFeatures: string(d.NodeFeatures()),
		Checkpoint:   ckpt,
	}, nil
}

// Evaluate loads checkpoint into a fresh driver and scores every record.
func (p *Pipeline) Evaluate(ctx context.Context, n *grid.Network, records []scenario.Record, checkpoint string) ([]training.EvaluationResult, training.Summary, error) {
	d, err := p.newDriver(n, streamGNNLoad)
	if err != nil {
		return nil, training.Summary{}, err
	}
	if err := d.Load(ctx, checkpoint); err != nil {
		return nil, training.Summary{}, err
	}
	results, err := d.Evaluate(ctx, records)
	if err != nil {
		return nil, training.Summary{}, err
	}
	return results, training.Summarize(results), nil
}

// RunInference forwards the base network through the checkpointed model,
// or through a freshly initialised one when checkpoint is empty.
func (p *Pipeline) RunInference(ctx context.Context, checkpoint string) (*opf_gnn.InferenceResult, error) {
	n, err := p.Network()
	if err != nil {
		return nil, err
	}
	d, err := p.newDriver(n, streamGNNLoad)
	if err != nil {
		return nil, err
	}
	if checkpoint != "" {
		if err := d.Load(ctx, checkpoint); err != nil {
			return nil, err
		}
	}
	res, err := d.Infer(n.BaseLoads())
	if err != nil {
		return nil, err
	}
	p.logger.Info("inference finished",
		logging.Float64("prediction", res.Prediction),
		logging.Float64("penalty", res.Penalty),
		logging.Bool("trained", checkpoint != ""))
	return res, nil
}

// WriteMetrics exports the collector to the configured textfile and returns
// its path.  It is a no-op returning "" without a collector or textfile.
func (p *Pipeline) WriteMetrics() (string, error) {
	if p.collector == nil || p.cfg.Metrics.Textfile == "" {
		return "", nil
	}
	textfile := p.path(p.cfg.Metrics.Textfile)
	if err := p.collector.WriteTextfile(textfile); err != nil {
		return "", err
	}
	return textfile, nil
}

func (p *Pipeline) upload(ctx context.Context, paths []string) ([]minio.ArtifactInfo, error) {
	out := make([]minio.ArtifactInfo, 0, len(paths))
	for _, path := range paths {
		info, err := p.store.UploadArtifact(ctx, p.runID, path)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	p.logger.Info("artifacts uploaded", logging.Int("count", len(out)))
	return out, nil
}

func fidelityCounts(records []scenario.Record) map[string]int {
	out := make(map[string]int)
	for _, r := range records {
		out[string(r.Fidelity)]++
	}
	return out
}

// WriteReport writes report as indented JSON.
func WriteReport(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create report directory")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode report")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "write report")
	}
	return nil
}
