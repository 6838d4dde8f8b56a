// Package scenario produces the load scenarios the predictors learn from:
// per-bus load perturbations of a base network, priced either by a DC
// optimal power flow or by the synthetic fallback, and their CSV form.
package scenario

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/gnn-opf/internal/intelligence/common"
	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Fidelity records how a scenario's cost was obtained.
type Fidelity string

const (
	// FidelitySolved costs come from a DC-OPF dispatch.
	FidelitySolved Fidelity = "solved"
	// FidelitySynthetic costs are base_cost × (1 + noise).
	FidelitySynthetic Fidelity = "synthetic"
	// FidelityUnknown marks records read from files without a fidelity column.
	FidelityUnknown Fidelity = ""
)

// CostModel selects how Generate prices scenarios.
type CostModel string

const (
	CostModelDCOPF     CostModel = "dcopf"
	CostModelSynthetic CostModel = "synthetic"
)

// Record is one generated scenario.
type Record struct {
	// Scenario is the 1-based scenario number.
	Scenario  int
	TotalCost float64
	// Loads holds the per-bus load; it may be empty for legacy files.
	Loads    grid.LoadOverlay
	Fidelity Fidelity
}

// Overlay returns the record's loads, or the legacy scenario-number mapping
// when the record carries none.
func (r Record) Overlay(n *grid.Network, variation float64) grid.LoadOverlay {
	if len(r.Loads) > 0 {
		return r.Loads
	}
	return grid.LegacyOverlay(n, r.Scenario, variation)
}

// FirstBusLoad returns the load of the first declared bus under Overlay.
func (r Record) FirstBusLoad(n *grid.Network, variation float64) float64 {
	return r.Overlay(n, variation).Resolve(n)[0]
}

// Options configures a Generator.
type Options struct {
	CostModel CostModel
	BaseCost  float64
	// CostNoise bounds the synthetic multiplier u ~ U[-CostNoise, CostNoise].
	CostNoise float64
	// RequireSolved turns a fallback to synthetic cost into a DataError.
	RequireSolved bool
}

// DefaultOptions returns DC-OPF pricing with a 1000 base cost and ±20% noise.
func DefaultOptions() Options {
	return Options{CostModel: CostModelDCOPF, BaseCost: 1000, CostNoise: 0.2}
}

func (o Options) validate() error {
	switch o.CostModel {
	case CostModelDCOPF, CostModelSynthetic:
	default:
		return errors.Newf(errors.CodeInvalidParam, "unknown cost model %q", o.CostModel)
	}
	if !(o.BaseCost > 0) {
		return errors.InvalidParam("base cost must be positive")
	}
	if o.CostNoise < 0 || o.CostNoise >= 1 {
		return errors.Newf(errors.CodeInvalidParam, "cost noise %g is outside [0, 1)", o.CostNoise)
	}
	if o.RequireSolved && o.CostModel == CostModelSynthetic {
		return errors.InvalidParam("require_solved cannot be combined with the synthetic cost model")
	}
	return nil
}

// Generator produces scenario records.  It owns its random stream; two
// generators built with equal seeds and options produce equal records.
type Generator struct {
	opts    Options
	rng     *rand.Rand
	solver  CostSolver
	logger  logging.Logger
	metrics common.Metrics
}

// NewGenerator builds a Generator.  solver may be nil for the synthetic
// cost model; it defaults to DCOPFSolver otherwise.
func NewGenerator(opts Options, rng *rand.Rand, solver CostSolver, logger logging.Logger, metrics common.Metrics) (*Generator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.InvalidParam("random source is required")
	}
	if solver == nil && opts.CostModel == CostModelDCOPF {
		solver = DCOPFSolver{}
	}
	return &Generator{
		opts:    opts,
		rng:     rng,
		solver:  solver,
		logger:  logging.OrNop(logger).Named("scenario"),
		metrics: common.OrNoop(metrics),
	}, nil
}

// Generate produces count records with per-bus loads voltage × (1 + r),
// r ~ U[-variation, variation].  count must be at least 1 and variation in
// (0, 1).
//
// For every scenario the cost noise is drawn first and then one load factor
// per bus in declared order, whatever the cost model, so the random stream
// does not depend on whether solves succeed.
func (g *Generator) Generate(ctx context.Context, n *grid.Network, count int, variation float64) ([]Record, error) {
	if n == nil || len(n.Buses) == 0 {
		return nil, errors.ConfigError("network has no buses")
	}
	if count < 1 {
		return nil, errors.Newf(errors.CodeConfigError, "num_scenarios must be at least 1, got %d", count)
	}
	if !(variation > 0 && variation < 1) {
		return nil, errors.Newf(errors.CodeConfigError, "load_variation %g is outside (0, 1)", variation)
	}

	records := make([]Record, 0, count)
	var fallbacks int
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeCanceled, "scenario generation interrupted")
		}
		u := (2*g.rng.Float64() - 1) * g.opts.CostNoise
		loads := make(grid.LoadOverlay, len(n.Buses))
		for _, b := range n.Buses {
			r := (2*g.rng.Float64() - 1) * variation
			loads[b.ID] = b.Voltage * (1 + r)
		}

		rec := Record{Scenario: i, Loads: loads}
		var solveErr error
		if g.opts.CostModel == CostModelDCOPF {
			start := time.Now()
			rec.TotalCost, solveErr = g.solver.Solve(n, loads)
			if solveErr == nil {
				solveErr = checkCost(rec.TotalCost)
			}
			g.metrics.ObserveSolve(ctx, time.Since(start), solveErr == nil)
			if solveErr == nil {
				rec.Fidelity = FidelitySolved
			}
		}
		if rec.Fidelity != FidelitySolved {
			if g.opts.RequireSolved {
				return nil, errors.Wrap(solveErr, errors.CodeDataError,
					"dc-opf solve failed and require_solved is set").WithDetail("scenario " + strconv.Itoa(i))
			}
			if solveErr != nil {
				fallbacks++
				g.logger.Warn("dc-opf solve failed, using synthetic cost",
					logging.Scenario(i), logging.Err(solveErr))
			}
			rec.TotalCost = g.opts.BaseCost * (1 + u)
			rec.Fidelity = FidelitySynthetic
		}
		g.metrics.RecordScenario(ctx, string(rec.Fidelity))
		g.logger.Debug("scenario generated",
			logging.Scenario(i), logging.Float64("total_cost", rec.TotalCost), logging.String("fidelity", string(rec.Fidelity)))
		records = append(records, rec)
	}

	g.logger.Info("scenarios generated",
		logging.Int("count", len(records)),
		logging.String("cost_model", string(g.opts.CostModel)),
		logging.Int("synthetic_fallbacks", fallbacks))
	return records, nil
}
