package scenario

import (
	"errors"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/turtacn/gnn-opf/internal/domain/grid"
	"github.com/turtacn/gnn-opf/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/gnn-opf/pkg/errors"
)

// CostSolver prices one load scenario.
type CostSolver interface {
	Solve(n *grid.Network, loads grid.LoadOverlay) (float64, error)
}

// DCOPFSolver prices scenarios with grid.SolveDCOPF.
type DCOPFSolver struct{}

// Solve returns the optimal dispatch cost.  A dispatch priced at zero or
// less (free generators) is reported as a solver error.
func (DCOPFSolver) Solve(n *grid.Network, loads grid.LoadOverlay) (float64, error) {
	d, err := grid.SolveDCOPF(n, loads)
	if err != nil {
		return 0, err
	}
	if err := checkCost(d.Cost); err != nil {
		return 0, err
	}
	return d.Cost, nil
}

// checkCost requires a finite, positive scenario cost.
func checkCost(c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return apperrors.New(apperrors.CodeSolverError, "dc-opf returned a non-finite cost")
	}
	if c <= 0 {
		return apperrors.Newf(apperrors.CodeSolverError, "dc-opf returned non-positive cost %g", c)
	}
	return nil
}

// BreakerSettings configures NewBreakerSolver.
type BreakerSettings struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.  Zero disables the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// DefaultBreakerSettings trips after three consecutive failures and stays
// open for the rest of a typical run.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Name: "dcopf", FailureThreshold: 3, Timeout: 10 * time.Minute}
}

// breakerSolver stops calling an infeasible or unstable solver after a run of
// failures so the remaining scenarios fall back without paying for doomed
// solves.
type breakerSolver struct {
	inner CostSolver
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerSolver wraps inner in a circuit breaker.  A zero threshold
// returns inner unchanged.
func NewBreakerSolver(inner CostSolver, s BreakerSettings, logger logging.Logger) CostSolver {
	if inner == nil {
		inner = DCOPFSolver{}
	}
	if s.FailureThreshold == 0 {
		return inner
	}
	if s.Name == "" {
		s.Name = "dcopf"
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultBreakerSettings().Timeout
	}
	log := logging.OrNop(logger).Named("breaker")
	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("solver circuit breaker changed state",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()))
		},
	})
	return &breakerSolver{inner: inner, cb: cb}
}

func (b *breakerSolver) Solve(n *grid.Network, loads grid.LoadOverlay) (float64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Solve(n, loads)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, apperrors.Wrap(err, apperrors.CodeSolverError, "solver circuit breaker is open")
		}
		return 0, err
	}
	return v.(float64), nil
}
