package grid

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

// simplexTolerance is the pivot tolerance handed to lp.Simplex.
const simplexTolerance = 1e-10

// Dispatch is the solution of a DC optimal power flow.
type Dispatch struct {
	// Cost is Σ generator cost × output.
	Cost float64
	// Output holds generator set-points in declared generator order.
	Output []float64
	// Flows holds line flows in declared line order; positive is from→to.
	Flows []float64
	// Demand is the total load served.
	Demand float64
}

// PTDF computes the power transfer distribution factors of n with the first
// declared bus as slack.  Entry (k, i) is the flow on line k caused by one
// unit injected at bus i and withdrawn at the slack.  The slack column is
// zero.  The network must be connected.  A network without lines yields a
// single all-zero row.
func PTDF(n *Network) (*mat.Dense, error) {
	nb, nl := len(n.Buses), len(n.Lines)
	if nb == 0 {
		return nil, errors.New(errors.CodeSolverError, "network has no buses")
	}
	if !n.IsConnected() {
		return nil, errors.Newf(errors.CodeSolverError, "network is split into %d islands", len(n.Islands()))
	}
	ptdf := mat.NewDense(max(nl, 1), nb, nil)
	if nb == 1 || nl == 0 {
		return ptdf, nil
	}

	// Susceptance matrix reduced by the slack row and column.
	br := mat.NewDense(nb-1, nb-1, nil)
	susceptance := make([]float64, nl)
	ends := make([][2]int, nl)
	for k, l := range n.Lines {
		f, _ := n.BusIndex(l.FromBus)
		t, _ := n.BusIndex(l.ToBus)
		b := 1 / l.EffectiveReactance()
		susceptance[k] = b
		ends[k] = [2]int{f, t}
		if f > 0 {
			br.Set(f-1, f-1, br.At(f-1, f-1)+b)
		}
		if t > 0 {
			br.Set(t-1, t-1, br.At(t-1, t-1)+b)
		}
		if f > 0 && t > 0 {
			br.Set(f-1, t-1, br.At(f-1, t-1)-b)
			br.Set(t-1, f-1, br.At(t-1, f-1)-b)
		}
	}

	var x mat.Dense
	if err := x.Inverse(br); err != nil {
		return nil, errors.Wrap(err, errors.CodeSolverError, "reduced susceptance matrix is singular")
	}

	theta := func(bus, inj int) float64 {
		if bus == 0 {
			return 0
		}
		return x.At(bus-1, inj-1)
	}
	for k := 0; k < nl; k++ {
		f, t := ends[k][0], ends[k][1]
		for i := 1; i < nb; i++ {
			ptdf.Set(k, i, susceptance[k]*(theta(f, i)-theta(t, i)))
		}
	}
	return ptdf, nil
}

// SolveDCOPF dispatches generators at minimum cost to serve the loads of
// overlay subject to generator limits and line capacities.  A line capacity
// of zero leaves that line unconstrained.
//
// The linear program is put in the standard form min cᵀx, Ax = b, x ≥ 0
// expected by lp.Simplex with variables [p, s, u, w]: generator outputs p,
// upper-limit slacks s, and the slacks u, w of the two flow-limit rows of
// every constrained line.
func SolveDCOPF(n *Network, overlay LoadOverlay) (*Dispatch, error) {
	if unknown := overlay.UnknownBuses(n); len(unknown) > 0 {
		return nil, errors.Newf(errors.CodeSolverError, "load overlay names unknown buses %v", unknown)
	}
	ng := len(n.Generators)
	if ng == 0 {
		return nil, errors.New(errors.CodeSolverError, "network has no generators")
	}
	loads := overlay.Resolve(n)
	var demand float64
	for _, d := range loads {
		demand += d
	}
	if demand > n.TotalGeneration() {
		return nil, errors.Newf(errors.CodeSolverError, "demand %.3f exceeds generation limit %.3f",
			demand, n.TotalGeneration())
	}

	ptdf, err := PTDF(n)
	if err != nil {
		return nil, err
	}

	var constrained []int
	for k, l := range n.Lines {
		if l.Capacity > 0 {
			constrained = append(constrained, k)
		}
	}
	nc := len(constrained)

	genBus := make([]int, ng)
	for g, gen := range n.Generators {
		genBus[g], _ = n.BusIndex(gen.Bus)
	}

	// Flow caused by loads alone, per line.
	loadFlow := make([]float64, len(n.Lines))
	for k := range n.Lines {
		for i, d := range loads {
			loadFlow[k] += ptdf.At(k, i) * d
		}
	}

	rows := ng + 1 + 2*nc
	cols := 2*ng + 2*nc
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)

	for g, gen := range n.Generators {
		c[g] = gen.Cost
		a.Set(g, g, 1)
		a.Set(g, ng+g, 1)
		b[g] = gen.MaxOutput
	}
	balance := ng
	for g := 0; g < ng; g++ {
		a.Set(balance, g, 1)
	}
	b[balance] = demand

	for j, k := range constrained {
		upper := ng + 1 + 2*j
		lower := upper + 1
		for g := 0; g < ng; g++ {
			f := ptdf.At(k, genBus[g])
			a.Set(upper, g, f)
			a.Set(lower, g, -f)
		}
		a.Set(upper, 2*ng+2*j, 1)
		a.Set(lower, 2*ng+2*j+1, 1)
		capacity := n.Lines[k].Capacity
		b[upper] = capacity + loadFlow[k]
		b[lower] = capacity - loadFlow[k]
	}

	for r := 0; r < rows; r++ {
		if b[r] < 0 {
			b[r] = -b[r]
			for col := 0; col < cols; col++ {
				a.Set(r, col, -a.At(r, col))
			}
		}
	}

	optF, optX, err := lp.Simplex(c, a, b, simplexTolerance, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSolverError, "dc-opf linear program has no solution")
	}

	d := &Dispatch{
		Cost:   optF,
		Output: append([]float64(nil), optX[:ng]...),
		Flows:  make([]float64, len(n.Lines)),
		Demand: demand,
	}
	for k := range n.Lines {
		flow := -loadFlow[k]
		for g := 0; g < ng; g++ {
			flow += ptdf.At(k, genBus[g]) * d.Output[g]
		}
		d.Flows[k] = flow
	}
	return d, nil
}
