package common

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// NewRand returns the seeded PCG source used for every stochastic step of a
// run.  Two generators built from the same seed yield the same stream.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// NewStream returns an independent PCG stream derived from seed, so stages
// of one run can draw without disturbing each other.
func NewStream(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^(stream*0x9e3779b97f4a7c15)))
}

// GlorotUniform fills w (fan_in × fan_out) from U(±sqrt(6/(fan_in+fan_out))).
func GlorotUniform(w *mat.Dense, rng *rand.Rand) {
	r, c := w.Dims()
	a := math.Sqrt(6 / float64(r+c))
	fillUniform(w, a, rng)
}

// UniformFanIn fills m from U(±1/sqrt(fanIn)).
func UniformFanIn(m *mat.Dense, fanIn int, rng *rand.Rand) {
	fillUniform(m, 1/math.Sqrt(float64(fanIn)), rng)
}

func fillUniform(m *mat.Dense, bound float64, rng *rand.Rand) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, (2*rng.Float64()-1)*bound)
		}
	}
}

// AddBias adds the 1×n row vector b to every row of m in place.
func AddBias(m *mat.Dense, b *mat.Dense) {
	bias := b.RawRowView(0)
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
}

// ColSum returns the column sums of m as a 1×n row vector.
func ColSum(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		out.Set(0, j, s)
	}
	return out
}

// ReLU returns max(0, z) element-wise.
func ReLU(z *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
	return &out
}

// ReLUBackward masks grad by z > 0 and returns the result.
func ReLUBackward(grad, z *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if z.At(i, j) > 0 {
			return v
		}
		return 0
	}, grad)
	return &out
}

// Sign returns -1, 0 or 1.
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
