package common

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

// Adam hyper-parameter defaults.
const (
	DefaultAdamBeta1   = 0.9
	DefaultAdamBeta2   = 0.999
	DefaultAdamEpsilon = 1e-8
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// Adam implements the bias-corrected Adam update rule.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	params ParameterSet
	m, v   []*mat.Dense
	t      int
}

// NewAdam returns an Adam optimizer over params with default betas.
func NewAdam(params ParameterSet, learningRate float64) (*Adam, error) {
	if !(learningRate > 0) || math.IsInf(learningRate, 0) {
		return nil, errors.Newf(errors.CodeInvalidParam, "learning rate must be positive, got %v", learningRate)
	}
	if len(params) == 0 {
		return nil, errors.New(errors.CodeInvalidParam, "optimizer needs at least one parameter")
	}
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        DefaultAdamBeta1,
		Beta2:        DefaultAdamBeta2,
		Epsilon:      DefaultAdamEpsilon,
		params:       params,
		m:            make([]*mat.Dense, len(params)),
		v:            make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Shape()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a, nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// ZeroGrad clears the gradients of every managed parameter.
func (a *Adam) ZeroGrad() { a.params.ZeroGrad() }

// Step applies one update using the current gradients.
func (a *Adam) Step() {
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range a.params {
		m, v := a.m[i].RawMatrix(), a.v[i].RawMatrix()
		val, grad := p.Value.RawMatrix(), p.Grad.RawMatrix()
		for r := 0; r < val.Rows; r++ {
			for c := 0; c < val.Cols; c++ {
				g := grad.Data[r*grad.Stride+c]
				mi := r*m.Stride + c
				vi := r*v.Stride + c
				m.Data[mi] = a.Beta1*m.Data[mi] + (1-a.Beta1)*g
				v.Data[vi] = a.Beta2*v.Data[vi] + (1-a.Beta2)*g*g
				mHat := m.Data[mi] / bc1
				vHat := v.Data[vi] / bc2
				val.Data[r*val.Stride+c] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
			}
		}
	}
}
