package common

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

// ---------------------------------------------------------------------------
// Parameter
// ---------------------------------------------------------------------------

// Parameter is a named trainable matrix with its accumulated gradient.
// Biases are stored as 1×n row vectors.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a zero-valued r×c parameter.
func NewParameter(name string, r, c int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// Shape returns the parameter dimensions.
func (p *Parameter) Shape() (int, int) { return p.Value.Dims() }

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() { p.Grad.Zero() }

// AccumulateGrad adds g to the gradient.  g must have the parameter's shape.
func (p *Parameter) AccumulateGrad(g mat.Matrix) { p.Grad.Add(p.Grad, g) }

// ---------------------------------------------------------------------------
// ParameterSet
// ---------------------------------------------------------------------------

// ParameterSet is an ordered list of parameters.  Order is the registration
// order of the owning model and is also the optimizer's iteration order.
type ParameterSet []*Parameter

// ByName returns the named parameter or nil.
func (s ParameterSet) ByName(name string) *Parameter {
	for _, p := range s {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Names returns parameter names in registration order.
func (s ParameterSet) Names() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Name
	}
	return out
}

// ZeroGrad clears every gradient.
func (s ParameterSet) ZeroGrad() {
	for _, p := range s {
		p.ZeroGrad()
	}
}

// StateDict returns deep copies of every parameter value keyed by name.
func (s ParameterSet) StateDict() map[string]*mat.Dense {
	out := make(map[string]*mat.Dense, len(s))
	for _, p := range s {
		out[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return out
}

// LoadStateDict copies state into the parameters.  Every parameter must be
// present with an identical shape and no extra entries are allowed; any
// violation is a CodeCheckpointError and leaves the parameters untouched.
func (s ParameterSet) LoadStateDict(state map[string]*mat.Dense) error {
	var problems []string
	for _, p := range s {
		v, ok := state[p.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing %s", p.Name))
			continue
		}
		wr, wc := p.Shape()
		gr, gc := v.Dims()
		if wr != gr || wc != gc {
			problems = append(problems, fmt.Sprintf("%s has shape %dx%d, model expects %dx%d", p.Name, gr, gc, wr, wc))
		}
	}
	for name := range state {
		if s.ByName(name) == nil {
			problems = append(problems, fmt.Sprintf("unexpected %s", name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(errors.CodeCheckpointError, "checkpoint does not match model parameters").
			WithDetail(fmt.Sprint(problems))
	}
	for _, p := range s {
		p.Value.Copy(state[p.Name])
	}
	return nil
}

// Count returns the total number of scalar parameters.
func (s ParameterSet) Count() int {
	var n int
	for _, p := range s {
		r, c := p.Shape()
		n += r * c
	}
	return n
}
