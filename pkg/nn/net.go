package nn

import (
	"fmt"
	"math/rand/v2"
)

// reluBiasPref is the initial bias of conv layers feeding a ReLU, keeping
// units alive at the start of training
const reluBiasPref = 0.1

// Net is an ordered layer stack built from a validated declaration
type Net struct {
	specs  []LayerSpec
	layers []layer
	input  Shape
	output Shape
}

// NewNet validates specs and builds a network with randomly initialized weights.
// A nil rng leaves every weight at zero, which is what Load starts from.
func NewNet(specs []LayerSpec, rng *rand.Rand) (*Net, error) {
	out, err := Validate(specs)
	if err != nil {
		return nil, err
	}

	in := specs[0].(InputSpec)
	shape := Shape{SX: in.SX, SY: in.SY, Depth: in.Depth}
	n := &Net{
		specs:  append([]LayerSpec(nil), specs...),
		input:  shape,
		output: out,
		layers: []layer{&inputLayer{shape: shape}},
	}

	for _, spec := range specs[1:] {
		switch s := spec.(type) {
		case ConvSpec:
			pref := 0.0
			if s.ReLU {
				pref = reluBiasPref
			}
			conv := newConvLayer(shape, s, pref, rng)
			n.layers = append(n.layers, conv)
			shape = conv.outShape()
			if s.ReLU {
				n.layers = append(n.layers, &reluLayer{shape: shape})
			}
		case PoolSpec:
			pool := newPoolLayer(shape, s)
			n.layers = append(n.layers, pool)
			shape = pool.outShape()
		case SoftmaxSpec:
			fc := newFCLayer(shape, s.Classes, rng)
			shape = fc.outShape()
			n.layers = append(n.layers, fc, &softmaxLayer{shape: shape})
		}
	}
	return n, nil
}

// InputShape returns the shape Forward expects
func (n *Net) InputShape() Shape {
	return n.input
}

// Classes returns the width of the softmax output
func (n *Net) Classes() int {
	return n.output.Depth
}

// Specs returns a copy of the declaration the net was built from
func (n *Net) Specs() []LayerSpec {
	return append([]LayerSpec(nil), n.specs...)
}

// Forward runs one inference pass and returns the class probabilities.
// It only reads weights.
func (n *Net) Forward(values []float64) ([]float64, error) {
	acts, err := n.activations(values)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1].W, nil
}

// activations returns the output of every layer, input first
func (n *Net) activations(values []float64) ([]*Volume, error) {
	in, err := VolumeFrom(n.input, values)
	if err != nil {
		return nil, err
	}
	acts := make([]*Volume, 0, len(n.layers))
	v := in
	for _, l := range n.layers {
		v = l.forward(v)
		acts = append(acts, v)
	}
	return acts, nil
}

// backward propagates the loss for label through the stack and returns the
// cross-entropy loss. Parameter gradients accumulate into each Param.DW.
func (n *Net) backward(acts []*Volume, label int) float64 {
	last := len(n.layers) - 1
	sm := n.layers[last].(*softmaxLayer)
	dout, loss := sm.lossGrad(acts[last], label)
	for i := last - 1; i >= 1; i-- {
		dout = n.layers[i].backward(acts[i-1], acts[i], dout)
	}
	return loss
}

func (n *Net) params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// ParamCount returns the number of learnable weights
func (n *Net) ParamCount() int {
	total := 0
	for _, p := range n.params() {
		total += len(p.W)
	}
	return total
}

func (n *Net) String() string {
	s := fmt.Sprintf("input(%s)", n.input)
	for _, l := range n.layers[1:] {
		s += fmt.Sprintf(" -> %s(%s)", l.kind(), l.outShape())
	}
	return s
}
