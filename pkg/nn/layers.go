package nn

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

type layer interface {
	kind() string
	inShape() Shape
	outShape() Shape
	forward(in *Volume) *Volume
	// backward takes the gradient with respect to the output, accumulates
	// parameter gradients and returns the gradient with respect to the input.
	backward(in, out *Volume, dout []float64) []float64
	params() []*Param
}

// randomize fills p with N(0, 1/fanIn) noise
func randomize(p *Param, fanIn int, rng *rand.Rand) {
	if rng == nil {
		return
	}
	scale := math.Sqrt(1.0 / float64(fanIn))
	for i := range p.W {
		p.W[i] = rng.NormFloat64() * scale
	}
}

type inputLayer struct {
	shape Shape
}

func (l *inputLayer) kind() string { return "input" }
func (l *inputLayer) inShape() Shape { return l.shape }
func (l *inputLayer) outShape() Shape { return l.shape }
func (l *inputLayer) forward(in *Volume) *Volume { return in }
func (l *inputLayer) params() []*Param { return nil }
func (l *inputLayer) backward(_, _ *Volume, dout []float64) []float64 { return dout }

type convLayer struct {
	in, out           Shape
	size, stride, pad int
	filters           []*Param
	biases            *Param
}

func newConvLayer(in Shape, s ConvSpec, biasPref float64, rng *rand.Rand) *convLayer {
	l := &convLayer{
		in: in,
		out: Shape{
			SX:    windowOut(in.SX, s.Size, s.Stride, s.Pad),
			SY:    windowOut(in.SY, s.Size, s.Stride, s.Pad),
			Depth: s.Filters,
		},
		size:   s.Size,
		stride: s.Stride,
		pad:    s.Pad,
		biases: newParam(s.Filters, 0),
	}
	fanIn := s.Size * s.Size * in.Depth
	for i := 0; i < s.Filters; i++ {
		f := newParam(fanIn, 1)
		randomize(f, fanIn, rng)
		l.filters = append(l.filters, f)
	}
	for i := range l.biases.W {
		l.biases.W[i] = biasPref
	}
	return l
}

func (l *convLayer) kind() string { return "conv" }
func (l *convLayer) inShape() Shape { return l.in }
func (l *convLayer) outShape() Shape { return l.out }

func (l *convLayer) params() []*Param {
	return append(append([]*Param{}, l.filters...), l.biases)
}

func (l *convLayer) forward(in *Volume) *Volume {
	out := NewVolume(l.out)
	depth := l.in.Depth
	for d, f := range l.filters {
		for ay := 0; ay < l.out.SY; ay++ {
			y := -l.pad + ay*l.stride
			for ax := 0; ax < l.out.SX; ax++ {
				x := -l.pad + ax*l.stride
				a := 0.0
				for fy := 0; fy < l.size; fy++ {
					oy := y + fy
					if oy < 0 || oy >= in.SY {
						continue
					}
					for fx := 0; fx < l.size; fx++ {
						ox := x + fx
						if ox < 0 || ox >= in.SX {
							continue
						}
						fi := ((l.size * fy) + fx) * depth
						vi := ((in.SX * oy) + ox) * depth
						a += floats.Dot(f.W[fi:fi+depth], in.W[vi:vi+depth])
					}
				}
				out.W[out.index(ax, ay, d)] = a + l.biases.W[d]
			}
		}
	}
	return out
}

func (l *convLayer) backward(in, out *Volume, dout []float64) []float64 {
	din := make([]float64, len(in.W))
	depth := l.in.Depth
	for d, f := range l.filters {
		for ay := 0; ay < l.out.SY; ay++ {
			y := -l.pad + ay*l.stride
			for ax := 0; ax < l.out.SX; ax++ {
				x := -l.pad + ax*l.stride
				chain := dout[out.index(ax, ay, d)]
				if chain == 0 {
					continue
				}
				for fy := 0; fy < l.size; fy++ {
					oy := y + fy
					if oy < 0 || oy >= in.SY {
						continue
					}
					for fx := 0; fx < l.size; fx++ {
						ox := x + fx
						if ox < 0 || ox >= in.SX {
							continue
						}
						fi := ((l.size * fy) + fx) * depth
						vi := ((in.SX * oy) + ox) * depth
						floats.AddScaled(f.DW[fi:fi+depth], chain, in.W[vi:vi+depth])
						floats.AddScaled(din[vi:vi+depth], chain, f.W[fi:fi+depth])
					}
				}
				l.biases.DW[d] += chain
			}
		}
	}
	return din
}

type reluLayer struct {
	shape Shape
}

func (l *reluLayer) kind() string { return "relu" }
func (l *reluLayer) inShape() Shape { return l.shape }
func (l *reluLayer) outShape() Shape { return l.shape }
func (l *reluLayer) params() []*Param { return nil }

func (l *reluLayer) forward(in *Volume) *Volume {
	out := NewVolume(l.shape)
	for i, v := range in.W {
		if v > 0 {
			out.W[i] = v
		}
	}
	return out
}

func (l *reluLayer) backward(_, out *Volume, dout []float64) []float64 {
	din := make([]float64, len(dout))
	for i, v := range out.W {
		if v > 0 {
			din[i] = dout[i]
		}
	}
	return din
}

type poolLayer struct {
	in, out      Shape
	size, stride int
}

func newPoolLayer(in Shape, s PoolSpec) *poolLayer {
	return &poolLayer{
		in: in,
		out: Shape{
			SX:    windowOut(in.SX, s.Size, s.Stride, 0),
			SY:    windowOut(in.SY, s.Size, s.Stride, 0),
			Depth: in.Depth,
		},
		size:   s.Size,
		stride: s.Stride,
	}
}

func (l *poolLayer) kind() string { return "pool" }
func (l *poolLayer) inShape() Shape { return l.in }
func (l *poolLayer) outShape() Shape { return l.out }
func (l *poolLayer) params() []*Param { return nil }

// winner returns the input index of the window maximum; the first maximum wins
func (l *poolLayer) winner(in *Volume, ax, ay, d int) int {
	best := math.Inf(-1)
	win := -1
	x, y := ax*l.stride, ay*l.stride
	for fy := 0; fy < l.size; fy++ {
		oy := y + fy
		if oy >= in.SY {
			break
		}
		for fx := 0; fx < l.size; fx++ {
			ox := x + fx
			if ox >= in.SX {
				break
			}
			i := in.index(ox, oy, d)
			if in.W[i] > best {
				best = in.W[i]
				win = i
			}
		}
	}
	return win
}

func (l *poolLayer) forward(in *Volume) *Volume {
	out := NewVolume(l.out)
	for d := 0; d < l.out.Depth; d++ {
		for ay := 0; ay < l.out.SY; ay++ {
			for ax := 0; ax < l.out.SX; ax++ {
				out.W[out.index(ax, ay, d)] = in.W[l.winner(in, ax, ay, d)]
			}
		}
	}
	return out
}

func (l *poolLayer) backward(in, out *Volume, dout []float64) []float64 {
	din := make([]float64, len(in.W))
	for d := 0; d < l.out.Depth; d++ {
		for ay := 0; ay < l.out.SY; ay++ {
			for ax := 0; ax < l.out.SX; ax++ {
				din[l.winner(in, ax, ay, d)] += dout[out.index(ax, ay, d)]
			}
		}
	}
	return din
}

type fcLayer struct {
	in, out Shape
	weights []*Param
	biases  *Param
}

func newFCLayer(in Shape, outputs int, rng *rand.Rand) *fcLayer {
	l := &fcLayer{
		in:     in,
		out:    Shape{SX: 1, SY: 1, Depth: outputs},
		biases: newParam(outputs, 0),
	}
	fanIn := in.Len()
	for i := 0; i < outputs; i++ {
		w := newParam(fanIn, 1)
		randomize(w, fanIn, rng)
		l.weights = append(l.weights, w)
	}
	return l
}

func (l *fcLayer) kind() string { return "fc" }
func (l *fcLayer) inShape() Shape { return l.in }
func (l *fcLayer) outShape() Shape { return l.out }

func (l *fcLayer) params() []*Param {
	return append(append([]*Param{}, l.weights...), l.biases)
}

func (l *fcLayer) forward(in *Volume) *Volume {
	out := NewVolume(l.out)
	for i, w := range l.weights {
		out.W[i] = floats.Dot(w.W, in.W) + l.biases.W[i]
	}
	return out
}

func (l *fcLayer) backward(in, _ *Volume, dout []float64) []float64 {
	din := make([]float64, len(in.W))
	for i, w := range l.weights {
		chain := dout[i]
		floats.AddScaled(w.DW, chain, in.W)
		floats.AddScaled(din, chain, w.W)
		l.biases.DW[i] += chain
	}
	return din
}

type softmaxLayer struct {
	shape Shape
}

func (l *softmaxLayer) kind() string { return "softmax" }
func (l *softmaxLayer) inShape() Shape { return l.shape }
func (l *softmaxLayer) outShape() Shape { return l.shape }
func (l *softmaxLayer) params() []*Param { return nil }

func (l *softmaxLayer) forward(in *Volume) *Volume {
	out := NewVolume(l.shape)
	amax := floats.Max(in.W)
	sum := 0.0
	for i, v := range in.W {
		e := math.Exp(v - amax)
		out.W[i] = e
		sum += e
	}
	floats.Scale(1/sum, out.W)
	return out
}

// backward is unused: the loss gradient comes from lossGrad
func (l *softmaxLayer) backward(_, _ *Volume, dout []float64) []float64 {
	return dout
}

// lossGrad returns the cross-entropy gradient with respect to the softmax input
// and the loss for the true label.
func (l *softmaxLayer) lossGrad(out *Volume, label int) ([]float64, float64) {
	din := make([]float64, len(out.W))
	for i, p := range out.W {
		indicator := 0.0
		if i == label {
			indicator = 1
		}
		din[i] = -(indicator - p)
	}
	return din, -math.Log(out.W[label])
}
