// Package nn implements the small convolutional network used to classify garments.
//
// Networks are declared as an ordered list of typed layer specifications
// (Input, Conv, Pool, Softmax). The stack is validated for shape compatibility
// once, at construction. Forward passes allocate their own activations, so a
// trained Net can serve any number of concurrent classifications as long as
// nobody trains it at the same time.
package nn

import "fmt"

// Shape is the width, height and depth of an activation volume
type Shape struct {
	SX    int `json:"sx"`
	SY    int `json:"sy"`
	Depth int `json:"depth"`
}

// Len returns the number of values a volume of this shape holds
func (s Shape) Len() int {
	return s.SX * s.SY * s.Depth
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.SX, s.SY, s.Depth)
}

// Volume is a 3D activation tensor stored as ((SX*y)+x)*Depth+d
type Volume struct {
	Shape
	W []float64
}

// NewVolume allocates a zeroed volume
func NewVolume(s Shape) *Volume {
	return &Volume{Shape: s, W: make([]float64, s.Len())}
}

// VolumeFrom wraps values as a volume of the given shape
func VolumeFrom(s Shape, values []float64) (*Volume, error) {
	if len(values) != s.Len() {
		return nil, fmt.Errorf("volume %s needs %d values, got %d", s, s.Len(), len(values))
	}
	w := make([]float64, len(values))
	copy(w, values)
	return &Volume{Shape: s, W: w}, nil
}

func (v *Volume) index(x, y, d int) int {
	return ((v.SX*y)+x)*v.Depth + d
}

// Get returns the value at (x, y, d)
func (v *Volume) Get(x, y, d int) float64 {
	return v.W[v.index(x, y, d)]
}

// Param is a learnable weight vector with its gradient accumulator
type Param struct {
	W  []float64
	DW []float64
	// L2Mul scales the trainer's L2 decay for this vector; biases use 0
	L2Mul float64
}

func newParam(n int, l2Mul float64) *Param {
	return &Param{W: make([]float64, n), DW: make([]float64, n), L2Mul: l2Mul}
}

func (p *Param) zeroGrad() {
	for i := range p.DW {
		p.DW[i] = 0
	}
}
