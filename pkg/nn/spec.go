package nn

import (
	"errors"
	"fmt"
)

// LayerSpec is one entry of a network declaration.
// Implementations: InputSpec, ConvSpec, PoolSpec, SoftmaxSpec.
type LayerSpec interface {
	Kind() string
}

// InputSpec declares the input volume shape
type InputSpec struct {
	SX, SY, Depth int
}

// ConvSpec declares a square convolution, optionally followed by ReLU
type ConvSpec struct {
	Size    int
	Filters int
	Stride  int
	Pad     int
	ReLU    bool
}

// PoolSpec declares a square max pool
type PoolSpec struct {
	Size   int
	Stride int
}

// SoftmaxSpec declares a fully connected scoring layer of Classes outputs
// followed by softmax normalization
type SoftmaxSpec struct {
	Classes int
}

func (InputSpec) Kind() string   { return "input" }
func (ConvSpec) Kind() string    { return "conv" }
func (PoolSpec) Kind() string    { return "pool" }
func (SoftmaxSpec) Kind() string { return "softmax" }

// ErrInvalidArchitecture is returned when a declaration does not chain
var ErrInvalidArchitecture = errors.New("invalid network architecture")

// windowOut is the output extent of a sliding window, floored
func windowOut(in, size, stride, pad int) int {
	return (in+2*pad-size)/stride + 1
}

// Validate checks that every layer accepts the shape produced by its predecessor
// and returns the final output shape.
func Validate(specs []LayerSpec) (Shape, error) {
	if len(specs) < 2 {
		return Shape{}, fmt.Errorf("%w: need at least an input and a softmax layer", ErrInvalidArchitecture)
	}

	in, ok := specs[0].(InputSpec)
	if !ok {
		return Shape{}, fmt.Errorf("%w: first layer must be input, got %s", ErrInvalidArchitecture, specs[0].Kind())
	}
	if in.SX < 1 || in.SY < 1 || in.Depth < 1 {
		return Shape{}, fmt.Errorf("%w: input shape %dx%dx%d", ErrInvalidArchitecture, in.SX, in.SY, in.Depth)
	}
	shape := Shape{SX: in.SX, SY: in.SY, Depth: in.Depth}

	for i, spec := range specs[1:] {
		pos := i + 1
		switch s := spec.(type) {
		case InputSpec:
			return Shape{}, fmt.Errorf("%w: input layer at position %d", ErrInvalidArchitecture, pos)
		case ConvSpec:
			if s.Size < 1 || s.Filters < 1 || s.Stride < 1 || s.Pad < 0 {
				return Shape{}, fmt.Errorf("%w: conv layer %d has invalid parameters %+v", ErrInvalidArchitecture, pos, s)
			}
			sx := windowOut(shape.SX, s.Size, s.Stride, s.Pad)
			sy := windowOut(shape.SY, s.Size, s.Stride, s.Pad)
			if sx < 1 || sy < 1 {
				return Shape{}, fmt.Errorf("%w: conv layer %d does not fit input %s", ErrInvalidArchitecture, pos, shape)
			}
			shape = Shape{SX: sx, SY: sy, Depth: s.Filters}
		case PoolSpec:
			if s.Size < 1 || s.Stride < 1 {
				return Shape{}, fmt.Errorf("%w: pool layer %d has invalid parameters %+v", ErrInvalidArchitecture, pos, s)
			}
			sx := windowOut(shape.SX, s.Size, s.Stride, 0)
			sy := windowOut(shape.SY, s.Size, s.Stride, 0)
			if sx < 1 || sy < 1 {
				return Shape{}, fmt.Errorf("%w: pool layer %d does not fit input %s", ErrInvalidArchitecture, pos, shape)
			}
			shape = Shape{SX: sx, SY: sy, Depth: shape.Depth}
		case SoftmaxSpec:
			if pos != len(specs)-1 {
				return Shape{}, fmt.Errorf("%w: softmax must be the last layer", ErrInvalidArchitecture)
			}
			if s.Classes < 2 {
				return Shape{}, fmt.Errorf("%w: softmax needs at least 2 classes, got %d", ErrInvalidArchitecture, s.Classes)
			}
			shape = Shape{SX: 1, SY: 1, Depth: s.Classes}
		default:
			return Shape{}, fmt.Errorf("%w: unsupported layer %T", ErrInvalidArchitecture, spec)
		}
	}

	if _, ok := specs[len(specs)-1].(SoftmaxSpec); !ok {
		return Shape{}, fmt.Errorf("%w: last layer must be softmax", ErrInvalidArchitecture)
	}
	return shape, nil
}
