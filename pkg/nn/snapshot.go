package nn

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/menta2k/logo-placer/pkg/types"
)

const snapshotVersion = 1

type snapshot struct {
	Version int             `json:"version"`
	Layers  []layerSnapshot `json:"layers"`
}

type layerSnapshot struct {
	Type    string      `json:"layer_type"`
	Out     Shape       `json:"out"`
	Size    int         `json:"sx,omitempty"`
	Stride  int         `json:"stride,omitempty"`
	Pad     int         `json:"pad,omitempty"`
	Weights [][]float64 `json:"filters,omitempty"`
	Biases  []float64   `json:"biases,omitempty"`
}

func weightsOf(ps []*Param) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = p.W
	}
	return out
}

// Save writes the layer stack and every weight as JSON
func (n *Net) Save(w io.Writer) error {
	snap := snapshot{Version: snapshotVersion}
	for _, l := range n.layers {
		ls := layerSnapshot{Type: l.kind(), Out: l.outShape()}
		switch t := l.(type) {
		case *convLayer:
			ls.Size, ls.Stride, ls.Pad = t.size, t.stride, t.pad
			ls.Weights = weightsOf(t.filters)
			ls.Biases = t.biases.W
		case *poolLayer:
			ls.Size, ls.Stride = t.size, t.stride
		case *fcLayer:
			ls.Weights = weightsOf(t.weights)
			ls.Biases = t.biases.W
		}
		snap.Layers = append(snap.Layers, ls)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Load builds the network declared by specs and fills it from a snapshot.
// Any difference between the snapshot and the declaration yields
// types.ErrModelFormat.
func Load(r io.Reader, specs []LayerSpec) (*Net, error) {
	n, err := NewNet(specs, nil)
	if err != nil {
		return nil, err
	}

	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrModelFormat, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", types.ErrModelFormat, snap.Version)
	}
	if len(snap.Layers) != len(n.layers) {
		return nil, fmt.Errorf("%w: snapshot has %d layers, architecture has %d", types.ErrModelFormat, len(snap.Layers), len(n.layers))
	}

	for i, l := range n.layers {
		ls := snap.Layers[i]
		if ls.Type != l.kind() {
			return nil, fmt.Errorf("%w: layer %d is %s in snapshot, %s in architecture", types.ErrModelFormat, i, ls.Type, l.kind())
		}
		if ls.Out != l.outShape() {
			return nil, fmt.Errorf("%w: layer %d outputs %s in snapshot, %s in architecture", types.ErrModelFormat, i, ls.Out, l.outShape())
		}
		switch t := l.(type) {
		case *convLayer:
			if ls.Size != t.size || ls.Stride != t.stride || ls.Pad != t.pad {
				return nil, fmt.Errorf("%w: conv layer %d window differs", types.ErrModelFormat, i)
			}
			if err := fill(t.filters, t.biases, ls, i); err != nil {
				return nil, err
			}
		case *poolLayer:
			if ls.Size != t.size || ls.Stride != t.stride {
				return nil, fmt.Errorf("%w: pool layer %d window differs", types.ErrModelFormat, i)
			}
		case *fcLayer:
			if err := fill(t.weights, t.biases, ls, i); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}

func fill(ws []*Param, biases *Param, ls layerSnapshot, idx int) error {
	if len(ls.Weights) != len(ws) {
		return fmt.Errorf("%w: layer %d has %d weight vectors, expected %d", types.ErrModelFormat, idx, len(ls.Weights), len(ws))
	}
	if len(ls.Biases) != len(biases.W) {
		return fmt.Errorf("%w: layer %d has %d biases, expected %d", types.ErrModelFormat, idx, len(ls.Biases), len(biases.W))
	}
	for j, p := range ws {
		if len(ls.Weights[j]) != len(p.W) {
			return fmt.Errorf("%w: layer %d vector %d has %d weights, expected %d", types.ErrModelFormat, idx, j, len(ls.Weights[j]), len(p.W))
		}
		copy(p.W, ls.Weights[j])
	}
	copy(biases.W, ls.Biases)
	return nil
}
