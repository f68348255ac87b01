package nn

import (
	"fmt"
	"math"
	"time"
)

// TrainerConfig holds the Adadelta hyper-parameters
type TrainerConfig struct {
	L2Decay   float64
	Ro        float64
	Eps       float64
	BatchSize int
}

// DefaultTrainerConfig returns online Adadelta with light L2 decay
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		L2Decay:   0.001,
		Ro:        0.95,
		Eps:       1e-6,
		BatchSize: 1,
	}
}

// Stats describes one training step
type Stats struct {
	CostLoss    float64       `json:"cost_loss"`
	L2DecayLoss float64       `json:"l2_decay_loss"`
	Loss        float64       `json:"loss"`
	Correct     bool          `json:"correct"`
	ForwardTime time.Duration `json:"fwd_time"`
	BackTime    time.Duration `json:"bwd_time"`
}

// Trainer updates a Net in place with Adadelta. It is not safe for concurrent
// use and must not run while the same Net serves inference.
type Trainer struct {
	net    *Net
	config TrainerConfig
	params []*Param
	gsum   [][]float64
	xsum   [][]float64
	k      int
}

// NewTrainer creates a trainer for net
func NewTrainer(net *Net, config TrainerConfig) *Trainer {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.Ro == 0 {
		config.Ro = 0.95
	}
	if config.Eps == 0 {
		config.Eps = 1e-6
	}
	ps := net.params()
	t := &Trainer{net: net, config: config, params: ps}
	for _, p := range ps {
		t.gsum = append(t.gsum, make([]float64, len(p.W)))
		t.xsum = append(t.xsum, make([]float64, len(p.W)))
	}
	return t
}

// Train runs one forward/backward pass for a single example and applies an
// update once a full batch has been accumulated.
func (t *Trainer) Train(values []float64, label int) (Stats, error) {
	if label < 0 || label >= t.net.Classes() {
		return Stats{}, fmt.Errorf("label %d outside [0,%d)", label, t.net.Classes())
	}

	start := time.Now()
	acts, err := t.net.activations(values)
	if err != nil {
		return Stats{}, err
	}
	fwd := time.Since(start)

	start = time.Now()
	probs := acts[len(acts)-1].W
	cost := t.net.backward(acts, label)
	bwd := time.Since(start)

	stats := Stats{
		CostLoss:    cost,
		Correct:     argmax(probs) == label,
		ForwardTime: fwd,
		BackTime:    bwd,
	}

	t.k++
	if t.k%t.config.BatchSize == 0 {
		stats.L2DecayLoss = t.update()
	}
	stats.Loss = stats.CostLoss + stats.L2DecayLoss
	return stats, nil
}

// update applies Adadelta to every parameter and clears the gradients
func (t *Trainer) update() float64 {
	cfg := t.config
	batch := float64(cfg.BatchSize)
	l2Loss := 0.0
	for i, p := range t.params {
		decay := cfg.L2Decay * p.L2Mul
		gsum, xsum := t.gsum[i], t.xsum[i]
		for j, w := range p.W {
			l2Loss += decay * w * w / 2
			g := (decay*w + p.DW[j]) / batch
			gsum[j] = cfg.Ro*gsum[j] + (1-cfg.Ro)*g*g
			dx := -math.Sqrt((xsum[j]+cfg.Eps)/(gsum[j]+cfg.Eps)) * g
			xsum[j] = cfg.Ro*xsum[j] + (1-cfg.Ro)*dx*dx
			p.W[j] += dx
		}
		p.zeroGrad()
	}
	return l2Loss
}
