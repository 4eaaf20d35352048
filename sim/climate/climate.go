// Package climate provides recharge variability for reservoirs: smooth,
// deterministic noise over simulated time that scales each society's
// nominal recharge rate.
package climate

import (
	"fmt"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/code-lab-org/sipg-sub003/sim"
)

const (
	octaves     = 3
	persistence = 0.5
	// DefaultFrequency is the base noise frequency in cycles per simulated year.
	DefaultFrequency = 0.35
)

// Variability implements sim.RechargeModel. Each society draws from its own
// noise field seeded from the run key, so results do not depend on the order
// societies are ticked in.
//
// Thread-safety: safe for concurrent use.
type Variability struct {
	key       sim.SimulationKey
	amplitude float64
	frequency float64

	mu     sync.Mutex
	fields map[string]opensimplex.Noise
}

// NewVariability returns a model whose scale stays within [1-amplitude, 1+amplitude].
func NewVariability(key sim.SimulationKey, amplitude float64) (*Variability, error) {
	if amplitude < 0 || amplitude > 1 {
		return nil, fmt.Errorf("recharge variability must be in [0, 1], got %g", amplitude)
	}
	return &Variability{
		key:       key,
		amplitude: amplitude,
		frequency: DefaultFrequency,
		fields:    make(map[string]opensimplex.Noise),
	}, nil
}

// RechargeScale returns the multiplier applied to society's recharge at t.
func (v *Variability) RechargeScale(society string, t sim.Time) float64 {
	if v.amplitude == 0 {
		return 1
	}
	x := float64(t.Year) + float64(t.Iteration)*t.Dt()
	return 1 + v.amplitude*octaveNoise(v.field(society), x, v.frequency)
}

func (v *Variability) field(society string) opensimplex.Noise {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.fields[society]
	if !ok {
		n = opensimplex.NewNormalized(v.key.SeedFor("climate/" + society))
		v.fields[society] = n
	}
	return n
}

// octaveNoise layers octaves of normalized noise along the time axis and maps
// the result to [-1, 1].
func octaveNoise(noise opensimplex.Noise, x, frequency float64) float64 {
	total, amplitude, maxVal := 0.0, 1.0, 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, 0) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return 2*(total/maxVal) - 1
}
