package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSimulationConfig_Defaults(t *testing.T) {
	got := NewSimulationConfig(1950, 2000, 4)
	want := SimulationConfig{
		StartYear:  1950,
		EndYear:    2000,
		Iterations: 4,
		Joint:      true,
		Optimize:   true,
		Optimizer:  OptimizerConfig{Timeout: 2 * time.Second, WarmStart: true},
	}
	assert.Equal(t, want, got)
	assert.NoError(t, got.Validate())
}

func TestSimulationConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimulationConfig)
		want   string
	}{
		{"zero iterations", func(c *SimulationConfig) { c.Iterations = 0 }, "iterations"},
		{"end before start", func(c *SimulationConfig) { c.EndYear = c.StartYear - 1 }, "before start year"},
		{"negative timeout", func(c *SimulationConfig) { c.Optimizer.Timeout = -time.Second }, "timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewSimulationConfig(2000, 2010, 1)
			tc.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tc.want)
		})
	}

	// an empty run is valid: the simulator is done before its first step
	assert.NoError(t, NewSimulationConfig(2000, 2000, 1).Validate())
}
