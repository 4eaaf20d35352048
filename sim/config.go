package sim

import (
	"fmt"
	"time"
)

// SimulationConfig groups the parameters of a simulation run.
type SimulationConfig struct {
	StartYear    int  // first simulated year
	EndYear      int  // run stops when the clock reaches this year
	Iterations   int  // steps per simulated year (>= 1)
	Joint        bool // optimize production together with distribution
	ParallelTock bool // commit the root's child subtrees concurrently
	Optimize     bool // run the flow optimizer on root SoS aggregators
	Optimizer    OptimizerConfig
}

// NewSimulationConfig returns a config for [startYear, endYear) with the optimizer enabled.
func NewSimulationConfig(startYear, endYear, iterations int) SimulationConfig {
	return SimulationConfig{
		StartYear:  startYear,
		EndYear:    endYear,
		Iterations: iterations,
		Joint:      true,
		Optimize:   true,
		Optimizer:  OptimizerConfig{Timeout: 2 * time.Second, WarmStart: true},
	}
}

// Validate reports the first out-of-domain field.
func (c SimulationConfig) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1, got %d", c.Iterations)
	}
	if c.EndYear < c.StartYear {
		return fmt.Errorf("end year %d is before start year %d", c.EndYear, c.StartYear)
	}
	if c.Optimizer.Timeout < 0 {
		return fmt.Errorf("optimizer timeout must be non-negative, got %s", c.Optimizer.Timeout)
	}
	return nil
}
