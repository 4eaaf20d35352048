package sim

import (
	"context"
	"time"
)

// NetworkCity is one balance node of a flow network.
type NetworkCity struct {
	Name             string
	Demand           float64 // total annual demand for the sector's good
	Production       float64 // committed local production; fixed unless Network.Joint
	ImportPrice      float64
	ExportPrice      float64
	ImportAllowed    bool
	MaxExport        float64 // 0 means unconstrained
	ElectricityPrice float64 // prevailing domestic electricity price
	Import           float64 // previous step, used for warm start
	Export           float64
}

// NetDemand is the demand left after fixed local production.
func (c NetworkCity) NetDemand(joint bool) float64 {
	if joint {
		return c.Demand
	}
	return c.Demand - c.Production
}

// NetworkElement is the optimizer's view of one operational element.
type NetworkElement struct {
	Name        string
	Origin      string
	Destination string

	MaxProduction float64
	MaxThroughput float64
	Efficiency    float64

	ProductionCost                   float64
	DistributionCost                 float64
	ElectricityIntensity             float64
	DistributionElectricityIntensity float64

	Production float64 // previous step, used for warm start
	Throughput float64
}

// IsDistribution reports whether the element moves flow between two cities.
func (e NetworkElement) IsDistribution() bool { return e.Origin != e.Destination }

// PriceDeltas shift unit prices for sensitivity and what-if analysis.
type PriceDeltas struct {
	Production  float64
	Import      float64
	Export      float64
	Electricity float64
}

// Network is a single sector's flow allocation problem for one step.
type Network struct {
	Sector   Sector
	Time     Time
	Joint    bool // decide production as well as throughput
	Cities   []NetworkCity
	Elements []NetworkElement
	Deltas   PriceDeltas
}

// FlowResult is the outcome of one optimization. When OK is false every map
// is nil and Reason explains the failure.
type FlowResult struct {
	OK         bool
	Reason     string
	Cost       float64
	Production map[string]float64 // by element; only elements with a production variable
	Throughput map[string]float64 // by element; only distribution elements
	Imports    map[string]float64 // by city
	Exports    map[string]float64 // by city
}

// Failed builds an unsuccessful result.
func Failed(reason string) FlowResult {
	return FlowResult{Reason: reason}
}

// FlowOptimizer allocates production and distribution flow across a sector network.
// Optimize must return within the configured timeout.
type FlowOptimizer interface {
	Optimize(ctx context.Context, n Network) FlowResult
}

// OptimizerConfig groups flow optimizer parameters.
type OptimizerConfig struct {
	Timeout      time.Duration // per solve; 0 means the optimizer default
	MaxVariables int           // problem size bound; 0 means the optimizer default
	Tolerance    float64       // simplex tolerance; 0 means the optimizer default
	WarmStart    bool          // seed the solver with a basis from the previous flows
	Deltas       PriceDeltas
}

// NewFlowOptimizerFunc is set by sim/optimize's init(). Callers that enable
// optimization must import sim/optimize, directly or for side effects.
var NewFlowOptimizerFunc func(cfg OptimizerConfig) FlowOptimizer
