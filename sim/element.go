package sim

import "math"

// overshootTol is the relative tolerance within which solver output past a
// bound is treated as floating-point noise rather than an error.
const overshootTol = 1e-6

// ElementSpec describes an infrastructure element. Loaded from scenario config.
type ElementSpec struct {
	Name        string
	Origin      string // society where the element produces or from which it ships
	Destination string // equal to Origin for production-only elements

	CommissionYear   int // first operational year
	DecommissionYear int // first year no longer operational; 0 = never

	MaxProduction float64
	MaxThroughput float64
	Efficiency    float64 // fraction of throughput arriving at Destination; 0 means 1

	ProductionCost      float64 // per unit produced
	DistributionCost    float64 // per unit moved
	CapitalCost         float64 // booked once when the element becomes operational
	FixedOperationsCost float64 // per year while operational

	ElectricityIntensity             float64 // electricity per unit produced
	DistributionElectricityIntensity float64 // electricity per unit moved
	WaterIntensity                   float64 // water per unit produced
	PetroleumIntensity               float64 // petroleum per unit produced
	ReservoirIntensity               float64 // reservoir units withdrawn per unit produced

	InitialProduction float64
	InitialThroughput float64
}

// Element is one production or distribution node of a sector network.
//
// Committed flows are always within [0, capacity]. Tick stages the lifecycle
// state; the optimizer stages flows; Tock commits both.
type Element struct {
	spec ElementSpec

	operational bool
	production  float64
	throughput  float64

	nextOperational    bool
	nextProduction     float64
	nextThroughput     float64
	productionStaged   bool
	throughputStaged   bool
	commissionedStaged bool
	commissioned       bool // became operational in the last committed step
}

// NewElement validates spec and returns an element with its initial flows.
func NewElement(spec ElementSpec) (*Element, error) {
	if spec.Name == "" {
		return nil, invalid("", "Name", 0, "element name is empty")
	}
	if spec.Origin == "" {
		return nil, invalid(spec.Name, "Origin", 0, "origin is empty")
	}
	if spec.Destination == "" {
		spec.Destination = spec.Origin
	}
	if spec.Efficiency == 0 {
		spec.Efficiency = 1
	}
	if spec.Efficiency < 0 || spec.Efficiency > 1 {
		return nil, invalid(spec.Name, "Efficiency", spec.Efficiency, "must be in (0, 1]")
	}
	nonNeg := []struct {
		field string
		v     float64
	}{
		{"MaxProduction", spec.MaxProduction},
		{"MaxThroughput", spec.MaxThroughput},
		{"ProductionCost", spec.ProductionCost},
		{"DistributionCost", spec.DistributionCost},
		{"CapitalCost", spec.CapitalCost},
		{"FixedOperationsCost", spec.FixedOperationsCost},
		{"ElectricityIntensity", spec.ElectricityIntensity},
		{"DistributionElectricityIntensity", spec.DistributionElectricityIntensity},
		{"WaterIntensity", spec.WaterIntensity},
		{"PetroleumIntensity", spec.PetroleumIntensity},
		{"ReservoirIntensity", spec.ReservoirIntensity},
	}
	for _, f := range nonNeg {
		if f.v < 0 || math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return nil, invalid(spec.Name, f.field, f.v, "must be a finite non-negative number")
		}
	}
	if spec.DecommissionYear != 0 && spec.DecommissionYear <= spec.CommissionYear {
		return nil, invalid(spec.Name, "DecommissionYear", float64(spec.DecommissionYear), "must be after CommissionYear")
	}
	e := &Element{spec: spec}
	if err := e.SetProduction(spec.InitialProduction); err != nil {
		return nil, err
	}
	if err := e.SetThroughput(spec.InitialThroughput); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Element) Name() string        { return e.spec.Name }
func (e *Element) Origin() string      { return e.spec.Origin }
func (e *Element) Destination() string { return e.spec.Destination }

// Spec returns a copy of the element's static description.
func (e *Element) Spec() ElementSpec { return e.spec }

// IsDistribution reports whether the element moves flow between two societies.
func (e *Element) IsDistribution() bool { return e.spec.Origin != e.spec.Destination }

// Exists reports whether the element has been built by year.
func (e *Element) Exists(year int) bool { return year >= e.spec.CommissionYear }

// OperationalIn reports whether the element is operational in year.
func (e *Element) OperationalIn(year int) bool {
	return e.Exists(year) && (e.spec.DecommissionYear == 0 || year < e.spec.DecommissionYear)
}

// Operational returns the committed lifecycle state.
func (e *Element) Operational() bool { return e.operational }

func (e *Element) Production() float64 { return e.production }
func (e *Element) Throughput() float64 { return e.throughput }

// Output is the flow leaving the origin.
func (e *Element) Output() float64 { return e.throughput }

// Input is the flow arriving at the destination after distribution losses.
func (e *Element) Input() float64 { return e.throughput * e.spec.Efficiency }

// ElectricityConsumption is the electricity used by production and distribution.
func (e *Element) ElectricityConsumption() float64 {
	return e.spec.ElectricityIntensity*e.production + e.spec.DistributionElectricityIntensity*e.throughput
}

func (e *Element) WaterConsumption() float64     { return e.spec.WaterIntensity * e.production }
func (e *Element) PetroleumConsumption() float64 { return e.spec.PetroleumIntensity * e.production }

// ReservoirWithdrawals is the annual draw on the owning system's reservoir.
func (e *Element) ReservoirWithdrawals() float64 { return e.spec.ReservoirIntensity * e.production }

// OperatingCost is the annual production, distribution and fixed cost.
func (e *Element) OperatingCost() float64 {
	if !e.operational {
		return 0
	}
	return e.spec.ProductionCost*e.production + e.spec.DistributionCost*e.throughput + e.spec.FixedOperationsCost
}

// CapitalExpense is the capital cost booked in the last committed step.
func (e *Element) CapitalExpense() float64 {
	if e.commissioned {
		return e.spec.CapitalCost
	}
	return 0
}

// stagedCapital is the capital cost of commissioning in the step being ticked.
func (e *Element) stagedCapital() float64 {
	if e.commissionedStaged {
		return e.spec.CapitalCost
	}
	return 0
}

func (e *Element) checkProduction(v float64) error {
	if math.IsNaN(v) || v < 0 || v > e.spec.MaxProduction {
		return invalid(e.spec.Name, "Production", v, "must be in [0, MaxProduction]")
	}
	return nil
}

func (e *Element) checkThroughput(v float64) error {
	if math.IsNaN(v) || v < 0 || v > e.spec.MaxThroughput {
		return invalid(e.spec.Name, "Throughput", v, "must be in [0, MaxThroughput]")
	}
	return nil
}

// SetProduction sets committed production directly. Used by initialization and restore.
func (e *Element) SetProduction(v float64) error {
	if err := e.checkProduction(v); err != nil {
		return err
	}
	e.production = v
	return nil
}

// SetThroughput sets committed throughput directly. Used by initialization and restore.
func (e *Element) SetThroughput(v float64) error {
	if err := e.checkThroughput(v); err != nil {
		return err
	}
	e.throughput = v
	return nil
}

// StageProduction records the production to commit on the next Tock.
func (e *Element) StageProduction(v float64) error {
	if err := e.checkProduction(v); err != nil {
		return err
	}
	e.nextProduction, e.productionStaged = v, true
	return nil
}

// StageThroughput records the throughput to commit on the next Tock.
func (e *Element) StageThroughput(v float64) error {
	if err := e.checkThroughput(v); err != nil {
		return err
	}
	e.nextThroughput, e.throughputStaged = v, true
	return nil
}

// ClampProduction absorbs solver overshoot against MaxProduction. Values
// further out than the tolerance are returned unchanged so validation rejects them.
func (e *Element) ClampProduction(v float64) float64 {
	return clampOvershoot(v, e.spec.MaxProduction)
}

// ClampThroughput absorbs solver overshoot against MaxThroughput.
func (e *Element) ClampThroughput(v float64) float64 {
	return clampOvershoot(v, e.spec.MaxThroughput)
}

func clampOvershoot(v, upper float64) float64 {
	tol := overshootTol * math.Max(1, upper)
	switch {
	case v < 0 && v >= -tol:
		return 0
	case v > upper && v <= upper+tol:
		return upper
	}
	return v
}

// clampFloor absorbs solver undershoot below zero.
func clampFloor(v float64) float64 {
	if v < 0 && v >= -overshootTol {
		return 0
	}
	return v
}

// Tick stages the lifecycle state for t. Flows are staged by the optimizer.
func (e *Element) Tick(t Time) error {
	e.nextOperational = e.OperationalIn(t.Year)
	e.commissionedStaged = e.nextOperational && !e.operational && t.Year == e.spec.CommissionYear
	return nil
}

// Tock commits the staged lifecycle state and flows. Unstaged flows carry over;
// a non-operational element commits zero flow.
func (e *Element) Tock() {
	if e.productionStaged {
		e.production = e.nextProduction
	}
	if e.throughputStaged {
		e.throughput = e.nextThroughput
	}
	e.operational = e.nextOperational
	e.commissioned = e.commissionedStaged
	if !e.operational {
		e.production, e.throughput = 0, 0
	}
	e.productionStaged, e.throughputStaged, e.commissionedStaged = false, false, false
}

// reset initializes the lifecycle state for the first simulated year.
func (e *Element) reset(year int) {
	e.operational = e.OperationalIn(year)
	e.nextOperational = e.operational
	e.commissioned = false
	if !e.operational {
		e.production, e.throughput = 0, 0
	}
}

// ElementState is the committed state of an element in a checkpoint.
type ElementState struct {
	Production   float64
	Throughput   float64
	Operational  bool
	Commissioned bool
}

func (e *Element) state() ElementState {
	return ElementState{Production: e.production, Throughput: e.throughput, Operational: e.operational, Commissioned: e.commissioned}
}

func (e *Element) apply(s ElementState) error {
	if err := e.checkProduction(s.Production); err != nil {
		return err
	}
	if err := e.checkThroughput(s.Throughput); err != nil {
		return err
	}
	e.production, e.throughput = s.Production, s.Throughput
	e.operational, e.nextOperational = s.Operational, s.Operational
	e.commissioned = s.Commissioned
	e.productionStaged, e.throughputStaged, e.commissionedStaged = false, false, false
	return nil
}
