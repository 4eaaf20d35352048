package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Prices are the unit prices a local system trades at.
type Prices struct {
	Domestic      float64
	Import        float64
	Export        float64
	ImportBlocked bool    // imports disallowed regardless of price
	MaxExport     float64 // annual export cap; 0 means unconstrained
}

// ImportAvailable reports whether the city may import at a finite price.
func (p Prices) ImportAvailable() bool {
	return !p.ImportBlocked && !math.IsInf(p.Import, 1) && !math.IsNaN(p.Import)
}

// LocalSystem owns the elements of one resource sector in one city.
type LocalSystem struct {
	sector    Sector
	city      *Society // owning city; lookup only
	elements  []*Element
	prices    Prices
	reservoir *Reservoir
	recharge  RechargeModel

	imports            float64
	exports            float64
	netCashFlow        float64
	capitalExpense     float64
	cumulativeCashFlow float64

	nextImports     float64
	nextExports     float64
	tradeStaged     bool
	nextNetCashFlow float64
	nextCapital     float64
	nextCashDelta   float64
}

func newLocalSystem(sector Sector, city *Society) *LocalSystem {
	return &LocalSystem{sector: sector, city: city, prices: Prices{Import: math.Inf(1)}}
}

func (l *LocalSystem) Sector() Sector      { return l.sector }
func (l *LocalSystem) SocietyName() string { return l.city.Name() }

// Elements returns the owned elements sorted by name.
func (l *LocalSystem) Elements() []*Element {
	out := make([]*Element, len(l.elements))
	copy(out, l.elements)
	return out
}

// AddElement takes ownership of e. The element must originate in this city.
func (l *LocalSystem) AddElement(e *Element) error {
	if e == nil {
		return errors.New("nil element")
	}
	if e.Origin() != l.city.Name() {
		return fmt.Errorf("element %q originates in %q, not %q", e.Name(), e.Origin(), l.city.Name())
	}
	for _, x := range l.elements {
		if x.Name() == e.Name() {
			return fmt.Errorf("element %q already in %s %s system", e.Name(), l.city.Name(), l.sector)
		}
	}
	l.elements = append(l.elements, e)
	sort.Slice(l.elements, func(i, j int) bool { return l.elements[i].Name() < l.elements[j].Name() })
	return nil
}

// RemoveElement releases the named element.
func (l *LocalSystem) RemoveElement(name string) error {
	for i, x := range l.elements {
		if x.Name() == name {
			l.elements = append(l.elements[:i], l.elements[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("element %q not found in %s %s system", name, l.city.Name(), l.sector)
}

// Element returns the named element or nil.
func (l *LocalSystem) Element(name string) *Element {
	for _, x := range l.elements {
		if x.Name() == name {
			return x
		}
	}
	return nil
}

func (l *LocalSystem) Prices() Prices { return l.prices }

// SetPrices validates and replaces the trade prices.
func (l *LocalSystem) SetPrices(p Prices) error {
	name := l.city.Name() + "." + l.sector.String()
	switch {
	case p.Domestic < 0 || math.IsNaN(p.Domestic):
		return invalid(name, "DomesticPrice", p.Domestic, "must be non-negative")
	case p.Import < 0 || math.IsNaN(p.Import):
		return invalid(name, "ImportPrice", p.Import, "must be non-negative")
	case p.Export < 0 || math.IsNaN(p.Export) || math.IsInf(p.Export, 0):
		return invalid(name, "ExportPrice", p.Export, "must be finite and non-negative")
	case p.MaxExport < 0 || math.IsNaN(p.MaxExport):
		return invalid(name, "MaxExport", p.MaxExport, "must be non-negative")
	}
	l.prices = p
	return nil
}

func (l *LocalSystem) Reservoir() *Reservoir { return l.reservoir }

// SetReservoir attaches a stock to the system. Only water and petroleum draw on reservoirs.
func (l *LocalSystem) SetReservoir(r *Reservoir) error {
	if l.sector != Water && l.sector != Petroleum {
		return fmt.Errorf("%s systems have no reservoir", l.sector)
	}
	l.reservoir = r
	return nil
}

func (l *LocalSystem) Imports() float64            { return l.imports }
func (l *LocalSystem) Exports() float64            { return l.exports }
func (l *LocalSystem) NetCashFlow() float64        { return l.netCashFlow }
func (l *LocalSystem) CapitalExpense() float64     { return l.capitalExpense }
func (l *LocalSystem) CumulativeCashFlow() float64 { return l.cumulativeCashFlow }

// Production sums production of elements originating in the city.
func (l *LocalSystem) Production() float64 {
	var sum float64
	for _, e := range l.elements {
		sum += e.Production()
	}
	return sum
}

// productionIn sums committed production of the elements still operational
// in year; the rest commit zero at the next Tock.
func (l *LocalSystem) productionIn(year int) float64 {
	var sum float64
	for _, e := range l.elements {
		if e.OperationalIn(year) {
			sum += e.Production()
		}
	}
	return sum
}

// DistributionOut sums throughput leaving the city.
func (l *LocalSystem) DistributionOut() float64 {
	var sum float64
	for _, e := range l.elements {
		if e.IsDistribution() {
			sum += e.Output()
		}
	}
	return sum
}

// DistributionIn sums efficiency-weighted throughput arriving from other
// cities' elements of the same sector.
func (l *LocalSystem) DistributionIn() float64 {
	root := l.city.Root()
	var sum float64
	for _, c := range root.Cities() {
		if c == l.city {
			continue
		}
		other := c.Local(l.sector)
		if other == nil {
			continue
		}
		for _, e := range other.elements {
			if e.Destination() == l.city.Name() {
				sum += e.Input()
			}
		}
	}
	return sum
}

func (l *LocalSystem) ElectricityConsumption() float64 {
	var sum float64
	for _, e := range l.elements {
		sum += e.ElectricityConsumption()
	}
	return sum
}

func (l *LocalSystem) WaterConsumption() float64 {
	var sum float64
	for _, e := range l.elements {
		sum += e.WaterConsumption()
	}
	return sum
}

func (l *LocalSystem) PetroleumConsumption() float64 {
	var sum float64
	for _, e := range l.elements {
		sum += e.PetroleumConsumption()
	}
	return sum
}

// resourceUse returns how much of good sector this system's elements consume.
func (l *LocalSystem) resourceUse(good Sector) float64 {
	switch good {
	case Electricity:
		return l.ElectricityConsumption()
	case Water:
		return l.WaterConsumption()
	case Petroleum:
		return l.PetroleumConsumption()
	}
	return 0
}

// Consumption is the city's total annual demand for this sector's good:
// social demand plus other sectors' resource use.
func (l *LocalSystem) Consumption() float64 {
	var sum float64
	if s := l.city.Social(); s != nil {
		sum += s.Demand(l.sector)
	}
	for _, other := range ResourceSectors {
		if other == l.sector {
			continue
		}
		if o := l.city.Local(other); o != nil {
			sum += o.resourceUse(l.sector)
		}
	}
	return sum
}

// electricityPrice is the prevailing domestic electricity price in the city.
func (l *LocalSystem) electricityPrice() float64 {
	if e := l.city.Local(Electricity); e != nil {
		return e.prices.Domestic
	}
	return 0
}

func (l *LocalSystem) reservoirWithdrawals() float64 {
	var sum float64
	for _, e := range l.elements {
		sum += e.ReservoirWithdrawals()
	}
	return sum
}

// StageTrade records the optimizer's import and export for the next Tock.
func (l *LocalSystem) StageTrade(imports, exports float64) error {
	name := l.city.Name() + "." + l.sector.String()
	if imports < 0 || math.IsNaN(imports) {
		return invalid(name, "Import", imports, "must be non-negative")
	}
	if exports < 0 || math.IsNaN(exports) {
		return invalid(name, "Export", exports, "must be non-negative")
	}
	if l.prices.MaxExport > 0 && exports > l.prices.MaxExport {
		return invalid(name, "Export", exports, "exceeds MaxExport")
	}
	l.nextImports, l.nextExports, l.tradeStaged = imports, exports, true
	return nil
}

// Tick stages element lifecycle, reservoir volume and the step's cash flow.
func (l *LocalSystem) Tick(t Time) error {
	var errs []error
	for _, e := range l.elements {
		if err := e.Tick(t); err != nil {
			errs = append(errs, err)
		}
	}
	if l.reservoir != nil {
		scale := 1.0
		if l.recharge != nil {
			scale = l.recharge.RechargeScale(l.city.Name(), t)
		}
		if err := l.reservoir.Tick(t, l.reservoirWithdrawals(), scale); err != nil {
			errs = append(errs, err)
		}
	}

	revenue := l.Consumption()*l.prices.Domestic + l.exports*l.prices.Export
	expense := 0.0
	if l.imports > 0 {
		expense += l.imports * l.prices.Import
	}
	capital := 0.0
	for _, e := range l.elements {
		expense += e.OperatingCost()
		capital += e.stagedCapital()
	}
	if l.sector != Electricity {
		expense += l.ElectricityConsumption() * l.electricityPrice()
	}
	l.nextNetCashFlow = revenue - expense
	l.nextCapital = capital
	l.nextCashDelta = l.nextNetCashFlow*t.Dt() - capital
	return errors.Join(errs...)
}

// Tock commits elements, reservoir, trade and cash flow.
func (l *LocalSystem) Tock() {
	for _, e := range l.elements {
		e.Tock()
	}
	if l.reservoir != nil {
		l.reservoir.Tock()
	}
	if l.tradeStaged {
		l.imports, l.exports = l.nextImports, l.nextExports
		l.tradeStaged = false
	}
	l.netCashFlow = l.nextNetCashFlow
	l.capitalExpense = l.nextCapital
	l.cumulativeCashFlow += l.nextCashDelta
	l.nextCashDelta = 0
}

// Attributes returns the published values for this system.
func (l *LocalSystem) Attributes() Attributes {
	g := l.sector.Good()
	full := Attributes{
		KeyNetCashFlow:           l.netCashFlow,
		KeyCapitalExpense:        l.capitalExpense,
		KeyCumulativeCashFlow:    l.cumulativeCashFlow,
		"ElectricityConsumption": l.ElectricityConsumption(),
		"WaterConsumption":       l.WaterConsumption(),
		"PetroleumConsumption":   l.PetroleumConsumption(),
		g + "Production":         l.Production(),
		g + "Consumption":        l.Consumption(),
		g + "Import":             l.imports,
		g + "Export":             l.exports,
		g + "DomesticPrice":      l.prices.Domestic,
		g + "ImportPrice":        l.prices.Import,
		g + "ExportPrice":        l.prices.Export,
	}
	if l.reservoir != nil {
		full[g+"ReservoirVolume"] = l.reservoir.Volume()
		full[g+"ReservoirWithdrawals"] = l.reservoir.Withdrawals()
	}
	return project(l.sector, full)
}

// project keeps only the keys published for sector s.
func project(s Sector, full Attributes) Attributes {
	out := make(Attributes)
	for _, k := range Schema(s) {
		if v, ok := full[k]; ok {
			out[k] = v
		}
	}
	return out
}

// LocalState is the committed state of a local system in a checkpoint.
type LocalState struct {
	Imports            float64
	Exports            float64
	NetCashFlow        float64
	CapitalExpense     float64
	CumulativeCashFlow float64
	Reservoir          *ReservoirState
	Elements           map[string]ElementState
}

func (l *LocalSystem) state() LocalState {
	s := LocalState{
		Imports:            l.imports,
		Exports:            l.exports,
		NetCashFlow:        l.netCashFlow,
		CapitalExpense:     l.capitalExpense,
		CumulativeCashFlow: l.cumulativeCashFlow,
		Elements:           make(map[string]ElementState, len(l.elements)),
	}
	if l.reservoir != nil {
		r := l.reservoir.state()
		s.Reservoir = &r
	}
	for _, e := range l.elements {
		s.Elements[e.Name()] = e.state()
	}
	return s
}

func (l *LocalSystem) apply(s LocalState) error {
	for _, e := range l.elements {
		es, ok := s.Elements[e.Name()]
		if !ok {
			return fmt.Errorf("checkpoint has no state for element %q", e.Name())
		}
		if err := e.apply(es); err != nil {
			return err
		}
	}
	if l.reservoir != nil {
		if s.Reservoir == nil {
			return fmt.Errorf("checkpoint has no reservoir state for %s %s", l.city.Name(), l.sector)
		}
		if err := l.reservoir.apply(*s.Reservoir); err != nil {
			return err
		}
	}
	l.imports, l.exports = s.Imports, s.Exports
	l.netCashFlow, l.capitalExpense, l.cumulativeCashFlow = s.NetCashFlow, s.CapitalExpense, s.CumulativeCashFlow
	l.tradeStaged, l.nextCashDelta = false, 0
	return nil
}
