package sim

import (
	"math"
)

// SocialSpec describes a city's population and per-capita demand.
type SocialSpec struct {
	Population float64
	GrowthRate float64 // annual fractional growth

	// Annual demand per person, indexed by the producing sector.
	FoodPerCapita        float64
	WaterPerCapita       float64
	ElectricityPerCapita float64
	PetroleumPerCapita   float64
}

// SocialSystem models a city's population and its demand on the resource sectors.
type SocialSystem struct {
	city       *Society
	spec       SocialSpec
	population float64

	nextPopulation float64
	staged         bool
}

func newSocialSystem(city *Society, spec SocialSpec) (*SocialSystem, error) {
	name := city.Name() + ".Social"
	if spec.Population < 0 || math.IsNaN(spec.Population) {
		return nil, invalid(name, "Population", spec.Population, "must be non-negative")
	}
	if spec.GrowthRate <= -1 || math.IsNaN(spec.GrowthRate) {
		return nil, invalid(name, "GrowthRate", spec.GrowthRate, "must be greater than -1")
	}
	for _, v := range []float64{spec.FoodPerCapita, spec.WaterPerCapita, spec.ElectricityPerCapita, spec.PetroleumPerCapita} {
		if v < 0 || math.IsNaN(v) {
			return nil, invalid(name, "PerCapitaDemand", v, "must be non-negative")
		}
	}
	return &SocialSystem{city: city, spec: spec, population: spec.Population}, nil
}

func (s *SocialSystem) Sector() Sector      { return Social }
func (s *SocialSystem) SocietyName() string { return s.city.Name() }
func (s *SocialSystem) Population() float64 { return s.population }
func (s *SocialSystem) Spec() SocialSpec    { return s.spec }

// Demand returns the population's annual demand for a resource sector's good.
func (s *SocialSystem) Demand(sector Sector) float64 {
	switch sector {
	case Agriculture:
		return s.population * s.spec.FoodPerCapita
	case Water:
		return s.population * s.spec.WaterPerCapita
	case Electricity:
		return s.population * s.spec.ElectricityPerCapita
	case Petroleum:
		return s.population * s.spec.PetroleumPerCapita
	}
	return 0
}

// Tick stages population growth over the step.
func (s *SocialSystem) Tick(t Time) error {
	next := s.population * (1 + s.spec.GrowthRate*t.Dt())
	if next < 0 || math.IsNaN(next) {
		return &InvariantError{Entity: s.city.Name(), Field: KeyPopulation, Value: next, Time: t, Reason: "population must be non-negative"}
	}
	s.nextPopulation, s.staged = next, true
	return nil
}

func (s *SocialSystem) Tock() {
	if s.staged {
		s.population = s.nextPopulation
		s.staged = false
	}
}

func (s *SocialSystem) Attributes() Attributes {
	return Attributes{
		KeyNetCashFlow:        0,
		KeyCapitalExpense:     0,
		KeyCumulativeCashFlow: 0,
		KeyPopulation:         math.Round(s.population),
		"FoodDemand":          s.Demand(Agriculture),
		"WaterDemand":         s.Demand(Water),
		"ElectricityDemand":   s.Demand(Electricity),
		"PetroleumDemand":     s.Demand(Petroleum),
	}
}
