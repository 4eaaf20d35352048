package sim

import (
	"fmt"
	"sort"
)

// State is the committed state of a simulation: enough to resume a run from
// the same point given the same scenario.
type State struct {
	Clock     Time
	StepCount int
	Cities    map[string]CityState
}

// CityState is the committed state of one locally simulated city.
type CityState struct {
	Population float64
	Locals     map[string]LocalState // keyed by sector name
}

// CityNames returns the captured city names in sorted order.
func (s State) CityNames() []string {
	names := make([]string, 0, len(s.Cities))
	for n := range s.Cities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Capture copies the committed state of every local city. Staged values are
// not captured; call it between steps.
func (s *Simulator) Capture() State {
	st := State{Clock: s.Clock, StepCount: s.StepCount, Cities: make(map[string]CityState)}
	for _, c := range s.Root.Cities() {
		if c.Remote() {
			continue
		}
		cs := CityState{Population: c.social.population, Locals: make(map[string]LocalState, len(ResourceSectors))}
		for _, sector := range ResourceSectors {
			cs.Locals[sector.String()] = c.locals[sector].state()
		}
		st.Cities[c.Name()] = cs
	}
	return st
}

// Apply restores a captured state onto the same scenario. Every local city
// must be present in st. On error the simulator may be partially restored.
func (s *Simulator) Apply(st State) error {
	if st.Clock.Iterations != s.config.Iterations {
		return fmt.Errorf("state has %d iterations per year, simulator has %d", st.Clock.Iterations, s.config.Iterations)
	}
	for _, c := range s.Root.Cities() {
		if c.Remote() {
			continue
		}
		cs, ok := st.Cities[c.Name()]
		if !ok {
			return fmt.Errorf("state has no entry for city %q", c.Name())
		}
		if cs.Population < 0 {
			return invalid(c.Name(), KeyPopulation, cs.Population, "must be non-negative")
		}
		c.social.population, c.social.staged = cs.Population, false
		for _, sector := range ResourceSectors {
			ls, ok := cs.Locals[sector.String()]
			if !ok {
				return fmt.Errorf("state has no %s system for city %q", sector, c.Name())
			}
			if err := c.locals[sector].apply(ls); err != nil {
				return err
			}
		}
	}
	s.Clock = st.Clock
	s.StepCount = st.StepCount
	for _, sector := range ResourceSectors {
		s.Root.SoS(sector).last = FlowResult{}
	}
	return nil
}
