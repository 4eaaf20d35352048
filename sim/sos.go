package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SoS presents the systems of one sector nested under a society as a single
// system. It never owns elements; mutations are delegated to the local system
// of the city the element originates in.
//
// The root SoS of each resource sector runs the flow optimizer during Tick.
type SoS struct {
	sector  Sector
	society *Society

	optimizer FlowOptimizer
	joint     bool
	deltas    PriceDeltas
	log       *logrus.Entry

	last     FlowResult
	nextLast FlowResult
	staged   bool
}

func newSoS(sector Sector, society *Society) *SoS {
	return &SoS{sector: sector, society: society}
}

func (s *SoS) Sector() Sector      { return s.sector }
func (s *SoS) SocietyName() string { return s.society.Name() }

// LastResult returns the committed result of the most recent optimization.
func (s *SoS) LastResult() FlowResult { return s.last }

// Systems returns the nested systems of this sector, one per child society.
func (s *SoS) Systems() []System {
	out := make([]System, 0, len(s.society.children))
	for _, c := range s.society.children {
		if sys := c.System(s.sector); sys != nil {
			out = append(out, sys)
		}
	}
	return out
}

// AddElement delegates to the nested local system of the element's origin city.
func (s *SoS) AddElement(e *Element) error {
	local, err := s.localFor(e.Origin())
	if err != nil {
		return err
	}
	return local.AddElement(e)
}

// RemoveElement delegates to the nested local system of the given origin city.
func (s *SoS) RemoveElement(origin, name string) error {
	local, err := s.localFor(origin)
	if err != nil {
		return err
	}
	return local.RemoveElement(name)
}

func (s *SoS) localFor(origin string) (*LocalSystem, error) {
	city := s.society.Find(origin)
	if city == nil || !city.IsCity() {
		return nil, fmt.Errorf("%s: no nested city named %q", s.society.Name(), origin)
	}
	local := city.Local(s.sector)
	if local == nil {
		return nil, fmt.Errorf("%s: city %q has no local %s system", s.society.Name(), origin, s.sector)
	}
	return local, nil
}

// Attributes aggregates the nested systems' attributes.
func (s *SoS) Attributes() Attributes {
	systems := s.Systems()
	parts := make([]Attributes, 0, len(systems))
	for _, sys := range systems {
		parts = append(parts, sys.Attributes())
	}
	return aggregate(s.sector, parts)
}

// Tick runs the flow optimizer when this is a root resource SoS. The
// optimizer reads committed state only and stages its flows; a failed solve
// stages nothing, so the previous flows carry over.
func (s *SoS) Tick(t Time) error {
	s.nextLast, s.staged = FlowResult{}, false
	if s.optimizer == nil || !s.sector.IsResource() || s.society.parent != nil {
		return nil
	}
	net, locals, elems := s.network(t)
	log := s.logger().WithFields(logrus.Fields{"sector": s.sector.String(), "year": t.Year, "iteration": t.Iteration})

	res := s.optimizer.Optimize(context.Background(), net)
	if res.OK {
		if err := stageResult(net, res, locals, elems); err != nil {
			res = Failed(err.Error())
		}
	}
	if !res.OK {
		log.WithField("reason", res.Reason).Warn("flow optimization failed; keeping previous flows")
	} else {
		log.WithField("cost", res.Cost).Debug("flow optimization solved")
	}
	s.nextLast, s.staged = res, true
	return nil
}

func (s *SoS) Tock() {
	if s.staged {
		s.last = s.nextLast
		s.staged = false
	}
}

func (s *SoS) logger() *logrus.Entry {
	if s.log != nil {
		return s.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// network builds the optimization problem from committed state of the locally
// owned cities. Only elements operational in t's year take part, since Tock
// zeroes the flows of the others. Elements shipping to cities outside the
// network are left out and keep their flows.
func (s *SoS) network(t Time) (Network, map[string]*LocalSystem, map[string]*Element) {
	net := Network{Sector: s.sector, Time: t, Joint: s.joint, Deltas: s.deltas}
	locals := make(map[string]*LocalSystem)
	elems := make(map[string]*Element)
	for _, c := range s.society.Cities() {
		if l := c.Local(s.sector); l != nil {
			locals[c.Name()] = l
		}
	}
	for _, c := range s.society.Cities() {
		l, ok := locals[c.Name()]
		if !ok {
			continue
		}
		p := l.prices
		net.Cities = append(net.Cities, NetworkCity{
			Name:             c.Name(),
			Demand:           l.Consumption(),
			Production:       l.productionIn(t.Year),
			ImportPrice:      p.Import,
			ExportPrice:      p.Export,
			ImportAllowed:    p.ImportAvailable(),
			MaxExport:        p.MaxExport,
			ElectricityPrice: l.electricityPrice(),
			Import:           l.imports,
			Export:           l.exports,
		})
		for _, e := range l.elements {
			if !e.OperationalIn(t.Year) {
				continue
			}
			if _, ok := locals[e.Destination()]; !ok {
				continue
			}
			sp := e.spec
			net.Elements = append(net.Elements, NetworkElement{
				Name:                             e.Name(),
				Origin:                           sp.Origin,
				Destination:                      sp.Destination,
				MaxProduction:                    sp.MaxProduction,
				MaxThroughput:                    sp.MaxThroughput,
				Efficiency:                       sp.Efficiency,
				ProductionCost:                   sp.ProductionCost,
				DistributionCost:                 sp.DistributionCost,
				ElectricityIntensity:             sp.ElectricityIntensity,
				DistributionElectricityIntensity: sp.DistributionElectricityIntensity,
				Production:                       e.production,
				Throughput:                       e.throughput,
			})
			elems[e.Name()] = e
		}
	}
	return net, locals, elems
}

// stageResult validates every value of res before staging any of them, so a
// rejected result leaves all elements untouched.
func stageResult(net Network, res FlowResult, locals map[string]*LocalSystem, elems map[string]*Element) error {
	prod := make(map[*Element]float64)
	thru := make(map[*Element]float64)
	for name, v := range res.Production {
		e, ok := elems[name]
		if !ok {
			return fmt.Errorf("result names unknown element %q", name)
		}
		v = e.ClampProduction(v)
		if err := e.checkProduction(v); err != nil {
			return err
		}
		prod[e] = v
	}
	for name, v := range res.Throughput {
		e, ok := elems[name]
		if !ok {
			return fmt.Errorf("result names unknown element %q", name)
		}
		v = e.ClampThroughput(v)
		if err := e.checkThroughput(v); err != nil {
			return err
		}
		thru[e] = v
	}
	trade := make(map[*LocalSystem][2]float64)
	for _, c := range net.Cities {
		l := locals[c.Name]
		imp := clampFloor(res.Imports[c.Name])
		exp := clampFloor(res.Exports[c.Name])
		if l.prices.MaxExport > 0 {
			exp = clampOvershoot(exp, l.prices.MaxExport)
		}
		if imp < 0 || exp < 0 || (l.prices.MaxExport > 0 && exp > l.prices.MaxExport) {
			return fmt.Errorf("result trade for %q out of range: import=%g export=%g", c.Name, imp, exp)
		}
		trade[l] = [2]float64{imp, exp}
	}
	var errs []error
	for e, v := range prod {
		errs = append(errs, e.StageProduction(v))
	}
	for e, v := range thru {
		errs = append(errs, e.StageThroughput(v))
	}
	for l, v := range trade {
		errs = append(errs, l.StageTrade(v[0], v[1]))
	}
	return errors.Join(errs...)
}
