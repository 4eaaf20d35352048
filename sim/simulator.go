// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// StepObserver is notified after every committed step.
type StepObserver interface {
	OnStep(t Time, root *Society) error
}

// Simulator is the core object that holds the simulation clock and the society
// tree, and drives the tick/tock protocol.
//
// Thread-safety: NOT thread-safe. Step and the state accessors must be called
// from one goroutine.
type Simulator struct {
	Clock Time
	Root  *Society
	// StepCount counts committed steps since construction or the last Apply.
	StepCount int

	config    SimulationConfig
	optimizer FlowOptimizer
	observers []StepObserver
	log       *logrus.Entry
}

// NewSimulator validates the configuration, wires the optimizer into the
// root aggregators and initializes element lifecycles for the start year.
func NewSimulator(config SimulationConfig, root *Society, recharge RechargeModel) (*Simulator, error) {
	if root == nil {
		panic("NewSimulator: root society is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if root.Kind() != Country || root.Parent() != nil {
		return nil, fmt.Errorf("root society %q must be a parentless country", root.Name())
	}
	s := &Simulator{
		Clock:  Time{Year: config.StartYear, Iterations: config.Iterations},
		Root:   root,
		config: config,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	if config.Optimize {
		if NewFlowOptimizerFunc == nil {
			return nil, errors.New("flow optimizer not registered: import sim/optimize")
		}
		s.optimizer = NewFlowOptimizerFunc(config.Optimizer)
	}
	root.Walk(func(n *Society) {
		for _, sector := range ResourceSectors {
			if l := n.Local(sector); l != nil {
				l.recharge = recharge
				for _, e := range l.elements {
					e.reset(config.StartYear)
				}
			}
		}
	})
	s.wireAggregators()
	return s, nil
}

// Config returns the run configuration.
func (s *Simulator) Config() SimulationConfig { return s.config }

// SetLogger replaces the entry used for run-level and optimizer logging.
func (s *Simulator) SetLogger(log *logrus.Entry) {
	s.log = log
	s.wireAggregators()
}

// AddObserver registers an observer called after each committed step.
func (s *Simulator) AddObserver(o StepObserver) {
	s.observers = append(s.observers, o)
}

func (s *Simulator) wireAggregators() {
	for _, sector := range ResourceSectors {
		sos := s.Root.SoS(sector)
		sos.optimizer = s.optimizer
		sos.joint = s.config.Joint
		sos.deltas = s.config.Optimizer.Deltas
		sos.log = s.log
	}
}

// Done reports whether the clock reached the end year.
func (s *Simulator) Done() bool {
	return s.Clock.Year >= s.config.EndYear
}

// Step ticks the whole tree, then tocks it, then advances the clock by one
// iteration. An *InvariantError from tick stops the step before any commit.
func (s *Simulator) Step() error {
	t := s.Clock
	if err := s.Root.Tick(t); err != nil {
		s.log.WithFields(logrus.Fields{"year": t.Year, "iteration": t.Iteration}).Errorf("tick failed: %v", err)
		return err
	}
	if s.config.ParallelTock {
		s.parallelTock()
	} else {
		s.Root.Tock()
	}
	s.Clock = t.Next()
	s.StepCount++
	for _, o := range s.observers {
		if err := o.OnStep(t, s.Root); err != nil {
			s.log.WithField("year", t.Year).Warnf("step observer failed: %v", err)
		}
	}
	return nil
}

// parallelTock commits each child subtree of the root concurrently; subtrees
// touch disjoint state. The root's own aggregators commit last.
func (s *Simulator) parallelTock() {
	var wg sync.WaitGroup
	for _, c := range s.Root.children {
		wg.Add(1)
		go func(c *Society) {
			defer wg.Done()
			c.Tock()
		}(c)
	}
	wg.Wait()
	s.Root.tockOwn()
}

// Run steps until the end year, a fatal error or cancellation. Cancellation is
// checked between steps only.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{"start": s.config.StartYear, "end": s.config.EndYear, "iterations": s.config.Iterations}).Info("simulation started")
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	s.log.WithField("year", s.Clock.Year).Info("simulation ended")
	return nil
}
