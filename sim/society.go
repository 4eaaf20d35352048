package sim

import (
	"errors"
	"fmt"
	"sort"
)

// Kind is a society's level in the region hierarchy.
type Kind int

const (
	City Kind = iota
	Region
	Country
)

func (k Kind) String() string {
	switch k {
	case City:
		return "City"
	case Region:
		return "Region"
	case Country:
		return "Country"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Society is a node of the region hierarchy. A parent owns its children; the
// parent link is a back-reference used only for lookups.
//
// Cities own one LocalSystem per resource sector and a SocialSystem, unless
// they are simulated by another federate, in which case they hold
// RemoteSystem mirrors. Regions and the country hold one SoS per sector.
type Society struct {
	name     string
	kind     Kind
	parent   *Society
	children []*Society

	locals  [NumSectors]*LocalSystem
	social  *SocialSystem
	sos     [NumSectors]*SoS
	remotes [NumSectors]*RemoteSystem
	remote  bool
}

// NewCountry creates the root of a hierarchy.
func NewCountry(name string) *Society {
	return newInterior(name, Country)
}

// NewRegion creates an interior society.
func NewRegion(name string) *Society {
	return newInterior(name, Region)
}

func newInterior(name string, kind Kind) *Society {
	s := &Society{name: name, kind: kind}
	for _, sector := range Sectors {
		s.sos[sector] = newSoS(sector, s)
	}
	return s
}

// NewCity creates a locally simulated city.
func NewCity(name string, social SocialSpec) (*Society, error) {
	if name == "" {
		return nil, errors.New("city name is empty")
	}
	s := &Society{name: name, kind: City}
	for _, sector := range ResourceSectors {
		s.locals[sector] = newLocalSystem(sector, s)
	}
	sys, err := newSocialSystem(s, social)
	if err != nil {
		return nil, err
	}
	s.social = sys
	return s, nil
}

func (s *Society) Name() string     { return s.name }
func (s *Society) Kind() Kind       { return s.kind }
func (s *Society) IsCity() bool     { return s.kind == City }
func (s *Society) Parent() *Society { return s.parent }

// Remote reports whether another federate simulates this city.
func (s *Society) Remote() bool { return s.remote }

// Children returns the direct children in insertion order.
func (s *Society) Children() []*Society {
	out := make([]*Society, len(s.children))
	copy(out, s.children)
	return out
}

// Root follows parent links to the top of the hierarchy.
func (s *Society) Root() *Society {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// AddChild attaches c below s. It rejects children that already have a
// parent, cycles, duplicate names, cities with children and nested countries.
func (s *Society) AddChild(c *Society) error {
	switch {
	case c == nil:
		return errors.New("nil child society")
	case s.kind == City:
		return fmt.Errorf("city %q cannot have children", s.name)
	case c.kind == Country:
		return fmt.Errorf("country %q cannot be nested under %q", c.name, s.name)
	case c.parent != nil:
		return fmt.Errorf("society %q already has parent %q", c.name, c.parent.name)
	}
	for a := s; a != nil; a = a.parent {
		if a == c {
			return fmt.Errorf("adding %q under %q would create a cycle", c.name, s.name)
		}
	}
	root := s.Root()
	var dup error
	c.Walk(func(n *Society) {
		if dup == nil && root.Find(n.name) != nil {
			dup = fmt.Errorf("society name %q already used", n.name)
		}
	})
	if dup != nil {
		return dup
	}
	c.parent = s
	s.children = append(s.children, c)
	return nil
}

// Walk visits s and its descendants depth-first, parents before children.
func (s *Society) Walk(fn func(*Society)) {
	fn(s)
	for _, c := range s.children {
		c.Walk(fn)
	}
}

// Find returns the named society in the subtree rooted at s, or nil.
func (s *Society) Find(name string) *Society {
	if s.name == name {
		return s
	}
	for _, c := range s.children {
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

// Cities returns the leaf cities under s sorted by name.
func (s *Society) Cities() []*Society {
	var out []*Society
	s.Walk(func(n *Society) {
		if n.kind == City {
			out = append(out, n)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// System returns the system of a sector: a LocalSystem or SocialSystem for
// local cities, a RemoteSystem for remote cities (nil until discovered), and
// an SoS for interior societies.
func (s *Society) System(sector Sector) System {
	if s.kind != City {
		return s.sos[sector]
	}
	if s.remote {
		if r := s.remotes[sector]; r != nil {
			return r
		}
		return nil
	}
	if sector == Social {
		return s.social
	}
	return s.locals[sector]
}

// Local returns the local system of a resource sector, or nil.
func (s *Society) Local(sector Sector) *LocalSystem {
	if s.kind != City || s.remote || !sector.IsResource() {
		return nil
	}
	return s.locals[sector]
}

// Social returns the city's social system, or nil.
func (s *Society) Social() *SocialSystem {
	if s.kind != City || s.remote {
		return nil
	}
	return s.social
}

// SoS returns the aggregator of an interior society, or nil for cities.
func (s *Society) SoS(sector Sector) *SoS {
	if s.kind == City {
		return nil
	}
	return s.sos[sector]
}

// AddElement adds e to the system of sector, delegating through SoS
// aggregators to the city the element originates in.
func (s *Society) AddElement(sector Sector, e *Element) error {
	if !sector.IsResource() {
		return fmt.Errorf("%s systems have no elements", sector)
	}
	if s.kind == City {
		if l := s.Local(sector); l != nil {
			return l.AddElement(e)
		}
		return fmt.Errorf("city %q is not simulated locally", s.name)
	}
	return s.sos[sector].AddElement(e)
}

// MarkRemote hands the city to another federate: its local systems are
// dropped and replaced by mirrors as they are discovered.
func (s *Society) MarkRemote() error {
	if s.kind != City {
		return fmt.Errorf("%s %q cannot be remote", s.kind, s.name)
	}
	s.remote = true
	s.locals = [NumSectors]*LocalSystem{}
	s.social = nil
	return nil
}

// AttachRemote installs a discovered mirror on a remote city.
func (s *Society) AttachRemote(r *RemoteSystem) error {
	if s.kind != City || !s.remote {
		return fmt.Errorf("society %q is not a remote city", s.name)
	}
	s.remotes[r.Sector()] = r
	return nil
}

// Tick ticks children first, then this society's own systems. Errors from
// every entity are collected.
func (s *Society) Tick(t Time) error {
	var errs []error
	for _, c := range s.children {
		if err := c.Tick(t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sys := range s.ownSystems() {
		if err := sys.Tick(t); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", s.name, sys.Sector(), err))
		}
	}
	return errors.Join(errs...)
}

// Tock commits children and then this society's own systems.
func (s *Society) Tock() {
	for _, c := range s.children {
		c.Tock()
	}
	s.tockOwn()
}

func (s *Society) tockOwn() {
	for _, sys := range s.ownSystems() {
		sys.Tock()
	}
}

// ownSystems lists the systems held directly by s.
func (s *Society) ownSystems() []System {
	out := make([]System, 0, NumSectors)
	for _, sector := range Sectors {
		if sys := s.System(sector); sys != nil {
			out = append(out, sys)
		}
	}
	return out
}
