package sim

import (
	"fmt"
	"strings"
)

// Sector identifies one of the modeled infrastructure sectors.
type Sector int

const (
	Agriculture Sector = iota
	Water
	Petroleum
	Electricity
	Social
)

// NumSectors is the number of modeled sectors.
const NumSectors = 5

// ClassPrefix is the object class hierarchy shared by every federate.
const ClassPrefix = "Root.InfrastructureSystem."

// Sectors lists every sector in canonical order.
var Sectors = []Sector{Agriculture, Water, Petroleum, Electricity, Social}

// ResourceSectors lists the sectors that own element networks.
var ResourceSectors = []Sector{Agriculture, Water, Petroleum, Electricity}

var sectorNames = [NumSectors]string{"Agriculture", "Water", "Petroleum", "Electricity", "Social"}

// goods names the resource a sector produces; used as attribute key prefix.
var goods = [NumSectors]string{"Food", "Water", "Petroleum", "Electricity", ""}

func (s Sector) String() string {
	if s < 0 || int(s) >= NumSectors {
		return fmt.Sprintf("Sector(%d)", int(s))
	}
	return sectorNames[s]
}

// Good returns the name of the resource produced by the sector ("Food" for agriculture).
func (s Sector) Good() string {
	return goods[s]
}

// IsResource reports whether the sector has an element network and runs the optimizer.
func (s Sector) IsResource() bool {
	return s != Social
}

// ClassName returns the dotted object class name used for discovery.
func (s Sector) ClassName() string {
	return ClassPrefix + s.String() + "System"
}

// ParseSector parses a sector name, case-insensitively.
func ParseSector(name string) (Sector, error) {
	for i, n := range sectorNames {
		if strings.EqualFold(n, name) {
			return Sector(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sector %q", name)
}

// SectorForClass maps an object class name back to its sector.
func SectorForClass(class string) (Sector, error) {
	name, ok := strings.CutPrefix(class, ClassPrefix)
	if !ok {
		return 0, fmt.Errorf("unknown object class %q", class)
	}
	name, ok = strings.CutSuffix(name, "System")
	if !ok {
		return 0, fmt.Errorf("unknown object class %q", class)
	}
	for i, n := range sectorNames {
		if n == name {
			return Sector(i), nil
		}
	}
	return 0, fmt.Errorf("unknown object class %q", class)
}
