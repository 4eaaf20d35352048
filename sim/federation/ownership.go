package federation

import (
	"fmt"
	"strings"

	"github.com/code-lab-org/sipg-sub003/sim"
)

// AssignOwnership marks every city not named in owned as simulated by
// another federate. An empty owned list keeps every city local. Call it
// before sim.NewSimulator.
func AssignOwnership(root *sim.Society, owned []string) error {
	if len(owned) == 0 {
		return nil
	}
	keep := make(map[string]bool, len(owned))
	for _, name := range owned {
		c := root.Find(name)
		if c == nil || !c.IsCity() {
			return fmt.Errorf("owned city %q not found in %q", name, root.Name())
		}
		keep[name] = true
	}
	for _, c := range root.Cities() {
		if keep[c.Name()] {
			continue
		}
		if err := c.MarkRemote(); err != nil {
			return err
		}
	}
	return nil
}

// objectName is the federation-wide instance name of a city's sector system.
func objectName(city string, sector sim.Sector) string {
	return city + "." + sector.String()
}

// cityOf extracts the city from an instance name.
func cityOf(name string) (string, bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return "", false
	}
	return name[:i], true
}
