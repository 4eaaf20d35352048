// Package testutil provides assertion helpers shared across the simulator's
// test packages.
package testutil

import (
	"math"
	"sort"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
// Differences below relTol in absolute terms also pass, so solver noise
// around zero does not fail the comparison.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	diff := math.Abs(want - got)
	if want == got || diff <= relTol {
		return
	}
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertAttributesEqual compares two attribute sets key by key with relative
// tolerance. Keys missing from got are reported; extra keys in got are not.
func AssertAttributesEqual(t *testing.T, name string, want, got map[string]float64, relTol float64) {
	t.Helper()
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g, ok := got[k]
		if !ok {
			t.Errorf("%s: missing attribute %s", name, k)
			continue
		}
		AssertFloat64Equal(t, name+"."+k, want[k], g, relTol)
	}
}
