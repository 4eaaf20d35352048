package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTime_Next_WrapsIntoNextYear(t *testing.T) {
	now := Time{Year: 2000, Iteration: 3, Iterations: 4}
	assert.Equal(t, Time{Year: 2001, Iteration: 0, Iterations: 4}, now.Next())
	assert.Equal(t, 0.25, now.Dt())
}

func TestTime_Ticks_RoundTrip(t *testing.T) {
	const unitsPerYear = 1200
	for _, tt := range []Time{
		{Year: 2000, Iteration: 0, Iterations: 4},
		{Year: 2000, Iteration: 3, Iterations: 4},
		{Year: 2017, Iteration: 2, Iterations: 4},
	} {
		ticks := tt.Ticks(2000, unitsPerYear)
		assert.Equal(t, tt, TimeAt(ticks, 2000, unitsPerYear, 4), "ticks=%d", ticks)
	}
	assert.Equal(t, int64(1500), Time{Year: 2001, Iteration: 1, Iterations: 4}.Ticks(2000, unitsPerYear))
}

func TestSector_ClassNames(t *testing.T) {
	for _, s := range Sectors {
		got, err := SectorForClass(s.ClassName())
		assert.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := SectorForClass("Root.InfrastructureSystem.MiningSystem")
	assert.Error(t, err)

	s, err := ParseSector("water")
	assert.NoError(t, err)
	assert.Equal(t, Water, s)
}
