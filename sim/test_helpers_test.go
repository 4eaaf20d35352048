package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestScenario builds Nation > North > {Alpha, Beta}:
//   - Alpha pumps water from an aquifer and pipes some of it to Beta
//   - Beta farms with water drawn from the network
//   - Alpha burns imported petroleum for electricity
func newTestScenario(t *testing.T) *Society {
	t.Helper()
	root := NewCountry("Nation")
	north := NewRegion("North")
	require.NoError(t, root.AddChild(north))

	alpha, err := NewCity("Alpha", SocialSpec{
		Population: 1000, GrowthRate: 0.02,
		FoodPerCapita: 1, WaterPerCapita: 2, ElectricityPerCapita: 3, PetroleumPerCapita: 0.5,
	})
	require.NoError(t, err)
	beta, err := NewCity("Beta", SocialSpec{
		Population: 500, GrowthRate: 0.01,
		FoodPerCapita: 1, WaterPerCapita: 2, ElectricityPerCapita: 3, PetroleumPerCapita: 0.5,
	})
	require.NoError(t, err)
	require.NoError(t, north.AddChild(alpha))
	require.NoError(t, north.AddChild(beta))

	addElement(t, root, Water, ElementSpec{
		Name: "Alpha.well", Origin: "Alpha", MaxProduction: 5000,
		ProductionCost: 1, ElectricityIntensity: 0.1, ReservoirIntensity: 1,
		InitialProduction: 2000,
	})
	addElement(t, root, Water, ElementSpec{
		Name: "Alpha-Beta.pipe", Origin: "Alpha", Destination: "Beta",
		MaxThroughput: 2000, Efficiency: 0.9, DistributionCost: 0.5,
	})
	addElement(t, root, Agriculture, ElementSpec{
		Name: "Beta.farm", Origin: "Beta", MaxProduction: 2000,
		ProductionCost: 2, WaterIntensity: 0.5, CapitalCost: 100, CommissionYear: 2001,
	})
	addElement(t, root, Electricity, ElementSpec{
		Name: "Alpha.plant", Origin: "Alpha", MaxProduction: 10000,
		ProductionCost: 0.05, PetroleumIntensity: 0.2, FixedOperationsCost: 10,
	})

	aquifer, err := NewReservoir("Alpha.aquifer", 1e6, 1e6, 100)
	require.NoError(t, err)
	require.NoError(t, alpha.Local(Water).SetReservoir(aquifer))

	for _, city := range []*Society{alpha, beta} {
		require.NoError(t, city.Local(Water).SetPrices(Prices{Domestic: 3, Import: 5, Export: 0.5}))
		require.NoError(t, city.Local(Agriculture).SetPrices(Prices{Domestic: 6, Import: 4, Export: 1}))
		require.NoError(t, city.Local(Electricity).SetPrices(Prices{Domestic: 0.1, Import: 0.3, Export: 0.01}))
		require.NoError(t, city.Local(Petroleum).SetPrices(Prices{Domestic: 70, Import: 60, Export: 20}))
	}
	return root
}

func addElement(t *testing.T, root *Society, sector Sector, spec ElementSpec) *Element {
	t.Helper()
	e, err := NewElement(spec)
	require.NoError(t, err)
	require.NoError(t, root.AddElement(sector, e))
	return e
}

func newTestSimulator(t *testing.T, root *Society, cfg SimulationConfig) *Simulator {
	t.Helper()
	s, err := NewSimulator(cfg, root, nil)
	require.NoError(t, err)
	return s
}
