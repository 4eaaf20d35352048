package optimize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/internal/testutil"
)

const eps = 1e-6

// twoCityNetwork is one directed pipeline from A to B with cheaper imports at A.
func twoCityNetwork() sim.Network {
	return sim.Network{
		Sector: sim.Water,
		Joint:  true,
		Cities: []sim.NetworkCity{
			{Name: "A", Demand: 50, ImportPrice: 10, ExportPrice: 5, ImportAllowed: true},
			{Name: "B", Demand: 30, ImportPrice: 20, ExportPrice: 5, ImportAllowed: true},
		},
		Elements: []sim.NetworkElement{
			{Name: "pipe", Origin: "A", Destination: "B", MaxThroughput: 100, Efficiency: 0.9, DistributionCost: 1},
		},
	}
}

func TestOptimize_TwoCities_ConservesFlowAtEachCity(t *testing.T) {
	// GIVEN a pipeline A->B with efficiency 0.9 and imports cheaper at A
	n := twoCityNetwork()
	o := NewLPOptimizer(sim.OptimizerConfig{})

	// WHEN optimized
	res := o.Optimize(context.Background(), n)

	// THEN B is served through the pipeline and A imports for both cities
	require.True(t, res.OK, res.Reason)
	thru := res.Throughput["pipe"]
	assert.InDelta(t, 100.0/3, thru, eps)
	assert.InDelta(t, 250.0/3, res.Imports["A"], eps)
	assert.InDelta(t, 0, res.Imports["B"], eps)

	// AND each city balances: import + inflow - outflow - export == demand
	assert.InDelta(t, 50, res.Imports["A"]-thru-res.Exports["A"], eps)
	assert.InDelta(t, 30, res.Imports["B"]+0.9*thru-res.Exports["B"], eps)

	// AND the objective equals the hand-computed cost 10*import_A + 1*throughput
	assert.InDelta(t, 10*res.Imports["A"]+thru, res.Cost, 1e-4)
	assert.InDelta(t, 2600.0/3, res.Cost, 1e-4)
}

func TestOptimize_ImportBlocked_CapacityShort_ReportsInfeasible(t *testing.T) {
	// GIVEN one city whose only producer cannot cover demand and no imports
	n := sim.Network{
		Sector: sim.Agriculture,
		Joint:  true,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 50, ImportPrice: math.Inf(1)}},
		Elements: []sim.NetworkElement{
			{Name: "farm", Origin: "A", Destination: "A", MaxProduction: 10, ProductionCost: 1, Production: 7},
		},
	}

	// WHEN optimized
	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	// THEN the result is a failure carrying no flows
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "infeasible")
	assert.Nil(t, res.Production)
	assert.Nil(t, res.Imports)
	// AND the input network is untouched
	assert.Equal(t, 7.0, n.Elements[0].Production)
}

func TestOptimize_ExportAboveImportPrice_ReportsUnbounded(t *testing.T) {
	n := sim.Network{
		Sector: sim.Petroleum,
		Joint:  true,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 5, ImportPrice: 10, ExportPrice: 30, ImportAllowed: true}},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "unbounded")
}

func TestOptimize_MaxExport_BoundsArbitrage(t *testing.T) {
	// GIVEN an export cap the arbitrage becomes bounded
	n := sim.Network{
		Sector: sim.Petroleum,
		Joint:  true,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 5, ImportPrice: 10, ExportPrice: 30, ImportAllowed: true, MaxExport: 20}},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 20, res.Exports["A"], eps)
	assert.InDelta(t, 25, res.Imports["A"], eps)
	assert.InDelta(t, 25*10-20*30, res.Cost, 1e-4)
}

func TestOptimize_JointProduction_PrefersCheaperLocalSupply(t *testing.T) {
	// GIVEN local production at 4 per unit (1 + 0.5 electricity * 6) and imports at 8
	n := sim.Network{
		Sector: sim.Water,
		Joint:  true,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 40, ImportPrice: 8, ImportAllowed: true, ElectricityPrice: 6}},
		Elements: []sim.NetworkElement{
			{Name: "well", Origin: "A", Destination: "A", MaxProduction: 30, ProductionCost: 1, ElectricityIntensity: 0.5},
		},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	// THEN production runs at capacity and imports cover the rest
	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 30, res.Production["well"], eps)
	assert.InDelta(t, 10, res.Imports["A"], eps)
	assert.InDelta(t, 30*4+10*8, res.Cost, 1e-4)
}

func TestOptimize_PriceDeltas_ShiftTheDecision(t *testing.T) {
	// GIVEN the same network with a production surcharge above the import price
	n := sim.Network{
		Sector: sim.Water,
		Joint:  true,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 40, ImportPrice: 8, ImportAllowed: true}},
		Elements: []sim.NetworkElement{
			{Name: "well", Origin: "A", Destination: "A", MaxProduction: 30, ProductionCost: 4},
		},
		Deltas: sim.PriceDeltas{Production: 5},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	// THEN imports replace local production
	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 0, res.Production["well"], eps)
	assert.InDelta(t, 40, res.Imports["A"], eps)
}

func TestOptimize_FixedProduction_OnlyDecidesTrade(t *testing.T) {
	// GIVEN production is not a decision variable and covers part of demand
	n := sim.Network{
		Sector: sim.Water,
		Joint:  false,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 40, Production: 15, ImportPrice: 8, ImportAllowed: true}},
		Elements: []sim.NetworkElement{
			{Name: "well", Origin: "A", Destination: "A", MaxProduction: 30, Production: 15},
		},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	_, decided := res.Production["well"]
	assert.False(t, decided, "fixed production must not be in the result")
	assert.InDelta(t, 25, res.Imports["A"], eps)
}

func TestOptimize_SurplusProduction_IsExported(t *testing.T) {
	// GIVEN fixed production above demand
	n := sim.Network{
		Sector: sim.Water,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 10, Production: 25, ExportPrice: 2}},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 15, res.Exports["A"], eps)
	assert.InDelta(t, -30, res.Cost, 1e-4)
}

func TestOptimize_WarmStart_MatchesColdSolve(t *testing.T) {
	// GIVEN the previous step's flows are the optimum
	cold := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), twoCityNetwork())
	require.True(t, cold.OK, cold.Reason)

	n := twoCityNetwork()
	n.Elements[0].Throughput = cold.Throughput["pipe"]
	n.Cities[0].Import = cold.Imports["A"]

	// WHEN solved from the warm basis
	warm := NewLPOptimizer(sim.OptimizerConfig{WarmStart: true}).Optimize(context.Background(), n)

	// THEN the solution is the same
	require.True(t, warm.OK, warm.Reason)
	assert.InDelta(t, cold.Cost, warm.Cost, 1e-6)
	testutil.AssertAttributesEqual(t, "throughput", cold.Throughput, warm.Throughput, eps)
	testutil.AssertAttributesEqual(t, "imports", cold.Imports, warm.Imports, eps)
	testutil.AssertAttributesEqual(t, "exports", cold.Exports, warm.Exports, eps)
}

func TestOptimize_WarmStart_StaleSeed_ConvergesToSameOptimum(t *testing.T) {
	// GIVEN previous flows far from the current optimum
	n := twoCityNetwork()
	n.Elements[0].Throughput = 100
	n.Cities[1].Export = 3

	res := NewLPOptimizer(sim.OptimizerConfig{WarmStart: true}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 2600.0/3, res.Cost, 1e-4)
}

func TestOptimize_EmptyNetwork_Succeeds(t *testing.T) {
	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), sim.Network{Sector: sim.Water})

	assert.True(t, res.OK)
	assert.Empty(t, res.Throughput)
	assert.Zero(t, res.Cost)
}

func TestOptimize_ZeroDemandCityWithoutElements_Succeeds(t *testing.T) {
	n := twoCityNetwork()
	n.Cities = append(n.Cities, sim.NetworkCity{Name: "C", ImportPrice: math.Inf(1)})

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 0, res.Exports["C"], eps)
}

func TestOptimize_UnknownDestination_Fails(t *testing.T) {
	n := twoCityNetwork()
	n.Elements[0].Destination = "Z"

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, `"Z"`)
}

func TestOptimize_TooManyVariables_Fails(t *testing.T) {
	res := NewLPOptimizer(sim.OptimizerConfig{MaxVariables: 2}).Optimize(context.Background(), twoCityNetwork())

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "limit is 2")
}

func TestOptimize_CancelledContext_FailsWithoutHanging(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan sim.FlowResult, 1)
	go func() { done <- NewLPOptimizer(sim.OptimizerConfig{}).Optimize(ctx, twoCityNetwork()) }()

	select {
	case res := <-done:
		// a solve that wins the race is also acceptable
		if !res.OK {
			assert.Contains(t, res.Reason, "did not finish")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Optimize did not return after cancellation")
	}
}

func TestOptimize_PendingSolvesExhausted_FailsFast(t *testing.T) {
	// GIVEN an optimizer whose every slot is held by an unfinished solve
	o := NewLPOptimizer(sim.OptimizerConfig{})
	for i := 0; i < MaxPendingSolves; i++ {
		o.pending <- struct{}{}
	}

	// WHEN another solve is requested
	res := o.Optimize(context.Background(), twoCityNetwork())

	// THEN it fails without starting a simplex run
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "still running")

	// AND solving resumes once a slot frees up
	<-o.pending
	res = o.Optimize(context.Background(), twoCityNetwork())
	assert.True(t, res.OK, res.Reason)
}

func TestOptimize_FinishedSolves_ReleaseTheirSlot(t *testing.T) {
	o := NewLPOptimizer(sim.OptimizerConfig{})

	for i := 0; i < 3*MaxPendingSolves; i++ {
		res := o.Optimize(context.Background(), twoCityNetwork())
		require.True(t, res.OK, "solve %d: %s", i, res.Reason)
	}
}

func TestNewLPOptimizer_Defaults(t *testing.T) {
	o := NewLPOptimizer(sim.OptimizerConfig{})
	assert.Equal(t, DefaultTimeout, o.timeout)
	assert.Equal(t, DefaultMaxVariables, o.maxVariables)
	assert.Equal(t, DefaultTolerance, o.tol)
}

func TestRegister_SetsFactory(t *testing.T) {
	require.NotNil(t, sim.NewFlowOptimizerFunc)
	_, ok := sim.NewFlowOptimizerFunc(sim.OptimizerConfig{}).(*LPOptimizer)
	assert.True(t, ok)
}

func TestOptimize_NoFreeVariables_SolvedDirectly(t *testing.T) {
	// GIVEN a city whose only variable is its export
	n := sim.Network{
		Sector: sim.Water,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 4, Production: 9, ExportPrice: 1, ImportPrice: math.Inf(1)}},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	require.True(t, res.OK, res.Reason)
	assert.InDelta(t, 5, res.Exports["A"], eps)
	assert.InDelta(t, -5, res.Cost, eps)
}

func TestOptimize_NoFreeVariables_ShortfallIsInfeasible(t *testing.T) {
	n := sim.Network{
		Sector: sim.Water,
		Cities: []sim.NetworkCity{{Name: "A", Demand: 9, Production: 4, ImportPrice: math.Inf(1)}},
	}

	res := NewLPOptimizer(sim.OptimizerConfig{}).Optimize(context.Background(), n)

	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "infeasible")
}
