// Package optimize provides the linear-programming flow optimizer for the
// co-simulation kernel. The FlowOptimizer interface is defined in sim/
// (parent package); this package registers LPOptimizer as its implementation.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/code-lab-org/sipg-sub003/sim"
)

const (
	DefaultTimeout      = 2 * time.Second
	DefaultMaxVariables = 20000
	DefaultTolerance    = 1e-10

	// MaxPendingSolves bounds the simplex runs of one optimizer that may be
	// in flight at once, counting runs abandoned after a timeout.
	MaxPendingSolves = 4
)

// LPOptimizer solves each sector network as a standard-form linear program
//
//	minimize cᵀx subject to Ax = b, x >= 0
//
// with gonum's simplex. Capacity inequalities become equalities through one
// slack variable per bounded flow.
//
// gonum's simplex cannot be interrupted, so a solve that outlives its timeout
// keeps running until it finishes. Those runs hold one of MaxPendingSolves
// slots; while every slot is taken, Optimize fails at once instead of
// starting another.
//
// Thread-safety: safe for concurrent use; Optimize keeps no state between
// calls other than the pending-solve slots.
type LPOptimizer struct {
	timeout      time.Duration
	maxVariables int
	tol          float64
	warmStart    bool
	pending      chan struct{}
}

// NewLPOptimizer applies defaults to zero-valued fields of cfg.
func NewLPOptimizer(cfg sim.OptimizerConfig) *LPOptimizer {
	o := &LPOptimizer{
		timeout:      cfg.Timeout,
		maxVariables: cfg.MaxVariables,
		tol:          cfg.Tolerance,
		warmStart:    cfg.WarmStart,
		pending:      make(chan struct{}, MaxPendingSolves),
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.maxVariables <= 0 {
		o.maxVariables = DefaultMaxVariables
	}
	if o.tol <= 0 {
		o.tol = DefaultTolerance
	}
	return o
}

func newFlowOptimizer(cfg sim.OptimizerConfig) sim.FlowOptimizer {
	return NewLPOptimizer(cfg)
}

// column identifies what a decision variable stands for.
type column struct {
	kind  varKind
	index int // into Network.Elements or Network.Cities; capacity row for slacks
}

type varKind int

const (
	varProduction varKind = iota
	varThroughput
	varImport
	varExport
	varSlack
)

// problem is a network lowered to standard form.
type problem struct {
	c    []float64
	a    *mat.Dense
	b    []float64
	cols []column
	// previous values of the structural variables, for the warm-start basis
	prev []float64
}

// Optimize builds and solves the LP for n. It never mutates n and never
// panics; every failure is reported through FlowResult.Reason.
func (o *LPOptimizer) Optimize(ctx context.Context, n sim.Network) sim.FlowResult {
	if len(n.Cities) == 0 {
		return emptyResult()
	}
	p, err := build(n)
	if err != nil {
		return sim.Failed(err.Error())
	}
	if len(p.cols) > o.maxVariables {
		return sim.Failed(fmt.Sprintf("problem has %d variables, limit is %d", len(p.cols), o.maxVariables))
	}

	var basis []int
	if o.warmStart {
		basis = p.warmBasis(o.tol)
	}

	select {
	case o.pending <- struct{}{}:
	default:
		return sim.Failed(fmt.Sprintf("%d earlier solves are still running", MaxPendingSolves))
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type solved struct {
		f   float64
		x   []float64
		err error
	}
	// buffered so an abandoned solve can still finish and exit
	done := make(chan solved, 1)
	go func() {
		f, x, err := p.solve(basis, o.tol)
		<-o.pending
		done <- solved{f, x, err}
	}()

	select {
	case <-ctx.Done():
		return sim.Failed(fmt.Sprintf("solver did not finish: %v", ctx.Err()))
	case s := <-done:
		if s.err != nil {
			return sim.Failed(describe(s.err))
		}
		return p.result(n, s.f, s.x)
	}
}

// errSimplexPanic marks a solve that gonum aborted, which happens when the
// supplied initial basis is unusable.
var errSimplexPanic = errors.New("simplex aborted")

// solve runs the simplex, retrying from scratch when the warm start fails.
func (p *problem) solve(basis []int, tol float64) (float64, []float64, error) {
	if m, n := p.a.Dims(); m == n {
		return p.solveSquare(tol)
	}
	if basis != nil {
		f, x, err := p.trySolve(basis, tol)
		if !errors.Is(err, errSimplexPanic) {
			return f, x, err
		}
	}
	return p.trySolve(nil, tol)
}

func (p *problem) trySolve(basis []int, tol float64) (f float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, x, err = 0, nil, fmt.Errorf("%w: %v", errSimplexPanic, r)
		}
	}()
	return lp.Simplex(p.c, p.a, p.b, tol, basis)
}

// solveSquare handles a problem with no free variables, which the simplex
// does not accept: the only candidate is A⁻¹b.
func (p *problem) solveSquare(tol float64) (float64, []float64, error) {
	m, _ := p.a.Dims()
	var x mat.VecDense
	if err := x.SolveVec(p.a, mat.NewVecDense(m, append([]float64(nil), p.b...))); err != nil {
		return 0, nil, lp.ErrSingular
	}
	out := make([]float64, m)
	var f float64
	for i := range out {
		v := x.AtVec(i)
		if v < -tol {
			return 0, nil, lp.ErrInfeasible
		}
		out[i] = math.Max(v, 0)
		f += p.c[i] * out[i]
	}
	return f, out, nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return "infeasible: demand cannot be met within capacity and trade limits"
	case errors.Is(err, lp.ErrUnbounded):
		return "unbounded: export revenue exceeds supply cost without limit"
	case errors.Is(err, lp.ErrSingular):
		return "singular constraint matrix"
	}
	return err.Error()
}

// build lowers n to standard form. Structural variables come first, in
// element order then city order, followed by one slack per capacity row.
func build(n sim.Network) (*problem, error) {
	cityIdx := make(map[string]int, len(n.Cities))
	for i, c := range n.Cities {
		if _, dup := cityIdx[c.Name]; dup {
			return nil, fmt.Errorf("duplicate city %q", c.Name)
		}
		cityIdx[c.Name] = i
	}

	var (
		cols   []column
		costs  []float64
		prev   []float64
		bounds []float64 // capacity of each bounded column, NaN when unbounded
	)
	add := func(col column, cost, previous, bound float64) {
		cols = append(cols, col)
		costs = append(costs, cost)
		prev = append(prev, previous)
		bounds = append(bounds, bound)
	}

	d := n.Deltas
	for i, e := range n.Elements {
		oi, ok := cityIdx[e.Origin]
		if !ok {
			return nil, fmt.Errorf("element %q: origin %q is not in the network", e.Name, e.Origin)
		}
		if _, ok := cityIdx[e.Destination]; !ok {
			return nil, fmt.Errorf("element %q: destination %q is not in the network", e.Name, e.Destination)
		}
		elec := n.Cities[oi].ElectricityPrice + d.Electricity
		if n.Joint && e.MaxProduction > 0 {
			add(column{varProduction, i}, e.ProductionCost+e.ElectricityIntensity*elec+d.Production, e.Production, e.MaxProduction)
		}
		if e.IsDistribution() {
			add(column{varThroughput, i}, e.DistributionCost+e.DistributionElectricityIntensity*elec, e.Throughput, e.MaxThroughput)
		}
	}
	for i, c := range n.Cities {
		if c.ImportAllowed {
			add(column{varImport, i}, c.ImportPrice+d.Import, c.Import, math.NaN())
		}
		bound := math.NaN()
		if c.MaxExport > 0 {
			bound = c.MaxExport
		}
		add(column{varExport, i}, -(c.ExportPrice + d.Export), c.Export, bound)
	}

	structural := len(cols)
	var capRows []int // structural column of each capacity row
	for j := 0; j < structural; j++ {
		if !math.IsNaN(bounds[j]) {
			capRows = append(capRows, j)
		}
	}
	for r := range capRows {
		cols = append(cols, column{varSlack, r})
		costs = append(costs, 0)
	}

	m := len(capRows) + len(n.Cities)
	a := mat.NewDense(m, len(cols), nil)
	b := make([]float64, m)

	for r, j := range capRows {
		a.Set(r, j, 1)
		a.Set(r, structural+r, 1)
		b[r] = bounds[j]
	}
	row := func(city int) int { return len(capRows) + city }
	for j := 0; j < structural; j++ {
		col := cols[j]
		switch col.kind {
		case varProduction:
			e := n.Elements[col.index]
			a.Set(row(cityIdx[e.Origin]), j, 1)
		case varThroughput:
			e := n.Elements[col.index]
			a.Set(row(cityIdx[e.Origin]), j, a.At(row(cityIdx[e.Origin]), j)-1)
			a.Set(row(cityIdx[e.Destination]), j, a.At(row(cityIdx[e.Destination]), j)+e.Efficiency)
		case varImport:
			a.Set(row(col.index), j, 1)
		case varExport:
			a.Set(row(col.index), j, -1)
		}
	}
	for i, c := range n.Cities {
		b[row(i)] = c.NetDemand(n.Joint)
	}
	// keep b non-negative
	for r := 0; r < m; r++ {
		if b[r] < 0 {
			b[r] = -b[r]
			for j := 0; j < len(cols); j++ {
				a.Set(r, j, -a.At(r, j))
			}
		}
	}
	return &problem{c: costs, a: a, b: b, cols: cols, prev: prev}, nil
}

// warmBasis seeds the simplex from the previous step's flows: a bounded
// variable that carried flow is basic in its capacity row, otherwise the
// slack is; each city row takes its import, or its export when it exported.
// Returns nil when the basis is singular or infeasible for the current b.
func (p *problem) warmBasis(tol float64) []int {
	m, _ := p.a.Dims()
	structural := len(p.prev)
	basis := make([]int, 0, m)
	capRows := len(p.cols) - structural
	used := make(map[int]bool)
	for r := 0; r < capRows; r++ {
		slack := structural + r
		j := -1
		for k := 0; k < structural; k++ {
			if p.a.At(r, k) != 0 {
				j = k
				break
			}
		}
		if j >= 0 && p.prev[j] > 0 && !used[j] {
			basis = append(basis, j)
			used[j] = true
		} else {
			basis = append(basis, slack)
		}
	}
	for r := capRows; r < m; r++ {
		city := r - capRows
		imp, exp := -1, -1
		for j := 0; j < structural; j++ {
			col := p.cols[j]
			if col.index != city {
				continue
			}
			switch col.kind {
			case varImport:
				imp = j
			case varExport:
				exp = j
			}
		}
		order := []int{imp, exp}
		if p.prev[exp] > 0 {
			order = []int{exp, imp}
		}
		pick := -1
		for _, j := range order {
			if j >= 0 && !used[j] {
				pick = j
				break
			}
		}
		if pick < 0 {
			return nil
		}
		basis = append(basis, pick)
		used[pick] = true
	}

	bm := mat.NewDense(m, m, nil)
	for k, j := range basis {
		for r := 0; r < m; r++ {
			bm.Set(r, k, p.a.At(r, j))
		}
	}
	var xb mat.VecDense
	if err := xb.SolveVec(bm, mat.NewVecDense(m, append([]float64(nil), p.b...))); err != nil {
		return nil
	}
	for k := 0; k < m; k++ {
		if xb.AtVec(k) < -tol {
			return nil
		}
	}
	return basis
}

func (p *problem) result(n sim.Network, f float64, x []float64) sim.FlowResult {
	res := emptyResult()
	res.Cost = f
	for _, c := range n.Cities {
		res.Imports[c.Name] = 0
		res.Exports[c.Name] = 0
	}
	for j, col := range p.cols {
		switch col.kind {
		case varProduction:
			res.Production[n.Elements[col.index].Name] = x[j]
		case varThroughput:
			res.Throughput[n.Elements[col.index].Name] = x[j]
		case varImport:
			res.Imports[n.Cities[col.index].Name] = x[j]
		case varExport:
			res.Exports[n.Cities[col.index].Name] = x[j]
		}
	}
	return res
}

func emptyResult() sim.FlowResult {
	return sim.FlowResult{
		OK:         true,
		Production: map[string]float64{},
		Throughput: map[string]float64{},
		Imports:    map[string]float64{},
		Exports:    map[string]float64{},
	}
}
