package sim

import "fmt"

// Time is the simulated position: a year subdivided into Iterations equal steps.
type Time struct {
	Year       int
	Iteration  int // 0 <= Iteration < Iterations
	Iterations int
}

// Dt returns the step length in years.
func (t Time) Dt() float64 {
	if t.Iterations <= 0 {
		return 1
	}
	return 1 / float64(t.Iterations)
}

// Next returns the time one iteration later.
func (t Time) Next() Time {
	n := t
	n.Iteration++
	if n.Iteration >= max(t.Iterations, 1) {
		n.Iteration = 0
		n.Year++
	}
	return n
}

// Ticks converts t into integer logical time relative to startYear.
func (t Time) Ticks(startYear int, unitsPerYear int64) int64 {
	iters := int64(max(t.Iterations, 1))
	return int64(t.Year-startYear)*unitsPerYear + int64(t.Iteration)*(unitsPerYear/iters)
}

// TimeAt is the inverse of Ticks.
func TimeAt(ticks int64, startYear int, unitsPerYear int64, iterations int) Time {
	iters := int64(max(iterations, 1))
	year := ticks / unitsPerYear
	iter := (ticks % unitsPerYear) / (unitsPerYear / iters)
	return Time{Year: startYear + int(year), Iteration: int(iter), Iterations: iterations}
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%d", t.Year, t.Iteration)
}
