// register.go wires the LP optimizer into the sim package's registration
// variable (NewFlowOptimizerFunc). This init() runs when any package imports
// sim/optimize, breaking the import cycle between sim/ (interface owner) and
// sim/optimize/ (implementation). Production code imports sim/optimize directly;
// test code in package sim uses optimize_import_test.go for the blank import.
package optimize

import "github.com/code-lab-org/sipg-sub003/sim"

func init() {
	sim.NewFlowOptimizerFunc = newFlowOptimizer
}
