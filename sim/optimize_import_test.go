package sim_test

// Blank import triggers sim/optimize's init(), which registers NewFlowOptimizerFunc.
// This allows package sim's internal test files to run the flow optimizer
// without directly importing sim/optimize (which would create an import cycle).
import _ "github.com/code-lab-org/sipg-sub003/sim/optimize"
