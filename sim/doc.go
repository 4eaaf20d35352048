// Package sim provides the core of the infrastructure system-of-systems
// simulator: a tree of societies whose sector systems advance in discrete
// steps of a simulated year.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - society.go: the Country > Region > City hierarchy and which system each node owns
//   - local.go: a city's resource sector (elements, prices, reservoir, trade and cash flow)
//   - simulator.go: the step loop, the tick/tock protocol and observers
//
// # Architecture
//
// Every step has two phases. Tick computes the next state of every system
// from committed state only and stages it; Tock commits what was staged.
// Because no tick reads staged values, ticks may run in any order and the
// root's child subtrees may commit concurrently.
//
// The sim package defines the data model and interfaces; implementations
// live in sub-packages:
//   - sim/optimize/: LP network-flow optimizer (registers NewFlowOptimizerFunc)
//   - sim/climate/: reservoir recharge variability
//   - sim/checkpoint/: compressed snapshots of State
//   - sim/record/: SQLite recorder of per-step attributes
//   - sim/rti/: runtime infrastructure for federations, in-process and over websockets
//   - sim/federation/: runs a Simulator as one federate of a distributed co-simulation
//
// Sub-packages register their implementations via init() functions that set
// package-level factory variables (NewFlowOptimizerFunc).
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - System: one sector of one society (LocalSystem, SocialSystem, SoS, RemoteSystem)
//   - FlowOptimizer: allocate production and distribution flow for a sector network
//   - RechargeModel: scale reservoir recharge over simulated time
//   - StepObserver: receive every committed step
package sim
