// Package sim provides the core spring-mass cloth simulation engine.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - config.go: physical constants, backend and integration selectors, validation
//   - spring.go / node.go: the Node and Spring data model and topology
//   - model.go: the shared force and integration formulas both backends use
//   - processor.go: the SpringProcessor interface and the SpringSystem base
//
// # Architecture
//
// The sim package defines interfaces and the reference physics model;
// implementations live in sub-packages:
//   - sim/sequential/: single goroutine backend (scatter over springs)
//   - sim/parallel/: data-parallel backend (gather per node, errgroup dispatch)
//   - sim/spatial/: uniform spatial hash grid used for broad phase and queries
//   - sim/collision/: per-tick collider proxies and narrow phase response
//   - sim/cloth/: the lifecycle controller and topology builders
//   - sim/trace/: per-tick trace recording
//
// Backends register their constructors via init() functions in register.go
// (RegisterBackend), so sim never imports them. Import sim/cloth (or the
// backend packages directly) to make them available.
//
// # Key Interfaces
//   - SpringProcessor: FinishInitialization, Advance, ResetToInitialState,
//     EnumerateNearby, Dispose
//   - Integrator: one explicit time integration scheme, selected by name
package sim
