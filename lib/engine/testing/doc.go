// Package testing provides standardised tests and benchmarks for engine
// implementations that satisfy the engine.Engine contract.
//
// The package contains:
//   - testing: a conformance suite covering the operation statuses, callback
//     ownership rules, session lifecycle, checkpoints and recovery
//   - benchmark: throughput measurements for the common operations
//
// Example usage:
//
//	factory := func(opts engine.Options) (engine.Engine, error) {
//		return NewMyEngine(opts)
//	}
//
//	// Running the standard test suite
//	testing.RunEngineTests(t, "MyEngine", opts, factory)
//
//	// Running performance benchmarks
//	testing.RunEngineBenchmarks(b, "MyEngine", opts, factory)
package testing
