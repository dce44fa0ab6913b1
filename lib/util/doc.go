// Package util provides small helpers shared by the engine implementations:
// seeded hashing for shard selection and statistics for reporting how records
// and value sizes are distributed across an engine.
package util
