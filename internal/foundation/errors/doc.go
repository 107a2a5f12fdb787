// Package errors provides the classified error primitives used across buildmesh.
//
// A ClassifiedError carries a category (config, network, mesh, build, ...), a
// severity and a retry strategy alongside the message, cause and structured
// context. Transport failures are classified as network errors with a backoff
// retry strategy; a missing connection key is an internal fatal error.
//
// Example usage:
//
//	err := errors.MeshError("unknown connection").
//		WithContext("endpoint", desc).
//		Fatal().
//		Build()
package errors
