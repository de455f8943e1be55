// Package metrics exposes Prometheus metrics for the trade pipeline.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can run without a registry in tests and one-shot tools.
package metrics
