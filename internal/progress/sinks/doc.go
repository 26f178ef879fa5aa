// Package sinks provides progress.Sink implementations: structured
// logs, Prometheus metrics, and completion publishing.
package sinks
