// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that stream drivers use to report crawl progress. Events are
// batched on a background goroutine and fanned out to sinks such as
// Prometheus metrics, structured logs, or the run history table.
package progress
