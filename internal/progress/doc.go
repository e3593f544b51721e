// Package progress provides the event primitives, synchronous reporter, and
// emitter interface the batch runner uses to report harvesting progress. Each
// event is fanned out to pluggable sinks such as structured logs, Prometheus
// metrics, or persistent run history.
package progress
