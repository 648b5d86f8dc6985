// Package metrics records per-invocation outcomes and latency.
//
// The collector keeps two views of the same samples: Prometheus instruments
// registered on the injected registry (scraped at /metrics) and an
// in-process aggregate snapshot served to the dashboard API. Recording is
// fire-and-forget; it never blocks or fails the execution path.
package metrics
