// Package progress carries run, unit and extraction progress events from the
// pipeline to pluggable sinks. Emitters never block: a Hub batches events on
// a background goroutine and fans them out to sinks such as structured logs,
// Prometheus gauges, the status server snapshot or the Postgres run table.
package progress
