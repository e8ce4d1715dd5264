// Package sinks implements progress consumers: structured logs, Prometheus
// gauges, the in-memory snapshot served by the status server and the Postgres
// run table.
package sinks
