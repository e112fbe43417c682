/*
Package metrics defines and registers the agent's Prometheus metrics:
gauges for framework/executor/task counts, counters for status-update
and framework-message validity, and histograms for isolation bridge
call latency. All metrics are registered at package init and exposed
via Handler for scraping. Timer measures isolation bridge call
latency for the IsolationOperationDuration histogram.

pkg/agent and pkg/reaper import this package directly
to increment their own counters at the point the event happens, so
this package must not import any of them back. The periodic Store
snapshot that feeds the gauges lives one level up, in
pkg/metrics/collector, which does depend on pkg/agent.

HealthChecker (health.go) tracks readiness of the transport, isolation
bridge, and reaper for the /health, /ready, and /live endpoints.
*/
package metrics
