// Package metrics exposes the front-end's Prometheus collectors. Collectors
// are registered on an injected registerer so several servers (and tests)
// can coexist in one process.
package metrics
