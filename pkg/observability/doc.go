// Package observability holds the bridge's operational surface: Prometheus
// metrics for routed traffic and call correlation, HTTP liveness/readiness
// probes, and signal-driven graceful shutdown.
package observability
