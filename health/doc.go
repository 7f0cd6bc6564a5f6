// Package health aggregates component health for the /health endpoint.
//
// Components either push a Status to the Monitor or register a Checker that
// is evaluated on each request. The report always carries "status": "ok"
// while the process is serving; the per-component states and their
// aggregate (healthy, degraded, unhealthy) are informational.
//
// Error text shown in a Status should pass through SanitizeError, which
// strips URLs, IP addresses and credentials.
package health
