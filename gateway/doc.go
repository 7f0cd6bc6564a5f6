// Package gateway defines the configuration and collaborator interfaces of
// the quakestream HTTP surface.
//
// The surface exposes:
//
//	GET  /health    component health report
//	GET  /events    on-demand feed fetch, optional ?min_magnitude= override
//	POST /analysis  aggregate (and optional narrative) for a posted batch
//	GET  /metrics   Prometheus exposition
//	GET  /realtime  websocket subscription to new-event broadcasts
//
// The protocol implementation lives in gateway/http. Collaborators are
// accepted as interfaces so handlers can be tested against fakes:
//
//	gw, err := gatewayhttp.NewGateway(gateway.DefaultConfig(), gatewayhttp.Dependencies{
//	    Events:   fetcher,
//	    Analyzer: enricher,
//	    Health:   monitor,
//	    Realtime: hub,
//	})
//
// Errors are returned to clients as {"error": <short>, "details": <detail>}
// with details sanitized of URLs, addresses and credentials.
package gateway
