// Package quakestream polls a public earthquake feed and pushes newly seen
// events to websocket subscribers in real time.
//
// # Architecture
//
// A single process runs one poll loop and one HTTP server:
//
//	          +-----------+     +------------+     +-----------+
//	timer --> |  poller   | --> |   dedup    | --> |  enrich   | (optional)
//	          +-----------+     +------------+     +-----------+
//	                |                                    |
//	                v                                    v
//	          +-----------+   broadcast {type,count,events,analysis?}
//	          |    hub    | ------------------------------------------> /realtime
//	          +-----------+
//
//	HTTP: /health /events /analysis /metrics /realtime (gateway/http)
//
// Each tick fetches the GeoJSON feed (feed), keeps events at or above the
// magnitude threshold, drops ids already seen (dedup) and, when anything is
// new, broadcasts one message in feed order (hub). Enrichment (enrich) adds
// a short narrative when a remote model answers; its failures never block
// or fail a broadcast.
//
// # Packages
//
//	cmd/quakestream   entry point, flags, logger, wiring and shutdown order
//	config            viper/godotenv configuration with QUAKESTREAM_ prefix
//	feed              event model, GeoJSON parsing, feed fetcher
//	dedup             seen-id set, unbounded or LRU/TTL bounded
//	enrich            tolerant extraction, retrying client, HTTP and OpenAI backends
//	hub               subscriber set and fan-out over gorilla/websocket
//	poller            supervised poll loop
//	ratelimit         per-route, per-caller request windows
//	metric            Prometheus collectors with idempotent registration
//	health            component status and aggregation
//	gateway/http      HTTP surface, request ids, CORS, error mapping
//	errors            classified errors (transient, invalid, fatal)
//	pkg/retry         backoff helper
//	pkg/timestamp     Unix-millisecond helpers
//	testutil          fake feed server, GeoJSON builders, mock connections
//
// # Running
//
//	QUAKESTREAM_MIN_MAGNITUDE=4.5 \
//	QUAKESTREAM_ENRICH_MODEL=google/flan-t5-base \
//	./bin/quakestream --log-format=text
//
// Shutdown stops the poller first (draining an in-flight tick), then closes
// every subscriber, then drains the HTTP server.
package quakestream
