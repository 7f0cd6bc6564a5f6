// Package feed fetches and parses the USGS GeoJSON earthquake summary feed.
//
// Fetcher performs one bounded GET per call and returns events in feed order.
// Features without an id or with a null magnitude are dropped during parsing
// because they cannot be deduplicated or compared to a threshold.
package feed
