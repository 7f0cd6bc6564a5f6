// Package testutil provides shared fixtures for quakestream tests.
//
// FeedServer is an httptest server standing in for the USGS summary feed,
// with a swappable body and status. FeatureCollection and NewQuake build
// GeoJSON documents. MockConn records realtime writes and can be created
// healthy, broken or blocking to exercise hub fan-out.
package testutil
