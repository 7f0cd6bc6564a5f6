// Package config loads quakestream settings with viper.
//
// Every setting has a default and can be overridden by an environment
// variable named QUAKESTREAM_<KEY>, for example QUAKESTREAM_POLL_INTERVAL.
// Variables may also come from .env and .env.local (loaded with godotenv;
// real environment variables win) or from a YAML/JSON file passed with
// -config that uses the lower-case keys:
//
//	feed_url: https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson
//	min_magnitude: 4.0
//	poll_interval: 30s
//	enrich_provider: openai
//	enrich_model: gpt-4o-mini
//
// Durations accept Go syntax, day counts such as "7d", and bare integers
// as seconds.
package config
