// Package ratelimit throttles HTTP routes per caller address.
//
// Each route and caller pair gets its own golang.org/x/time/rate token
// bucket. A fresh caller may make Limit requests at once; after that one
// request is allowed every Window/Limit. Rejected requests are answered with
// 429 Too Many Requests and a Retry-After header rather than queued.
package ratelimit
