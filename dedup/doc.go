// Package dedup provides the seen-set that keeps the poller from
// broadcasting an earthquake twice.
//
// By default a Store never forgets an id, so it grows for the life of the
// process. NewWithConfig can cap it by entry count (least recently seen
// first) and by TTL. A bounded store only guarantees no re-broadcast within
// that horizon: an id forgotten by eviction is reported as new again.
package dedup
