// Package poller runs the ingest loop: fetch the feed, keep events at or
// above the magnitude threshold, drop ids the dedup store has seen, attach
// an optional enrichment summary and broadcast the batch as one message.
//
// The first tick runs as soon as the poller starts and then once per
// interval. A failed fetch skips the tick; the next tick is the retry. A
// panic inside a tick stops the loop and is returned from Wait as a fatal
// error so the process can exit and be restarted.
//
// Broadcast message:
//
//	{"type":"earthquakes","count":N,"events":[...],"analysis":{...}}
//
// analysis is present only when the summarizer produced a narrative.
package poller
