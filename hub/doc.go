// Package hub fans earthquake broadcasts out to realtime subscribers.
//
// A Hub holds every registered connection. Broadcast encodes a message once
// and writes it to all subscribers in parallel, each write bounded by a
// send timeout. Subscribers that fail or time out are removed and closed in
// the same pass, so membership heals without a separate sweep.
//
// ServeWS is the HTTP handler for the realtime endpoint. It upgrades the
// request with gorilla/websocket, registers the connection and reads (and
// discards) inbound frames until the peer goes away. Start runs a keepalive
// loop that pings subscribers; one that misses the pong window is dropped.
//
// The subscribers_active gauge is updated on every membership change.
package hub
