// Package transport implements the uniform adapter shape of §4.I: every
// adapter (framed TCP, websocket, HTTP one-shot, API-gateway websocket)
// yields the same (bytes, respond) pair to the dispatch kernel, hiding
// duplex-vs-request/response differences behind the respond callback.
package transport

import "context"

// Message is one inbound envelope's raw bytes paired with the callback
// that sends a response back on whatever channel it arrived on. A
// connectionless adapter's Respond is one-shot; a duplex adapter's can
// be called many times, once per response/stream frame (§9 "Transport
// adapters as a uniform interface").
type Message struct {
	Bytes   []byte
	Source  string // opaque per-adapter connection identifier, "" if not applicable
	Respond func(ctx context.Context, bytes []byte) error
}

// Adapter is the common shape every transport satisfies. Incoming
// yields one Message per decoded frame/request; Listen/Dial start the
// adapter in server/client role; Shutdown stops it.
type Adapter interface {
	Incoming() <-chan Message
	Listen(ctx context.Context, endpoint string) error
	Dial(ctx context.Context, endpoint string) error
	Shutdown(ctx context.Context) error
}
