// Package inbound authenticates externally delivered events and routes them
// to internal handlers exactly once per event id.
//
// The Gateway validates the envelope, timestamp tolerance, HMAC signature and
// source address, then hands a NormalizedEvent to an EventSink (by default an
// inbound_event job). The Router records the event id in the ledger before any
// side effect, so redelivered events are reported as already processed.
package inbound
