// Package core contains the relay domain types, persistence contracts, error
// envelopes, configuration and telemetry helpers. Queue backends, the
// dispatcher, the inbound gateway and the router depend on this package; core
// must not depend on any of them.
package core
