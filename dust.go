// Package dust is a device-telemetry client. It resolves the public address
// of the device through two providers, reports liveness to a collector on a
// fixed interval, sends one device snapshot per load and mirrors the
// collector's identifier cookies into local storage.
//
// Systems:
//  1. Address resolution - two concurrent lookups, each failing soft
//  2. Heartbeat - fixed-interval beats with cumulative outcome counters
//  3. Load sequence - resolve, mirror cookies, then send the device report
package dust

// Version is reported in the default user agent and the host navigator.
var Version = "1.0.0"
