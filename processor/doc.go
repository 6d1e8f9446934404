// Package processor sequences the codec, crypto engine, buffer format, and
// aggregator across one training round, enforcing call-order and
// round-identity invariants against the host.
//
// The state machine loops Idle -> RoundEncoding -> RoundAggregating ->
// RoundDecoding -> Idle, with Failed reachable from any round state and
// exitable only through Reset. A round may pass through RoundAggregating any
// number of times (one pass per feature histogram is typical). Every call
// carrying a round identifier is checked against the open round before
// anything else; a mismatch fails without mutating state, which is the core
// protection against a host replaying a stale buffer from a previous
// iteration.
//
// Errors raised before any cryptographic work has started (round mismatch,
// range validation, malformed peer buffers, assignment validation) leave the
// state untouched and the host may retry with corrected input. Errors raised
// once homomorphic state is being built force Failed, because a
// half-aggregated histogram cannot be trusted; the host must Reset. Reset
// discards round state only and never regenerates keys.
package processor
