// Package plugin is the narrow boundary surface the boosting host calls
// through. It translates host-owned slices into owned copies for the
// processor, copies results back into host-provided destinations, and maps
// internal error kinds onto a small stable set of status codes. It performs
// no business logic of its own; every call delegates to the processor state
// machine.
//
// Output convention: operations that produce data take a host destination
// slice and return (n, status). When the destination is too small the call
// returns the required size with StatusShortBuffer, writes nothing, and
// keeps the produced result pending; the host retries the same operation
// with an adequately sized destination to collect it. Results are never
// silently truncated.
package plugin
