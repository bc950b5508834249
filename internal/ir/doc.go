// Package ir holds the connector's protocol and domain types.
//
// This package contains type definitions plus the canonical JSON encoding
// used for structural comparison and content digests. All other internal
// packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Policy patterns are never stored, they are derived from a rule's shape
//   - Canonical encoding forbids floats, operand literals travel as strings
//   - Response headers always correlate to the request id
package ir
