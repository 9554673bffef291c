// Package engine drives specialist streams to completion.
//
// Each specialist of a request gets one stream. Text and accepted edits are
// forwarded as ordered updates while the stream is consumed, edits are
// appended to the ledger, usage goes to the accumulator and continuation
// tokens to the store. Faults are classified per run (see Outcome) and never
// escape as raw transport errors.
package engine

import "errors"

// ErrNoSpecialists is reported when a request names no specialists.
var ErrNoSpecialists = errors.New("no specialists requested")
