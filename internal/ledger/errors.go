// Package ledger keeps the durable, append-only record of accepted edits.
//
// One markdown file per project root collects session blocks. Each session
// has a header, sequentially numbered edit entries, and at most one closing
// stats block per finalize.
package ledger

import "errors"

var (
	// ErrEmptyRoot is returned when a ledger is requested without a project root.
	ErrEmptyRoot = errors.New("ledger: empty project root")
)
