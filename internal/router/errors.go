package router

import "errors"

// ErrNoDecision means the classifier reply held no usable specialist names.
// Route never returns it; it selects the fallback path.
var ErrNoDecision = errors.New("router: no usable decision")
