package storage

import "errors"

// Sentinel errors a concrete Store/Source implementation may wrap
// internally before collapsing to the finite Outcome it returns;
// useful for logging the specific cause alongside the generic Fail.
var (
	ErrNotFound           = errors.New("storage: item not found")
	ErrPreconditionFailed = errors.New("storage: revision precondition failed")
)
