package pim

import "github.com/google/uuid"

// NewID mints a fresh opaque item id for a Store that assigns its own
// ids on AddItem (as opposed to a DAV server, which assigns one via
// its response Location/href).
func NewID() string {
	return uuid.NewString()
}
