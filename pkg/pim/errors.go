package pim

import "errors"

// Sentinel errors for the item-model layer, wrapped with fmt.Errorf
// ("...: %w") by the parsers. Callers use errors.Is to classify a
// parse failure.
var (
	ErrMalformed = errors.New("malformed item")
)
