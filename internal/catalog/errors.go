package catalog

import "errors"

// Catalog errors.
var (
	ErrComponentNotFound = errors.New("component not found")
	ErrInvalidCatalog    = errors.New("invalid catalog")
)
