package catalog

import "errors"

// Domain errors for the catalog package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, catalog.ErrDuplicateAlias) {
//	    // reject the edited file, keep the current catalog
//	}
var (
	// ErrDuplicateAlias is returned when two entries in the same category
	// claim the same alias string.
	ErrDuplicateAlias = errors.New("catalog: duplicate alias")

	// ErrMalformedEntry is returned when a device entry is missing its
	// object or property identifier.
	ErrMalformedEntry = errors.New("catalog: malformed entry")

	// ErrNotLoaded is returned by Store methods before the first
	// successful load.
	ErrNotLoaded = errors.New("catalog: not loaded")
)
