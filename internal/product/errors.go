package product

import "errors"

var (
	// ErrNotFound is returned when the barcode is absent from the product database.
	ErrNotFound = errors.New("product not found in database")

	// ErrUnavailable is returned when the product database cannot be reached
	// or responds with a malformed payload.
	ErrUnavailable = errors.New("product database unavailable")
)
