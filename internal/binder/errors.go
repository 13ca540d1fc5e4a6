package binder

import "errors"

var (
	// ErrMissingID is returned when an operation needs a record id and the
	// record has none under the collection's id attribute.
	ErrMissingID = errors.New("no id attribute")

	// ErrSaveCanceled marks a debounced save superseded by a later one for the
	// same record. It is logged and swallowed, never returned.
	ErrSaveCanceled = errors.New("save canceled")

	// ErrNotBound is returned by Unbind for a (component, property) pair that
	// has no binding.
	ErrNotBound = errors.New("property not bound")
)
