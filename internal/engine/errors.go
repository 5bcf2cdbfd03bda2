package engine

import "errors"

var (
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrForbidden is returned when the requester has no access to the document.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidProposal is returned for malformed input, before any state is read.
	ErrInvalidProposal = errors.New("invalid proposal")
)
