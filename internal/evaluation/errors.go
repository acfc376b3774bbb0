package evaluation

import "errors"

var (
	// ErrInvalidInput marks malformed SOPs or observations and empty step lists.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSimilarityProvider wraps any failure of the injected similarity capability.
	ErrSimilarityProvider = errors.New("similarity provider failed")

	// ErrConfiguration is returned at construction time, before any observation is read.
	ErrConfiguration = errors.New("invalid evaluator configuration")
)
