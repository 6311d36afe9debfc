package space

import "errors"

var (
	// ErrInvalidHolder rejects holders with an empty name.
	ErrInvalidHolder = errors.New("space: invalid holder")

	// ErrHolderKind means a holder name is already in use with another kind.
	ErrHolderKind = errors.New("space: holder kind mismatch")

	// ErrMerge reports a merge that failed; the record is left unchanged.
	ErrMerge = errors.New("space: merge failed")
)
