package index

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrParentMismatch = errors.New("parent mismatch")

	ErrRepositoryNotFound = fmt.Errorf("repository: %w", ErrNotFound)
	ErrCommitNotFound     = fmt.Errorf("commit: %w", ErrNotFound)
	ErrObjectNotFound     = fmt.Errorf("object: %w", ErrNotFound)
	ErrRefNotFound        = fmt.Errorf("ref: %w", ErrNotFound)
)

// ParentMismatchError reports an optimistic concurrency conflict on a ref
// update. The caller should re-fetch head and retry.
type ParentMismatchError struct {
	Expected string
	Actual   string
}

func (e *ParentMismatchError) Error() string {
	return fmt.Sprintf("parent mismatch: expected %q, head is %q", e.Expected, e.Actual)
}

func (e *ParentMismatchError) Unwrap() error {
	return ErrParentMismatch
}

func IsParentMismatch(err error) bool {
	return errors.Is(err, ErrParentMismatch)
}
