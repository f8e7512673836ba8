package compliance

import "errors"

var (
	ErrHoldNotFound    = errors.New("legal hold not found")
	ErrAlreadyReleased = errors.New("legal hold already released")
)
