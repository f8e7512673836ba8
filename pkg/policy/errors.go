package policy

import "errors"

var (
	ErrInvalidCondition    = errors.New("invalid condition")
	ErrMissingAttribute    = errors.New("missing attribute")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrPolicyNotFound      = errors.New("policy not found")
)
