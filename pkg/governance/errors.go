package governance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProtectionViolation = errors.New("protection violation")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrRetentionViolation  = errors.New("retention violation")
	ErrNotFound            = errors.New("not found")
)

// ProtectionViolationError carries the full evaluation so callers can render
// the missing checks and reviewers.
type ProtectionViolationError struct {
	Evaluation PolicyEvaluation
}

func (e *ProtectionViolationError) Error() string {
	var parts []string
	if e.Evaluation.Reason != nil {
		parts = append(parts, *e.Evaluation.Reason)
	}
	if len(e.Evaluation.RequiredChecks) > 0 {
		parts = append(parts, fmt.Sprintf("missing checks: %s", strings.Join(e.Evaluation.RequiredChecks, ", ")))
	}
	if e.Evaluation.MissingReviewers > 0 {
		parts = append(parts, fmt.Sprintf("missing %d reviewer(s)", e.Evaluation.MissingReviewers))
	}
	if len(parts) == 0 {
		parts = append(parts, "rejected")
	}
	return "protection violation: " + strings.Join(parts, "; ")
}

func (e *ProtectionViolationError) Unwrap() error {
	return ErrProtectionViolation
}

// QuotaExceededError carries the quota standing that rejected the write.
type QuotaExceededError struct {
	Status QuotaStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d bytes (%.1f%%)",
		e.Status.CurrentBytes, e.Status.HardLimit, e.Status.UsagePercentage)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}
