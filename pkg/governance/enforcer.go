package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/blacklakehq/blacklake/pkg/permissions"
	"github.com/blacklakehq/blacklake/pkg/policy"
	"github.com/hashicorp/go-multierror"
)

// RetentionChecker answers whether an entry may be deleted. Implemented by
// the compliance service.
type RetentionChecker interface {
	CanDeleteEntry(ctx context.Context, entryID string) (bool, error)
}

// EvaluatorLoader assembles an access evaluator for a tenant/subject pair.
type EvaluatorLoader interface {
	LoadEvaluator(ctx context.Context, tenantID, subject string) (*policy.Evaluator, error)
}

// Enforcer gates ref mutations: branch protection, quota headroom, and
// retention on deletes. Any rejecting check wins over all passing ones.
type Enforcer struct {
	store     *Store
	policies  EvaluatorLoader
	retention RetentionChecker
	log       logging.Logger
}

func NewEnforcer(store *Store, policies EvaluatorLoader, retention RetentionChecker, log logging.Logger) *Enforcer {
	return &Enforcer{
		store:     store,
		policies:  policies,
		retention: retention,
		log:       log,
	}
}

// EvaluateBranchProtection checks one protection rule against a candidate
// commit. Every required check needs a Success result for that commit and
// required reviewers need that many recorded approvals. A rejection is a
// result, not an error.
func EvaluateBranchProtection(protectedRef *ProtectedRef, commitID string, isAdmin bool, checkResults []CheckResult, approvals int) PolicyEvaluation {
	evaluation := PolicyEvaluation{
		Allowed:        true,
		RequiredChecks: []string{},
	}

	if protectedRef.RequireAdmin && !isAdmin {
		evaluation.Allowed = false
		reason := "Admin access required"
		evaluation.Reason = &reason
	}

	for _, requiredCheck := range protectedRef.RequiredChecks {
		passed := false
		for _, result := range checkResults {
			if result.CheckName == requiredCheck && result.CommitID == commitID && result.Status == CheckStatusSuccess {
				passed = true
				break
			}
		}
		if !passed {
			evaluation.Allowed = false
			evaluation.RequiredChecks = append(evaluation.RequiredChecks, requiredCheck)
		}
	}

	if protectedRef.RequiredReviewers > approvals {
		evaluation.Allowed = false
		evaluation.MissingReviewers = protectedRef.RequiredReviewers - approvals
	}

	return evaluation
}

// CheckRefUpdate walks a ref mutation through the governance states:
// Requested, ProtectionCheck, QuotaCheck, RetentionCheck, then Applied or
// Rejected. The first rejecting state is terminal. Soft quota crossings are
// surfaced as warnings without rejecting.
func (e *Enforcer) CheckRefUpdate(ctx context.Context, update *RefUpdate) (*Decision, error) {
	decision := &Decision{State: StateRequested}
	log := e.log.WithContext(ctx).WithFields(logging.Fields{
		logging.RepositoryFieldKey: update.RepoID,
		logging.RefFieldKey:        update.RefName,
		logging.ActorFieldKey:      update.Subject,
	})

	decision.State = StateProtectionCheck
	if err := e.checkProtection(ctx, update, decision); err != nil {
		return nil, err
	}
	if decision.Violation == nil {
		decision.State = StateQuotaCheck
		if err := e.checkQuota(ctx, update, decision); err != nil {
			return nil, err
		}
	}
	if decision.Violation == nil && update.IsDelete {
		decision.State = StateRetentionCheck
		if err := e.checkRetention(ctx, update, decision); err != nil {
			return nil, err
		}
	}

	if decision.Violation != nil {
		decision.State = StateRejected
		decision.Allowed = false
		decision.Reason = decision.Violation.Error()
		log.WithField("reason", decision.Reason).Info("ref update rejected")
		return decision, nil
	}
	decision.State = StateApplied
	decision.Allowed = true
	for _, warning := range decision.Warnings {
		log.WithField("warning", warning).Warn("ref update warning")
	}
	return decision, nil
}

func (e *Enforcer) checkProtection(ctx context.Context, update *RefUpdate, decision *Decision) error {
	protectedRef, err := e.store.MatchProtectedRef(ctx, update.RepoID, update.RefName)
	if err != nil {
		return err
	}
	if protectedRef == nil {
		return nil
	}

	if update.IsDelete && !protectedRef.AllowDelete {
		reason := "Ref deletion is not allowed"
		decision.Violation = &ProtectionViolationError{Evaluation: PolicyEvaluation{Reason: &reason}}
		return nil
	}
	if update.IsFastForward && !protectedRef.AllowFastForward {
		reason := "Fast-forward updates are not allowed"
		decision.Violation = &ProtectionViolationError{Evaluation: PolicyEvaluation{Reason: &reason}}
		return nil
	}

	isAdmin := false
	if protectedRef.RequireAdmin {
		isAdmin, err = e.isAdmin(ctx, update)
		if err != nil {
			return err
		}
	}

	var checkResults []CheckResult
	if len(protectedRef.RequiredChecks) > 0 {
		checkResults, err = e.store.ListCheckResults(ctx, update.RepoID, update.CommitID)
		if err != nil {
			return err
		}
	}

	evaluation := EvaluateBranchProtection(protectedRef, update.CommitID, isAdmin, checkResults, update.Approvals)
	decision.Evaluation = &evaluation
	if !evaluation.Allowed {
		decision.Violation = &ProtectionViolationError{Evaluation: evaluation}
	}
	return nil
}

// isAdmin resolves the admin gate through the tenant's policy set.
func (e *Enforcer) isAdmin(ctx context.Context, update *RefUpdate) (bool, error) {
	evaluator, err := e.policies.LoadEvaluator(ctx, update.TenantID, update.Subject)
	if err != nil {
		return false, err
	}
	d, err := evaluator.Evaluate(&policy.AccessRequest{
		Subject:  update.Subject,
		Action:   permissions.BypassProtectionAction,
		Resource: permissions.RepoResource(update.RepoID),
	})
	if err != nil {
		return false, err
	}
	return d.Allowed(), nil
}

func (e *Enforcer) checkQuota(ctx context.Context, update *RefUpdate, decision *Decision) error {
	quota, err := e.store.GetQuota(ctx, update.RepoID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	currentBytes := int64(0)
	usage, err := e.store.GetUsage(ctx, update.RepoID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if usage != nil {
		currentBytes = usage.CurrentBytes
	}

	status := NewQuotaStatus(currentBytes+update.AdditionalBytes, quota.BytesSoft, quota.BytesHard)
	decision.Quota = &status
	if status.HardExceeded {
		decision.Violation = &QuotaExceededError{Status: status}
		return nil
	}
	if status.SoftWarning {
		decision.Warnings = append(decision.Warnings,
			fmt.Sprintf("repository exceeds soft quota: %d of %d bytes (%.1f%%)",
				status.CurrentBytes, status.HardLimit, status.UsagePercentage))
	}
	return nil
}

func (e *Enforcer) checkRetention(ctx context.Context, update *RefUpdate, decision *Decision) error {
	var blocked error
	for _, entryID := range update.DeleteEntryIDs {
		deletable, err := e.retention.CanDeleteEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !deletable {
			blocked = multierror.Append(blocked,
				fmt.Errorf("entry %s: %w", entryID, ErrRetentionViolation))
		}
	}
	if blocked != nil {
		decision.Violation = blocked
	}
	return nil
}
