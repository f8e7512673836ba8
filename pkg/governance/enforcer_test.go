package governance_test

import (
	"context"
	"testing"

	"github.com/blacklakehq/blacklake/pkg/governance"
	"github.com/blacklakehq/blacklake/pkg/kv"
	_ "github.com/blacklakehq/blacklake/pkg/kv/mem"
	kvparams "github.com/blacklakehq/blacklake/pkg/kv/params"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/blacklakehq/blacklake/pkg/permissions"
	"github.com/blacklakehq/blacklake/pkg/policy"
	"github.com/stretchr/testify/require"
)

const (
	testTenant = "11111111-1111-1111-1111-111111111111"
	testRepo   = "repo-1"
	testCommit = "commit-1"
)

type stubRetention struct {
	blocked map[string]bool
}

func (s *stubRetention) CanDeleteEntry(_ context.Context, entryID string) (bool, error) {
	return !s.blocked[entryID], nil
}

type testEnv struct {
	store       *governance.Store
	policyStore *policy.Store
	retention   *stubRetention
	enforcer    *governance.Enforcer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := kv.Open(context.Background(), kvparams.KV{Type: "mem"})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	govStore := governance.NewStore(store)
	policyStore := policy.NewStore(store)
	retention := &stubRetention{blocked: map[string]bool{}}
	enforcer := governance.NewEnforcer(govStore, policy.NewLoader(policyStore, nil), retention, logging.DummyLogger{})
	return &testEnv{
		store:       govStore,
		policyStore: policyStore,
		retention:   retention,
		enforcer:    enforcer,
	}
}

func TestQuotaStatusBoundaries(t *testing.T) {
	status := governance.NewQuotaStatus(1_000_000_001, 1_000_000_000, 10_000_000_000)
	require.True(t, status.SoftWarning)
	require.False(t, status.HardExceeded)
	require.InDelta(t, 10.0, status.UsagePercentage, 0.01)

	status = governance.NewQuotaStatus(10_000_000_001, 1_000_000_000, 10_000_000_000)
	require.True(t, status.HardExceeded)

	// exactly at the limit is not a violation
	status = governance.NewQuotaStatus(1_000_000_000, 1_000_000_000, 10_000_000_000)
	require.False(t, status.SoftWarning)

	// zero hard limit yields zero percentage, not a division error
	status = governance.NewQuotaStatus(100, 0, 0)
	require.Equal(t, 0.0, status.UsagePercentage)
}

func TestEvaluateBranchProtectionRequiredChecks(t *testing.T) {
	protectedRef := &governance.ProtectedRef{
		RepoID:         testRepo,
		RefName:        "main",
		RequiredChecks: []string{"ci"},
	}

	evaluation := governance.EvaluateBranchProtection(protectedRef, testCommit, false, nil, 0)
	require.False(t, evaluation.Allowed)
	require.Equal(t, []string{"ci"}, evaluation.RequiredChecks)

	results := []governance.CheckResult{{
		RepoID:    testRepo,
		RefName:   "main",
		CommitID:  testCommit,
		CheckName: "ci",
		Status:    governance.CheckStatusSuccess,
	}}
	evaluation = governance.EvaluateBranchProtection(protectedRef, testCommit, false, results, 0)
	require.True(t, evaluation.Allowed)
	require.Empty(t, evaluation.RequiredChecks)

	// a Success for a different commit does not count
	evaluation = governance.EvaluateBranchProtection(protectedRef, "other-commit", false, results, 0)
	require.False(t, evaluation.Allowed)

	// non-Success statuses do not count
	results[0].Status = governance.CheckStatusFailure
	evaluation = governance.EvaluateBranchProtection(protectedRef, testCommit, false, results, 0)
	require.False(t, evaluation.Allowed)
}

func TestEvaluateBranchProtectionAdminAndReviewers(t *testing.T) {
	protectedRef := &governance.ProtectedRef{
		RepoID:            testRepo,
		RefName:           "main",
		RequireAdmin:      true,
		RequiredReviewers: 2,
	}

	evaluation := governance.EvaluateBranchProtection(protectedRef, testCommit, false, nil, 0)
	require.False(t, evaluation.Allowed)
	require.NotNil(t, evaluation.Reason)
	require.Equal(t, "Admin access required", *evaluation.Reason)
	require.Equal(t, 2, evaluation.MissingReviewers)

	evaluation = governance.EvaluateBranchProtection(protectedRef, testCommit, true, nil, 1)
	require.False(t, evaluation.Allowed)
	require.Nil(t, evaluation.Reason)
	require.Equal(t, 1, evaluation.MissingReviewers)

	evaluation = governance.EvaluateBranchProtection(protectedRef, testCommit, true, nil, 2)
	require.True(t, evaluation.Allowed)
}

func TestCheckRefUpdateUnprotected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "feature/x",
		Subject:  "alice",
		CommitID: testCommit,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, governance.StateApplied, decision.State)
}

func TestCheckRefUpdateProtectionRejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.SetProtectedRef(ctx, &governance.ProtectedRef{
		RepoID:           testRepo,
		RefName:          "main",
		RequiredChecks:   []string{"ci"},
		AllowFastForward: true,
	}))

	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "main",
		Subject:  "alice",
		CommitID: testCommit,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, governance.StateRejected, decision.State)
	require.ErrorIs(t, decision.Violation, governance.ErrProtectionViolation)
	require.Equal(t, []string{"ci"}, decision.Evaluation.RequiredChecks)

	// a Success result for the commit flips the decision
	require.NoError(t, env.store.PutCheckResult(ctx, &governance.CheckResult{
		RepoID:    testRepo,
		RefName:   "main",
		CommitID:  testCommit,
		CheckName: "ci",
		Status:    governance.CheckStatusSuccess,
	}))
	decision, err = env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "main",
		Subject:  "alice",
		CommitID: testCommit,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestCheckRefUpdateGlobPattern(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.SetProtectedRef(ctx, &governance.ProtectedRef{
		RepoID:           testRepo,
		RefName:          "release/*",
		AllowFastForward: true,
		AllowDelete:      false,
	}))

	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "release/1.2",
		Subject:  "alice",
		IsDelete: true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.ErrorIs(t, decision.Violation, governance.ErrProtectionViolation)
}

func TestCheckRefUpdateAdminViaPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.SetProtectedRef(ctx, &governance.ProtectedRef{
		RepoID:           testRepo,
		RefName:          "main",
		RequireAdmin:     true,
		AllowFastForward: true,
	}))
	require.NoError(t, env.policyStore.WritePolicy(ctx, &policy.Policy{
		TenantID:  testTenant,
		Name:      "admins-bypass",
		Effect:    policy.EffectAllow,
		Actions:   []string{permissions.BypassProtectionAction},
		Resources: []string{permissions.RepoResource(testRepo)},
		Condition: &policy.Condition{
			Field:    "roles",
			Operator: policy.OperatorContains,
			Value:    "admin",
		},
	}))
	require.NoError(t, env.policyStore.SetSubjectAttributes(ctx, &policy.SubjectAttributes{
		Subject:    "root",
		Attributes: map[string]interface{}{"roles": []interface{}{"admin"}},
	}))

	// alice has no admin role
	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "main",
		Subject:  "alice",
		CommitID: testCommit,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	decision, err = env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:   testRepo,
		TenantID: testTenant,
		RefName:  "main",
		Subject:  "root",
		CommitID: testCommit,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestCheckRefUpdateQuota(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.SetQuota(ctx, &governance.RepoQuota{
		RepoID:    testRepo,
		BytesSoft: 1_000,
		BytesHard: 10_000,
	}))
	require.NoError(t, env.store.SetUsage(ctx, &governance.RepoUsage{
		RepoID:       testRepo,
		CurrentBytes: 900,
	}))

	// crossing soft is a warning, not a rejection
	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:          testRepo,
		TenantID:        testTenant,
		RefName:         "main",
		Subject:         "alice",
		AdditionalBytes: 200,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Len(t, decision.Warnings, 1)
	require.True(t, decision.Quota.SoftWarning)

	// crossing hard rejects
	decision, err = env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:          testRepo,
		TenantID:        testTenant,
		RefName:         "main",
		Subject:         "alice",
		AdditionalBytes: 9_200,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.ErrorIs(t, decision.Violation, governance.ErrQuotaExceeded)
}

func TestCheckRefUpdateRetention(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.retention.blocked["entry-held"] = true

	decision, err := env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:         testRepo,
		TenantID:       testTenant,
		RefName:        "main",
		Subject:        "alice",
		IsDelete:       true,
		DeleteEntryIDs: []string{"entry-free", "entry-held"},
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, governance.StateRejected, decision.State)
	require.ErrorIs(t, decision.Violation, governance.ErrRetentionViolation)

	delete(env.retention.blocked, "entry-held")
	decision, err = env.enforcer.CheckRefUpdate(ctx, &governance.RefUpdate{
		RepoID:         testRepo,
		TenantID:       testTenant,
		RefName:        "main",
		Subject:        "alice",
		IsDelete:       true,
		DeleteEntryIDs: []string{"entry-free", "entry-held"},
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}
