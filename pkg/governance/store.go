package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blacklakehq/blacklake/pkg/cache"
	"github.com/blacklakehq/blacklake/pkg/kv"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

const governancePartition = "governance"

const matcherCacheSize = 100_000

func protectedRefPath(repoID, id string) []byte {
	return []byte(kv.FormatPath("protected", repoID, id))
}

func protectedRefPrefix(repoID string) []byte {
	return []byte(kv.FormatPath("protected", repoID) + kv.PathDelimiter)
}

func quotaPath(repoID string) []byte {
	return []byte(kv.FormatPath("quota", repoID))
}

func usagePath(repoID string) []byte {
	return []byte(kv.FormatPath("usage", repoID))
}

func retentionPath(repoID string) []byte {
	return []byte(kv.FormatPath("retention", repoID))
}

func checkResultPath(repoID, commitID, checkName string) []byte {
	return []byte(kv.FormatPath("checks", repoID, commitID, checkName))
}

func checkResultPrefix(repoID, commitID string) []byte {
	return []byte(kv.FormatPath("checks", repoID, commitID) + kv.PathDelimiter)
}

// Store persists protection rules, quotas, usage, retention configuration
// and check results. Compiled ref-name globs are cached, rule sets are small
// and patterns repeat.
type Store struct {
	store    kv.Store
	matchers cache.Cache
}

func NewStore(store kv.Store) *Store {
	return &Store{
		store:    store,
		matchers: cache.NewCache(matcherCacheSize, time.Hour, cache.NewJitterFn(time.Minute)),
	}
}

func (s *Store) SetProtectedRef(ctx context.Context, ref *ProtectedRef) error {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if err := kv.SetObject(ctx, s.store, []byte(governancePartition), protectedRefPath(ref.RepoID, ref.ID), ref); err != nil {
		return fmt.Errorf("set protected ref %s: %w", ref.RefName, err)
	}
	return nil
}

func (s *Store) DeleteProtectedRef(ctx context.Context, repoID, id string) error {
	if err := s.store.Delete(ctx, []byte(governancePartition), protectedRefPath(repoID, id)); err != nil {
		return fmt.Errorf("delete protected ref %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListProtectedRefs(ctx context.Context, repoID string) ([]*ProtectedRef, error) {
	itr, err := kv.ScanPrefix(ctx, s.store, []byte(governancePartition), protectedRefPrefix(repoID),
		func() interface{} { return &ProtectedRef{} })
	if err != nil {
		return nil, fmt.Errorf("list protected refs for %s: %w", repoID, err)
	}
	defer itr.Close()
	var refs []*ProtectedRef
	for itr.Next() {
		refs = append(refs, itr.Entry().Value.(*ProtectedRef))
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list protected refs for %s: %w", repoID, err)
	}
	return refs, nil
}

// MatchProtectedRef finds the first protection rule whose ref name matches
// refName, exactly or as a glob pattern. Returns nil when the ref is not
// protected.
func (s *Store) MatchProtectedRef(ctx context.Context, repoID, refName string) (*ProtectedRef, error) {
	refs, err := s.ListProtectedRefs(ctx, repoID)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.RefName == refName {
			return ref, nil
		}
	}
	for _, ref := range refs {
		matcher, err := s.matchers.GetOrSet(ref.RefName, func() (interface{}, error) {
			return glob.Compile(ref.RefName)
		})
		if err != nil {
			return nil, fmt.Errorf("invalid ref pattern %s: %w", ref.RefName, err)
		}
		if matcher.(glob.Glob).Match(refName) {
			return ref, nil
		}
	}
	return nil, nil
}

func (s *Store) SetQuota(ctx context.Context, quota *RepoQuota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	if err := kv.SetObject(ctx, s.store, []byte(governancePartition), quotaPath(quota.RepoID), quota); err != nil {
		return fmt.Errorf("set quota for %s: %w", quota.RepoID, err)
	}
	return nil
}

func (s *Store) GetQuota(ctx context.Context, repoID string) (*RepoQuota, error) {
	quota := &RepoQuota{}
	_, err := kv.GetObject(ctx, s.store, []byte(governancePartition), quotaPath(repoID), quota)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("quota for %s: %w", repoID, ErrNotFound)
		}
		return nil, fmt.Errorf("get quota for %s: %w", repoID, err)
	}
	return quota, nil
}

func (s *Store) SetUsage(ctx context.Context, usage *RepoUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.NewString()
	}
	if usage.LastCalculated.IsZero() {
		usage.LastCalculated = time.Now().UTC()
	}
	if err := kv.SetObject(ctx, s.store, []byte(governancePartition), usagePath(usage.RepoID), usage); err != nil {
		return fmt.Errorf("set usage for %s: %w", usage.RepoID, err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, repoID string) (*RepoUsage, error) {
	usage := &RepoUsage{}
	_, err := kv.GetObject(ctx, s.store, []byte(governancePartition), usagePath(repoID), usage)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("usage for %s: %w", repoID, ErrNotFound)
		}
		return nil, fmt.Errorf("get usage for %s: %w", repoID, err)
	}
	return usage, nil
}

func (s *Store) SetRetention(ctx context.Context, retention *RepoRetention) error {
	if retention.ID == "" {
		retention.ID = uuid.NewString()
	}
	if err := kv.SetObject(ctx, s.store, []byte(governancePartition), retentionPath(retention.RepoID), retention); err != nil {
		return fmt.Errorf("set retention for %s: %w", retention.RepoID, err)
	}
	return nil
}

func (s *Store) GetRetention(ctx context.Context, repoID string) (*RepoRetention, error) {
	retention := &RepoRetention{}
	_, err := kv.GetObject(ctx, s.store, []byte(governancePartition), retentionPath(repoID), retention)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("retention for %s: %w", repoID, ErrNotFound)
		}
		return nil, fmt.Errorf("get retention for %s: %w", repoID, err)
	}
	return retention, nil
}

// PutCheckResult records a check outcome for a commit. One row per
// (commit, check name), a re-run overwrites the previous outcome.
func (s *Store) PutCheckResult(ctx context.Context, result *CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	key := checkResultPath(result.RepoID, result.CommitID, result.CheckName)
	if err := kv.SetObject(ctx, s.store, []byte(governancePartition), key, result); err != nil {
		return fmt.Errorf("put check result %s: %w", result.CheckName, err)
	}
	return nil
}

func (s *Store) ListCheckResults(ctx context.Context, repoID, commitID string) ([]CheckResult, error) {
	itr, err := kv.ScanPrefix(ctx, s.store, []byte(governancePartition), checkResultPrefix(repoID, commitID),
		func() interface{} { return &CheckResult{} })
	if err != nil {
		return nil, fmt.Errorf("list check results for %s: %w", commitID, err)
	}
	defer itr.Close()
	var results []CheckResult
	for itr.Next() {
		results = append(results, *itr.Entry().Value.(*CheckResult))
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list check results for %s: %w", commitID, err)
	}
	return results, nil
}
