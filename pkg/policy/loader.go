package policy

import (
	"context"
	"time"

	"github.com/blacklakehq/blacklake/pkg/cache"
)

// Loader assembles an Evaluator per request: tenant policies plus the
// subject's attributes, both behind a short-TTL cache. The store stays the
// source of truth, the cache only amortizes hot-path loads.
type Loader struct {
	store      *Store
	policies   cache.Cache
	attributes cache.Cache
}

type LoaderParams struct {
	CacheSize   int
	CacheExpiry time.Duration
	CacheJitter time.Duration
}

func NewLoader(store *Store, params *LoaderParams) *Loader {
	policyCache := cache.NoCache
	attrCache := cache.NoCache
	if params != nil && params.CacheSize > 0 {
		jitterFn := cache.NewJitterFn(params.CacheJitter)
		policyCache = cache.NewCache(params.CacheSize, params.CacheExpiry, jitterFn)
		attrCache = cache.NewCache(params.CacheSize, params.CacheExpiry, jitterFn)
	}
	return &Loader{
		store:      store,
		policies:   policyCache,
		attributes: attrCache,
	}
}

// LoadEvaluator returns an evaluator for one tenant/subject pair. Treat
// load+evaluate as a single logical unit per request.
func (l *Loader) LoadEvaluator(ctx context.Context, tenantID, subject string) (*Evaluator, error) {
	policies, err := l.policies.GetOrSet(tenantID, func() (interface{}, error) {
		return l.store.ListPolicies(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	attrs, err := l.attributes.GetOrSet(subject, func() (interface{}, error) {
		return l.store.GetSubjectAttributes(ctx, subject)
	})
	if err != nil {
		return nil, err
	}
	return NewEvaluator(policies.([]*Policy), []*SubjectAttributes{attrs.(*SubjectAttributes)}), nil
}
