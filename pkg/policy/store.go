package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blacklakehq/blacklake/pkg/kv"
	"github.com/google/uuid"
)

const authPartition = "auth"

func policyPath(tenantID, policyID string) []byte {
	return []byte(kv.FormatPath("policies", tenantID, policyID))
}

func policyPrefix(tenantID string) []byte {
	return []byte(kv.FormatPath("policies", tenantID) + kv.PathDelimiter)
}

func attributesPath(subject string) []byte {
	return []byte(kv.FormatPath("attributes", subject))
}

// Store persists tenant policies and subject attributes.
type Store struct {
	store kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{store: store}
}

// WritePolicy upserts a policy. A missing ID gets a fresh one, a missing
// CreatedAt is stamped now so tenant policy order is stable.
func (s *Store) WritePolicy(ctx context.Context, p *Policy) error {
	if p.TenantID == "" {
		return fmt.Errorf("policy tenant id: %w", kv.ErrMissingKey)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := kv.SetObject(ctx, s.store, []byte(authPartition), policyPath(p.TenantID, p.ID), p); err != nil {
		return fmt.Errorf("write policy %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, tenantID, policyID string) (*Policy, error) {
	p := &Policy{}
	_, err := kv.GetObject(ctx, s.store, []byte(authPartition), policyPath(tenantID, policyID), p)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", policyID, ErrPolicyNotFound)
		}
		return nil, fmt.Errorf("get policy %s: %w", policyID, err)
	}
	return p, nil
}

func (s *Store) DeletePolicy(ctx context.Context, tenantID, policyID string) error {
	if err := s.store.Delete(ctx, []byte(authPartition), policyPath(tenantID, policyID)); err != nil {
		return fmt.Errorf("delete policy %s: %w", policyID, err)
	}
	return nil
}

// ListPolicies returns a tenant's policies ordered by creation time.
func (s *Store) ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	itr, err := kv.ScanPrefix(ctx, s.store, []byte(authPartition), policyPrefix(tenantID),
		func() interface{} { return &Policy{} })
	if err != nil {
		return nil, fmt.Errorf("list policies for %s: %w", tenantID, err)
	}
	defer itr.Close()
	var policies []*Policy
	for itr.Next() {
		policies = append(policies, itr.Entry().Value.(*Policy))
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list policies for %s: %w", tenantID, err)
	}
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})
	return policies, nil
}

func (s *Store) SetSubjectAttributes(ctx context.Context, attrs *SubjectAttributes) error {
	if attrs.Subject == "" {
		return fmt.Errorf("subject: %w", kv.ErrMissingKey)
	}
	if err := kv.SetObject(ctx, s.store, []byte(authPartition), attributesPath(attrs.Subject), attrs); err != nil {
		return fmt.Errorf("set attributes for %s: %w", attrs.Subject, err)
	}
	return nil
}

// GetSubjectAttributes returns the stored attributes for subject, or an empty
// set when none were recorded.
func (s *Store) GetSubjectAttributes(ctx context.Context, subject string) (*SubjectAttributes, error) {
	attrs := &SubjectAttributes{}
	_, err := kv.GetObject(ctx, s.store, []byte(authPartition), attributesPath(subject), attrs)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return &SubjectAttributes{Subject: subject, Attributes: map[string]interface{}{}}, nil
		}
		return nil, fmt.Errorf("get attributes for %s: %w", subject, err)
	}
	return attrs, nil
}
