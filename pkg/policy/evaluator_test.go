package policy_test

import (
	"testing"

	"github.com/blacklakehq/blacklake/pkg/policy"
	"github.com/stretchr/testify/require"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

func allowPolicy(id string, actions, resources []string, cond *policy.Condition) *policy.Policy {
	return &policy.Policy{
		ID:        id,
		TenantID:  testTenant,
		Name:      "allow-" + id,
		Effect:    policy.EffectAllow,
		Actions:   actions,
		Resources: resources,
		Condition: cond,
	}
}

func denyPolicy(id string, actions, resources []string, cond *policy.Condition) *policy.Policy {
	return &policy.Policy{
		ID:        id,
		TenantID:  testTenant,
		Name:      "deny-" + id,
		Effect:    policy.EffectDeny,
		Actions:   actions,
		Resources: resources,
		Condition: cond,
	}
}

func request(subject, action, resource string, ctx map[string]interface{}) *policy.AccessRequest {
	return &policy.AccessRequest{
		Subject:  subject,
		Action:   action,
		Resource: resource,
		Context:  ctx,
	}
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	// deny wins regardless of policy order
	orders := [][]*policy.Policy{
		{allowPolicy("p-allow", nil, nil, nil), denyPolicy("p-deny", nil, nil, nil)},
		{denyPolicy("p-deny", nil, nil, nil), allowPolicy("p-allow", nil, nil, nil)},
	}
	for _, policies := range orders {
		e := policy.NewEvaluator(policies, nil)
		d, err := e.Evaluate(request("alice", "read", "datasets/a", nil))
		require.NoError(t, err)
		require.Equal(t, policy.EffectDeny, d.Decision)
		require.Equal(t, "p-deny", d.PolicyID)
		require.Equal(t, "Denied by 1 policy(ies)", d.Reason)
		require.Len(t, d.MatchedPolicies, 2)
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	e := policy.NewEvaluator(nil, nil)
	d, err := e.Evaluate(request("alice", "read", "datasets/a", nil))
	require.NoError(t, err)
	require.Equal(t, policy.EffectDeny, d.Decision)
	require.Empty(t, d.PolicyID)
	require.Equal(t, "No matching policies found", d.Reason)
	require.False(t, d.Allowed())
}

func TestEvaluateActionAndResourceFilters(t *testing.T) {
	e := policy.NewEvaluator([]*policy.Policy{
		allowPolicy("p1", []string{"read"}, []string{"datasets/**"}, nil),
	}, nil)

	d, err := e.Evaluate(request("alice", "read", "datasets/secure/file.csv", nil))
	require.NoError(t, err)
	require.True(t, d.Allowed())
	require.Equal(t, "Allowed by 1 policy(ies)", d.Reason)

	d, err = e.Evaluate(request("alice", "write", "datasets/secure/file.csv", nil))
	require.NoError(t, err)
	require.False(t, d.Allowed())

	d, err = e.Evaluate(request("alice", "read", "models/x", nil))
	require.NoError(t, err)
	require.False(t, d.Allowed())
}

func TestMatchesResourcePattern(t *testing.T) {
	tests := []struct {
		pattern  string
		resource string
		expected bool
	}{
		{"*", "anything/at/all", true},
		{"datasets/**", "datasets/secure/file.csv", true},
		{"datasets/**", "models/x", false},
		{"datasets/*", "datasets/file.csv", true},
		{"datasets/*", "datasets/secure/file.csv", false},
		{"datasets/a", "datasets/a", true},
		{"datasets/a", "datasets/b", false},
	}
	for _, tt := range tests {
		got := policy.MatchesResourcePattern(tt.pattern, tt.resource)
		if got != tt.expected {
			t.Errorf("MatchesResourcePattern(%q, %q) = %v, expected %v", tt.pattern, tt.resource, got, tt.expected)
		}
	}
}

func TestEvaluateConditions(t *testing.T) {
	attrs := []*policy.SubjectAttributes{{
		Subject: "alice",
		Attributes: map[string]interface{}{
			"department": "engineering",
			"roles":      []interface{}{"user", "committer"},
			"level":      float64(7),
		},
	}}

	tests := []struct {
		name    string
		cond    *policy.Condition
		ctx     map[string]interface{}
		allowed bool
		wantErr error
	}{
		{
			name:    "equals attribute",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorEquals, Value: "engineering"},
			allowed: true,
		},
		{
			name:    "not equals attribute",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorNotEquals, Value: "finance"},
			allowed: true,
		},
		{
			name:    "context shadows attribute",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorEquals, Value: "finance"},
			ctx:     map[string]interface{}{"department": "finance"},
			allowed: true,
		},
		{
			name:    "builtin subject field",
			cond:    &policy.Condition{Field: "subject", Operator: policy.OperatorEquals, Value: "alice"},
			allowed: true,
		},
		{
			name:    "in membership",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorIn, Value: []interface{}{"engineering", "research"}},
			allowed: true,
		},
		{
			name:    "not in membership",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorNotIn, Value: []interface{}{"finance"}},
			allowed: true,
		},
		{
			name:    "in requires array",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorIn, Value: "engineering"},
			wantErr: policy.ErrInvalidCondition,
		},
		{
			name:    "contains array attribute",
			cond:    &policy.Condition{Field: "roles", Operator: policy.OperatorContains, Value: "committer"},
			allowed: true,
		},
		{
			name:    "contains missing attribute is false",
			cond:    &policy.Condition{Field: "groups", Operator: policy.OperatorContains, Value: "admins"},
			allowed: false,
		},
		{
			name:    "not contains missing attribute is true",
			cond:    &policy.Condition{Field: "groups", Operator: policy.OperatorNotContains, Value: "admins"},
			allowed: true,
		},
		{
			name:    "starts with",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorStartsWith, Value: "eng"},
			allowed: true,
		},
		{
			name:    "ends with",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorEndsWith, Value: "ing"},
			allowed: true,
		},
		{
			name:    "regex match",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorRegex, Value: "^eng.*"},
			allowed: true,
		},
		{
			name:    "invalid regex",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorRegex, Value: "("},
			wantErr: policy.ErrInvalidCondition,
		},
		{
			name:    "greater than",
			cond:    &policy.Condition{Field: "level", Operator: policy.OperatorGreaterThan, Value: float64(5)},
			allowed: true,
		},
		{
			name:    "less than or equal",
			cond:    &policy.Condition{Field: "level", Operator: policy.OperatorLessThanOrEqual, Value: float64(7)},
			allowed: true,
		},
		{
			name:    "numeric operator on string field is false",
			cond:    &policy.Condition{Field: "department", Operator: policy.OperatorGreaterThan, Value: float64(5)},
			allowed: false,
		},
		{
			name:    "missing field",
			cond:    &policy.Condition{Field: "clearance", Operator: policy.OperatorEquals, Value: "high"},
			wantErr: policy.ErrMissingAttribute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := policy.NewEvaluator([]*policy.Policy{
				allowPolicy("p1", nil, nil, tt.cond),
			}, attrs)
			d, err := e.Evaluate(request("alice", "read", "datasets/a", tt.ctx))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.allowed, d.Allowed())
		})
	}
}

func TestEvaluateIntAndFloatCompare(t *testing.T) {
	// attributes written by code rather than decoded from JSON may hold ints
	attrs := []*policy.SubjectAttributes{{
		Subject:    "bob",
		Attributes: map[string]interface{}{"level": 3},
	}}
	e := policy.NewEvaluator([]*policy.Policy{
		allowPolicy("p1", nil, nil, &policy.Condition{
			Field: "level", Operator: policy.OperatorLessThan, Value: float64(5),
		}),
	}, attrs)
	d, err := e.Evaluate(request("bob", "read", "x", nil))
	require.NoError(t, err)
	require.True(t, d.Allowed())
}
