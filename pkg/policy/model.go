package policy

import "time"

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "notequals"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "notin"
	OperatorContains           Operator = "contains"
	OperatorNotContains        Operator = "notcontains"
	OperatorStartsWith         Operator = "startswith"
	OperatorEndsWith           Operator = "endswith"
	OperatorRegex              Operator = "regex"
	OperatorGreaterThan        Operator = "greaterthan"
	OperatorLessThan           Operator = "lessthan"
	OperatorGreaterThanOrEqual Operator = "greaterthanorequal"
	OperatorLessThanOrEqual    Operator = "lessthanorequal"
)

// Condition narrows a policy match. Value carries whatever shape the operator
// needs: a scalar for comparisons, an array for membership.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Policy is a tenant-scoped access rule. Empty Actions or Resources match
// any action or resource.
type Policy struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	Effect    Effect     `json:"effect"`
	Actions   []string   `json:"actions"`
	Resources []string   `json:"resources"`
	Condition *Condition `json:"condition,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type SubjectAttributes struct {
	Subject    string                 `json:"subject"`
	Attributes map[string]interface{} `json:"attributes"`
}

type AccessRequest struct {
	Subject  string                 `json:"subject"`
	Action   string                 `json:"action"`
	Resource string                 `json:"resource"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Decision is the evaluation outcome. PolicyID is the first policy of the
// winning set, MatchedPolicies lists every policy that matched for
// explainability.
type Decision struct {
	Decision        Effect   `json:"decision"`
	PolicyID        string   `json:"policy_id,omitempty"`
	Reason          string   `json:"reason"`
	MatchedPolicies []string `json:"matched_policies"`
}

func (d *Decision) Allowed() bool {
	return d.Decision == EffectAllow
}
