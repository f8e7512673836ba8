package policy

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

// Evaluator combines a loaded tenant policy set with subject attributes and
// answers access requests. It holds no mutable state: load once, evaluate
// many times, reload on tenant or subject change.
type Evaluator struct {
	policies          []*Policy
	subjectAttributes map[string]*SubjectAttributes
}

func NewEvaluator(policies []*Policy, attributes []*SubjectAttributes) *Evaluator {
	attrMap := make(map[string]*SubjectAttributes, len(attributes))
	for _, a := range attributes {
		attrMap[a.Subject] = a
	}
	return &Evaluator{
		policies:          policies,
		subjectAttributes: attrMap,
	}
}

// Evaluate applies deny-overrides-allow over every matching policy. With no
// match at all the request is denied.
func (e *Evaluator) Evaluate(request *AccessRequest) (*Decision, error) {
	var matched, allowed, denied []string
	for _, p := range e.policies {
		ok, err := e.matchesPolicy(p, request)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matched = append(matched, p.ID)
		switch p.Effect {
		case EffectAllow:
			allowed = append(allowed, p.ID)
		case EffectDeny:
			denied = append(denied, p.ID)
		}
	}

	if len(denied) > 0 {
		return &Decision{
			Decision:        EffectDeny,
			PolicyID:        denied[0],
			Reason:          fmt.Sprintf("Denied by %d policy(ies)", len(denied)),
			MatchedPolicies: matched,
		}, nil
	}
	if len(allowed) > 0 {
		return &Decision{
			Decision:        EffectAllow,
			PolicyID:        allowed[0],
			Reason:          fmt.Sprintf("Allowed by %d policy(ies)", len(allowed)),
			MatchedPolicies: matched,
		}, nil
	}
	return &Decision{
		Decision:        EffectDeny,
		Reason:          "No matching policies found",
		MatchedPolicies: matched,
	}, nil
}

func (e *Evaluator) matchesPolicy(p *Policy, request *AccessRequest) (bool, error) {
	if len(p.Actions) > 0 && !containsString(p.Actions, request.Action) {
		return false, nil
	}
	if len(p.Resources) > 0 {
		resourceMatches := false
		for _, pattern := range p.Resources {
			if MatchesResourcePattern(pattern, request.Resource) {
				resourceMatches = true
				break
			}
		}
		if !resourceMatches {
			return false, nil
		}
	}
	if p.Condition != nil {
		ok, err := e.evaluateCondition(p.Condition, request)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// MatchesResourcePattern reports whether resource matches pattern: "*" is
// everything, "prefix/**" is any resource under prefix, "prefix/*" is a
// single further path segment, anything else is exact equality.
func MatchesResourcePattern(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		return strings.HasPrefix(resource, prefix)
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		return strings.HasPrefix(resource, prefix) && !strings.Contains(resource[len(prefix):], "/")
	}
	return pattern == resource
}

//nolint:gocyclo
func (e *Evaluator) evaluateCondition(c *Condition, request *AccessRequest) (bool, error) {
	switch c.Operator {
	case OperatorContains, OperatorNotContains:
		// membership in an array-valued subject attribute; a missing or
		// non-array attribute contains nothing
		contains := false
		if attrs, ok := e.subjectAttributes[request.Subject]; ok {
			if arr, ok := attrs.Attributes[c.Field].([]interface{}); ok {
				contains = containsValue(arr, c.Value)
			}
		}
		if c.Operator == OperatorContains {
			return contains, nil
		}
		return !contains, nil
	}

	value, err := e.getFieldValue(c.Field, request)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case OperatorEquals:
		return valuesEqual(value, c.Value), nil
	case OperatorNotEquals:
		return !valuesEqual(value, c.Value), nil
	case OperatorIn:
		arr, ok := c.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("IN operator requires array value: %w", ErrInvalidCondition)
		}
		return containsValue(arr, value), nil
	case OperatorNotIn:
		arr, ok := c.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("NOT IN operator requires array value: %w", ErrInvalidCondition)
		}
		return !containsValue(arr, value), nil
	case OperatorStartsWith:
		s, cs, ok := stringPair(value, c.Value)
		return ok && strings.HasPrefix(s, cs), nil
	case OperatorEndsWith:
		s, cs, ok := stringPair(value, c.Value)
		return ok && strings.HasSuffix(s, cs), nil
	case OperatorRegex:
		s, cs, ok := stringPair(value, c.Value)
		if !ok {
			return false, nil
		}
		re, err := regexp.Compile(cs)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", cs, ErrInvalidCondition)
		}
		return re.MatchString(s), nil
	case OperatorGreaterThan:
		n, cn, ok := numericPair(value, c.Value)
		return ok && n > cn, nil
	case OperatorLessThan:
		n, cn, ok := numericPair(value, c.Value)
		return ok && n < cn, nil
	case OperatorGreaterThanOrEqual:
		n, cn, ok := numericPair(value, c.Value)
		return ok && n >= cn, nil
	case OperatorLessThanOrEqual:
		n, cn, ok := numericPair(value, c.Value)
		return ok && n <= cn, nil
	default:
		return false, fmt.Errorf("%q: %w", c.Operator, ErrUnsupportedOperator)
	}
}

// getFieldValue resolves a condition field: request context first, then
// subject attributes, then the built-in request fields.
func (e *Evaluator) getFieldValue(field string, request *AccessRequest) (interface{}, error) {
	if value, ok := request.Context[field]; ok {
		return value, nil
	}
	if attrs, ok := e.subjectAttributes[request.Subject]; ok {
		if value, ok := attrs.Attributes[field]; ok {
			return value, nil
		}
	}
	switch field {
	case "subject":
		return request.Subject, nil
	case "action":
		return request.Action, nil
	case "resource":
		return request.Resource, nil
	}
	return nil, fmt.Errorf("%s: %w", field, ErrMissingAttribute)
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func containsValue(arr []interface{}, v interface{}) bool {
	for _, item := range arr {
		if valuesEqual(item, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares decoded JSON values: numbers compare by value across
// numeric types, everything else by deep equality.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func stringPair(a, b interface{}) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)
	return as, bs, aok && bok
}

func numericPair(a, b interface{}) (float64, float64, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return af, bf, aok && bok
}

// asFloat coerces a numeric value to float64. Strings are not numbers here,
// a string field compared with a numeric operator evaluates false.
func asFloat(v interface{}) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	default:
		return 0, false
	}
}
