package feature

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Operator identifies a comparison in the condition DSL.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
)

// Valid reports whether the operator is part of the condition DSL.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpIn, OpContains, OpStartsWith, OpEndsWith, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Condition is a single predicate over a context property. Property is a
// dotted path resolved against the evaluation context's properties.
type Condition struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionSet is a conjunction of conditions: every condition must hold for
// the set to match. An empty set matches everything.
//
// The persisted representation is a JSON object mapping each property path to
// either a literal (shorthand for equality) or a single-key operator object:
//
//	{"plan": {"in": ["premium", "enterprise"]}, "country": "DE"}
type ConditionSet []Condition

// Match evaluates the condition set against the context. Matching is total
// and fails closed: a property that cannot be resolved or coerced makes its
// condition false rather than erroring.
func (cs ConditionSet) Match(ec EvaluationContext) bool {
	for _, c := range cs {
		if !c.match(ec) {
			return false
		}
	}
	return true
}

func (c Condition) match(ec EvaluationContext) bool {
	resolved, found := resolveProperty(ec, c.Property)

	switch c.Operator {
	case OpEq:
		return found && looseEqual(resolved, c.Value)
	case OpNe:
		if !found {
			// An absent property differs from any concrete operand.
			return c.Value != nil
		}
		return !looseEqual(resolved, c.Value)
	case OpIn:
		if !found {
			return false
		}
		items, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(resolved, item) {
				return true
			}
		}
		return false
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := resolved.(string)
		if !ok || !found {
			return false
		}
		operand, ok := c.Value.(string)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, operand)
		case OpStartsWith:
			return strings.HasPrefix(s, operand)
		default:
			return strings.HasSuffix(s, operand)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if !found {
			return false
		}
		left, ok := toNumber(resolved)
		if !ok {
			return false
		}
		right, ok := toNumber(c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

// resolveProperty walks a dotted path through the context's user properties,
// falling back to custom properties when the first path element is absent.
func resolveProperty(ec EvaluationContext, path string) (any, bool) {
	parts := strings.Split(path, ".")
	if v, ok := walkPath(ec.UserProperties, parts); ok {
		return v, true
	}
	return walkPath(ec.CustomProperties, parts)
}

func walkPath(props map[string]any, parts []string) (any, bool) {
	if props == nil {
		return nil, false
	}
	var current any = props
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares two values with numeric normalization so that a JSON
// float compares equal to a Go int of the same magnitude.
func looseEqual(a, b any) bool {
	if an, ok := toStrictNumber(a); ok {
		if bn, ok := toStrictNumber(b); ok {
			return an == bn
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

// toStrictNumber converts numeric Go and JSON types to float64. Unlike
// toNumber it does not parse strings, so "7" != 7 under equality.
func toStrictNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toNumber coerces a value to float64 for ordered comparisons, accepting
// numeric strings the way the ordering operators are expected to.
func toNumber(v any) (float64, bool) {
	if f, ok := toStrictNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// UnmarshalJSON decodes the persisted object form into the typed condition
// list. A single-key object whose key is a known operator is decoded as that
// operator; any other value is shorthand for equality. Unknown operators in
// operator position fail with ErrInvalidCondition.
func (cs *ConditionSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	conditions := make([]Condition, 0, len(raw))
	for property, rawValue := range raw {
		cond, err := decodeCondition(property, rawValue)
		if err != nil {
			return err
		}
		conditions = append(conditions, cond)
	}

	// Map iteration order is random; keep the decoded set deterministic.
	sort.Slice(conditions, func(i, j int) bool {
		return conditions[i].Property < conditions[j].Property
	})

	*cs = conditions
	return nil
}

func decodeCondition(property string, rawValue json.RawMessage) (Condition, error) {
	var value any
	if err := json.Unmarshal(rawValue, &value); err != nil {
		return Condition{}, fmt.Errorf("%w: property %q: %w", ErrInvalidCondition, property, err)
	}

	if obj, ok := value.(map[string]any); ok && len(obj) == 1 {
		for key, operand := range obj {
			op := Operator(key)
			if op.Valid() {
				return Condition{Property: property, Operator: op, Value: operand}, nil
			}
			// A single unknown key in operator position is almost always a
			// typo in an operator name rather than a literal object match.
			return Condition{}, fmt.Errorf("%w: property %q: unknown operator %q", ErrInvalidCondition, property, key)
		}
	}

	return Condition{Property: property, Operator: OpEq, Value: value}, nil
}

// MarshalJSON renders the typed condition list back into the persisted object
// form, using the equality shorthand where possible.
func (cs ConditionSet) MarshalJSON() ([]byte, error) {
	if cs == nil {
		return []byte("null"), nil
	}
	obj := make(map[string]any, len(cs))
	for _, c := range cs {
		if c.Operator == OpEq {
			obj[c.Property] = c.Value
			continue
		}
		obj[c.Property] = map[string]any{string(c.Operator): c.Value}
	}
	return json.Marshal(obj)
}
