package governance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wardendesk/api/internal/db"
)

// Payload pattern operators
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpMatches    = "matches"
)

// ValidOperator reports whether op is a recognized payload pattern operator
func ValidOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpMatches:
		return true
	}
	return false
}

// matchPattern tests one payload pattern against the action payload.
// A path that does not resolve fails the pattern for every operator,
// including not_equals: absence is never wildcard-true. An invalid regular
// expression in a matches pattern is logged and treated as a non-match so a
// single bad rule cannot block evaluation by throwing.
func (m *Matcher) matchPattern(ruleID string, pattern db.PayloadPattern, payload map[string]interface{}) bool {
	raw, ok := resolvePath(payload, pattern.Field)
	if !ok {
		return false
	}

	value := stringifyValue(raw)
	expected := pattern.Value
	if !pattern.CaseSensitive {
		value = strings.ToLower(value)
		expected = strings.ToLower(expected)
	}

	switch pattern.Operator {
	case OpEquals:
		return value == expected
	case OpNotEquals:
		return value != expected
	case OpContains:
		return strings.Contains(value, expected)
	case OpStartsWith:
		return strings.HasPrefix(value, expected)
	case OpEndsWith:
		return strings.HasSuffix(value, expected)
	case OpMatches:
		expr := pattern.Value
		if !pattern.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("Invalid regular expression in payload pattern", map[string]interface{}{
					"rule_id": ruleID,
					"field":   pattern.Field,
					"error":   err.Error(),
				})
			}
			return false
		}
		return re.MatchString(stringifyValue(raw))
	default:
		return false
	}
}

// resolvePath walks a dot-separated path into a generic JSON document.
// The second return is false when any segment is absent or the document is
// not a nested object at that point.
func resolvePath(doc map[string]interface{}, path string) (interface{}, bool) {
	if doc == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current interface{} = doc
	for _, segment := range segments {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringifyValue renders a payload value for string comparison
func stringifyValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, stringifyValue(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
