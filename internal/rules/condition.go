// Package rules provides the typed condition evaluator and the
// priority-ordered rule engine.
package rules

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-risk/kestrel/internal/domain"
)

// EvaluateCondition evaluates one typed condition against a transaction
// field. It never returns an error: unparsable values, unknown fields
// and invalid patterns all evaluate to false (conservative non-match).
func EvaluateCondition(cond domain.Condition, tx *domain.Transaction) bool {
	field := tx.Field(cond.Field)

	switch cond.Type {
	case domain.TypeNumber:
		return evalNumber(cond.Operator, field, cond.Value)
	case domain.TypeDate:
		return evalDate(cond.Operator, field, cond.Value)
	case domain.TypeBoolean:
		return evalBoolean(cond.Operator, field, cond.Value)
	default:
		return evalString(cond.Operator, field, cond.Value)
	}
}

func evalString(op domain.Operator, field, value string) bool {
	switch op {
	case domain.OpEquals:
		return field == value
	case domain.OpNotEquals:
		return field != value
	case domain.OpContains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(value))
	case domain.OpNotContains:
		return !strings.Contains(strings.ToLower(field), strings.ToLower(value))
	case domain.OpRegex:
		re, err := regexp.Compile(value)
		if err != nil {
			slog.Warn("invalid regex in rule condition",
				"pattern", value,
				"error", err,
			)
			return false
		}
		return re.MatchString(field)
	case domain.OpInList:
		for _, item := range strings.Split(value, ",") {
			if strings.TrimSpace(item) == field {
				return true
			}
		}
		return false
	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterOrEqual, domain.OpLessOrEqual:
		// Lexicographic ordering for string-typed comparisons.
		return compareOrdered(op, strings.Compare(field, value))
	default:
		return false
	}
}

func evalNumber(op domain.Operator, field, value string) bool {
	f, err1 := strconv.ParseFloat(field, 64)
	v, err2 := strconv.ParseFloat(value, 64)
	if err1 != nil || err2 != nil {
		return false
	}

	switch op {
	case domain.OpEquals:
		return f == v
	case domain.OpNotEquals:
		return f != v
	case domain.OpGreaterThan:
		return f > v
	case domain.OpLessThan:
		return f < v
	case domain.OpGreaterOrEqual:
		return f >= v
	case domain.OpLessOrEqual:
		return f <= v
	default:
		return false
	}
}

// evalDate compares on the epoch-seconds representation in UTC. A
// literal of the form "HH:MM" is interpreted as minutes-of-day and
// compared against the field's UTC time-of-day, so time-of-day rules
// ("timestamp greaterOrEqual 23:00") work without a full date.
func evalDate(op domain.Operator, field, value string) bool {
	fieldSecs, ok := parseEpoch(field)
	if !ok {
		return false
	}

	if mins, ok := parseTimeOfDay(value); ok {
		t := time.Unix(int64(fieldSecs), 0).UTC()
		fieldMins := float64(t.Hour()*60 + t.Minute())
		return compareFloat(op, fieldMins, float64(mins))
	}

	valueSecs, ok := parseEpoch(value)
	if !ok {
		return false
	}
	return compareFloat(op, fieldSecs, valueSecs)
}

func evalBoolean(op domain.Operator, field, value string) bool {
	// Only equality operators are defined for booleans; anything else
	// is a no-match, not an error.
	f := strings.EqualFold(field, "true")
	v := strings.EqualFold(value, "true")

	switch op {
	case domain.OpEquals:
		return f == v
	case domain.OpNotEquals:
		return f != v
	default:
		return false
	}
}

func compareFloat(op domain.Operator, a, b float64) bool {
	switch op {
	case domain.OpEquals:
		return a == b
	case domain.OpNotEquals:
		return a != b
	case domain.OpGreaterThan:
		return a > b
	case domain.OpLessThan:
		return a < b
	case domain.OpGreaterOrEqual:
		return a >= b
	case domain.OpLessOrEqual:
		return a <= b
	default:
		return false
	}
}

func compareOrdered(op domain.Operator, cmp int) bool {
	switch op {
	case domain.OpGreaterThan:
		return cmp > 0
	case domain.OpLessThan:
		return cmp < 0
	case domain.OpGreaterOrEqual:
		return cmp >= 0
	case domain.OpLessOrEqual:
		return cmp <= 0
	default:
		return false
	}
}

// parseEpoch accepts epoch seconds or an RFC 3339 timestamp.
func parseEpoch(s string) (float64, bool) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return float64(t.Unix()), true
	}
	return 0, false
}

// parseTimeOfDay parses "HH:MM" into minutes since midnight.
func parseTimeOfDay(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
