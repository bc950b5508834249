package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/connector/internal/ir"
)

// ErrMalformedOperand marks a constraint whose operand cannot be evaluated.
var ErrMalformedOperand = errors.New("malformed operand")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedOperand, fmt.Sprintf(format, args...))
}

// findConstraint returns the first constraint of r on the given left operand.
func findConstraint(r ir.Rule, op ir.LeftOperand) (ir.Constraint, bool) {
	for _, c := range r.Constraints {
		if c.LeftOperand == op {
			return c, true
		}
	}
	return ir.Constraint{}, false
}

// findDuty returns the first post-duty of r with the given action.
func findDuty(r ir.Rule, action ir.Action) (ir.Rule, bool) {
	for _, d := range r.PostDuties {
		if d.Action == action {
			return d, true
		}
	}
	return ir.Rule{}, false
}

// MaxAccess returns the access bound of a COUNT constraint. EQ and LTEQ keep
// the literal bound, LT subtracts one, and negative bounds clamp to zero.
func MaxAccess(r ir.Rule) (int64, error) {
	c, ok := findConstraint(r, ir.OperandCount)
	if !ok {
		return 0, malformed("rule has no %s constraint", ir.OperandCount)
	}

	n, err := parseCount(c.RightOperand.Value)
	if err != nil {
		return 0, err
	}

	switch c.Operator {
	case ir.OpEQ, ir.OpLTEQ:
	case ir.OpLT:
		n--
	default:
		return 0, malformed("operator %s not supported for %s", c.Operator, ir.OperandCount)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// parseCount accepts integer literals and decimal literals with no
// fractional part ("2", "2.0").
func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, malformed("access bound %q is not an integer", s)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, malformed("access bound %q out of range", s)
	}
	return int64(f), nil
}

// ParseDate parses a date-time operand. RFC 3339 with or without fractional
// seconds is accepted.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, malformed("date %q: %v", s, err)
	}
	return t, nil
}

// TimeInterval returns the [start, end] window of a rule: the AFTER
// constraint gives the start and the BEFORE constraint gives the end.
func TimeInterval(r ir.Rule) (start, end time.Time, err error) {
	var haveStart, haveEnd bool
	for _, c := range r.Constraints {
		if c.LeftOperand != ir.OperandPolicyEvaluationTime {
			continue
		}
		switch c.Operator {
		case ir.OpAfter:
			if start, err = ParseDate(c.RightOperand.Value); err != nil {
				return time.Time{}, time.Time{}, err
			}
			haveStart = true
		case ir.OpBefore:
			if end, err = ParseDate(c.RightOperand.Value); err != nil {
				return time.Time{}, time.Time{}, err
			}
			haveEnd = true
		}
	}
	if !haveStart || !haveEnd {
		return time.Time{}, time.Time{}, malformed("interval needs both %s and %s bounds", ir.OpAfter, ir.OpBefore)
	}
	return start, end, nil
}

// Duration returns the ELAPSED_TIME duration of a rule.
func Duration(r ir.Rule) (ISODuration, error) {
	c, ok := findConstraint(r, ir.OperandElapsedTime)
	if !ok {
		return ISODuration{}, malformed("rule has no %s constraint", ir.OperandElapsedTime)
	}
	if c.RightOperand.Type != "" && c.RightOperand.Type != ir.XSDDuration {
		return ISODuration{}, malformed("elapsed time operand has type %q, want %s", c.RightOperand.Type, ir.XSDDuration)
	}
	d, err := ParseISODuration(c.RightOperand.Value)
	if err != nil {
		return ISODuration{}, malformed("%v", err)
	}
	return d, nil
}

// Endpoint returns the notification endpoint of a rule's NOTIFY post-duty.
func Endpoint(r ir.Rule) (string, error) {
	duty, ok := findDuty(r, ir.ActionNotify)
	if !ok {
		return "", malformed("rule has no %s post-duty", ir.ActionNotify)
	}
	c, ok := findConstraint(duty, ir.OperandEndpoint)
	if !ok || strings.TrimSpace(c.RightOperand.Value) == "" {
		return "", malformed("notification duty has no endpoint")
	}
	return strings.TrimSpace(c.RightOperand.Value), nil
}

// DeletionDate returns the date of a rule's DELETE post-duty.
func DeletionDate(r ir.Rule) (time.Time, error) {
	duty, ok := findDuty(r, ir.ActionDelete)
	if !ok {
		return time.Time{}, malformed("rule has no %s post-duty", ir.ActionDelete)
	}
	c, ok := findConstraint(duty, ir.OperandPolicyEvaluationTime)
	if !ok {
		return time.Time{}, malformed("deletion duty has no %s constraint", ir.OperandPolicyEvaluationTime)
	}
	return ParseDate(c.RightOperand.Value)
}

// AllowedConnector returns the connector id a SYSTEM constraint restricts usage to.
func AllowedConnector(r ir.Rule) (string, error) {
	c, ok := findConstraint(r, ir.OperandSystem)
	if !ok || strings.TrimSpace(c.RightOperand.Value) == "" {
		return "", malformed("rule has no %s operand", ir.OperandSystem)
	}
	return strings.TrimSpace(c.RightOperand.Value), nil
}

// RequiredSecurityProfile returns the security profile a SECURITY_LEVEL
// constraint requires.
func RequiredSecurityProfile(r ir.Rule) (string, error) {
	c, ok := findConstraint(r, ir.OperandSecurityLevel)
	if !ok || strings.TrimSpace(c.RightOperand.Value) == "" {
		return "", malformed("rule has no %s operand", ir.OperandSecurityLevel)
	}
	return strings.TrimSpace(c.RightOperand.Value), nil
}

// CheckDate reports whether now is not after max.
func CheckDate(now, max time.Time) bool {
	return !now.After(max)
}
