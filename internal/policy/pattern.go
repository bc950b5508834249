package policy

import "github.com/roach88/connector/internal/ir"

// Classify derives the policy pattern of a rule from its shape. The second
// result is false when the shape matches no known pattern; callers must
// treat that as a denial.
func Classify(r ir.Rule) (ir.PolicyPattern, bool) {
	switch r.Kind {
	case ir.KindProhibition:
		return ir.PatternProhibitAccess, true
	case ir.KindPermission:
	default:
		return "", false
	}

	switch len(r.Constraints) {
	case 0:
		return classifyUnconstrained(r)
	case 1:
		return classifySingle(r.Constraints[0])
	case 2:
		return classifyInterval(r)
	default:
		return "", false
	}
}

func classifyUnconstrained(r ir.Rule) (ir.PolicyPattern, bool) {
	if len(r.PostDuties) == 0 {
		return ir.PatternProvideAccess, true
	}
	if len(r.PostDuties) > 1 {
		return "", false
	}
	switch r.PostDuties[0].Action {
	case ir.ActionLog:
		return ir.PatternUsageLogging, true
	case ir.ActionNotify:
		return ir.PatternUsageNotification, true
	}
	return "", false
}

func classifySingle(c ir.Constraint) (ir.PolicyPattern, bool) {
	switch c.LeftOperand {
	case ir.OperandCount:
		return ir.PatternNTimesUsage, true
	case ir.OperandElapsedTime:
		return ir.PatternDurationUsage, true
	case ir.OperandSystem:
		if c.Operator == ir.OpSameAs {
			return ir.PatternConnectorRestrictedUsage, true
		}
	case ir.OperandSecurityLevel:
		if c.Operator == ir.OpEquals || c.Operator == ir.OpEQ {
			return ir.PatternSecurityProfileRestricted, true
		}
	}
	return "", false
}

// classifyInterval accepts exactly one AFTER and one BEFORE bound on the
// evaluation time. A single DELETE post-duty turns the window into
// usage-until-deletion.
func classifyInterval(r ir.Rule) (ir.PolicyPattern, bool) {
	var after, before int
	for _, c := range r.Constraints {
		if c.LeftOperand != ir.OperandPolicyEvaluationTime {
			return "", false
		}
		switch c.Operator {
		case ir.OpAfter:
			after++
		case ir.OpBefore:
			before++
		default:
			return "", false
		}
	}
	if after != 1 || before != 1 {
		return "", false
	}

	switch {
	case len(r.PostDuties) == 0:
		return ir.PatternUsageDuringInterval, true
	case len(r.PostDuties) == 1 && r.PostDuties[0].Action == ir.ActionDelete:
		return ir.PatternUsageUntilDeletion, true
	}
	return "", false
}
