package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/connector/internal/ir"
)

func TestClassifyCanonicalRules(t *testing.T) {
	tests := []struct {
		name string
		rule ir.Rule
		want ir.PolicyPattern
	}{
		{"provide access", provideAccessRule(), ir.PatternProvideAccess},
		{"prohibit access", prohibitAccessRule(), ir.PatternProhibitAccess},
		{"n times", nTimesRule("5"), ir.PatternNTimesUsage},
		{"duration", durationRule("PT4H"), ir.PatternDurationUsage},
		{"interval", intervalRule("2020-07-11T00:00:00Z", "2020-07-12T00:00:00Z"), ir.PatternUsageDuringInterval},
		{"until deletion", untilDeletionRule("2020-07-11T00:00:00Z", "2020-07-12T00:00:00Z", "2020-07-13T00:00:00Z"), ir.PatternUsageUntilDeletion},
		{"logging", loggingRule(), ir.PatternUsageLogging},
		{"notification", notificationRule("https://notify.example"), ir.PatternUsageNotification},
		{"connector restricted", connectorRule("https://consumer.example"), ir.PatternConnectorRestrictedUsage},
		{"security profile", securityRule("idsc:BASE_SECURITY_PROFILE"), ir.PatternSecurityProfileRestricted},
	}

	seen := make(map[ir.PolicyPattern]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.rule)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
		if prev, dup := seen[tt.want]; dup {
			t.Fatalf("%s and %s expect the same pattern", prev, tt.name)
		}
		seen[tt.want] = tt.name
	}
}

func TestClassifyUnknownShapes(t *testing.T) {
	twoAfter := permission(
		constraint(ir.OperandPolicyEvaluationTime, ir.OpAfter, "2020-07-11T00:00:00Z", ir.XSDDateTime),
		constraint(ir.OperandPolicyEvaluationTime, ir.OpAfter, "2020-07-12T00:00:00Z", ir.XSDDateTime),
	)
	intervalWithLog := withDuty(intervalRule("2020-07-11T00:00:00Z", "2020-07-12T00:00:00Z"), ir.ActionLog)
	duty := ir.Rule{Kind: ir.KindDuty, Action: ir.ActionDelete}
	unknownDuty := withDuty(permission(), ir.ActionUse)
	twoDuties := withDuty(loggingRule(), ir.ActionNotify)
	systemEquals := permission(constraint(ir.OperandSystem, ir.OpEquals, "https://consumer.example", ir.XSDAnyURI))
	threeConstraints := permission(
		constraint(ir.OperandCount, ir.OpLTEQ, "1", ""),
		constraint(ir.OperandCount, ir.OpLTEQ, "2", ""),
		constraint(ir.OperandCount, ir.OpLTEQ, "3", ""),
	)

	for name, r := range map[string]ir.Rule{
		"two after bounds":    twoAfter,
		"interval with log":   intervalWithLog,
		"bare duty":           duty,
		"unknown duty action": unknownDuty,
		"two duties":          twoDuties,
		"system equals":       systemEquals,
		"three constraints":   threeConstraints,
	} {
		t.Run(name, func(t *testing.T) {
			got, ok := Classify(r)
			assert.False(t, ok)
			assert.Empty(t, got)
		})
	}
}

func TestClassifyNeverAmbiguous(t *testing.T) {
	p1, _ := Classify(provideAccessRule())
	p2, _ := Classify(nTimesRule("1"))
	assert.NotEqual(t, p1, p2)
}
