package policy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

const (
	testArtifact = "https://provider.example/api/artifacts/1"
	testConsumer = "https://consumer.example"
)

var testNow = time.Date(2020, 7, 11, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "policy.db"), store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func permission(constraints ...ir.Constraint) ir.Rule {
	return ir.Rule{
		ID:          "urn:rule:1",
		Kind:        ir.KindPermission,
		Target:      testArtifact,
		Action:      ir.ActionUse,
		Constraints: constraints,
	}
}

func constraint(op ir.LeftOperand, operator ir.Operator, value, typ string) ir.Constraint {
	return ir.Constraint{LeftOperand: op, Operator: operator, RightOperand: ir.Literal{Value: value, Type: typ}}
}

func withDuty(r ir.Rule, action ir.Action, constraints ...ir.Constraint) ir.Rule {
	r.PostDuties = append(r.PostDuties, ir.Rule{Kind: ir.KindDuty, Action: action, Constraints: constraints})
	return r
}

func provideAccessRule() ir.Rule { return permission() }

func prohibitAccessRule() ir.Rule {
	r := permission()
	r.Kind = ir.KindProhibition
	return r
}

func nTimesRule(n string) ir.Rule {
	return permission(constraint(ir.OperandCount, ir.OpLTEQ, n, ir.XSDDouble))
}

func durationRule(d string) ir.Rule {
	return permission(constraint(ir.OperandElapsedTime, ir.OpShorterEq, d, ir.XSDDuration))
}

func intervalRule(start, end string) ir.Rule {
	return permission(
		constraint(ir.OperandPolicyEvaluationTime, ir.OpAfter, start, ir.XSDDateTime),
		constraint(ir.OperandPolicyEvaluationTime, ir.OpBefore, end, ir.XSDDateTime),
	)
}

func untilDeletionRule(start, end, deleteAt string) ir.Rule {
	return withDuty(intervalRule(start, end), ir.ActionDelete,
		constraint(ir.OperandPolicyEvaluationTime, ir.OpTemporalEquals, deleteAt, ir.XSDDateTime))
}

func loggingRule() ir.Rule { return withDuty(permission(), ir.ActionLog) }

func notificationRule(endpoint string) ir.Rule {
	return withDuty(permission(), ir.ActionNotify, constraint(ir.OperandEndpoint, ir.OpDefinesAs, endpoint, ir.XSDAnyURI))
}

func connectorRule(connector string) ir.Rule {
	return permission(constraint(ir.OperandSystem, ir.OpSameAs, connector, ir.XSDAnyURI))
}

func securityRule(profile string) ir.Rule {
	return permission(constraint(ir.OperandSecurityLevel, ir.OpEquals, profile, ir.XSDString))
}

func agreementWith(rules ...ir.Rule) ir.Agreement {
	a := ir.Agreement{Contract: ir.Contract{
		ID:       "https://provider.example/api/agreements/1",
		Kind:     ir.KindAgreement,
		Consumer: testConsumer,
		Provider: "https://provider.example",
	}}
	for _, r := range rules {
		if r.Kind == ir.KindProhibition {
			a.Prohibitions = append(a.Prohibitions, r)
			continue
		}
		a.Permissions = append(a.Permissions, r)
	}
	return a
}
