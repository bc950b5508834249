package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/connector/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestOffer creates an offer with one COUNT rule per target.
func createTestOffer(id, consumer string, targets ...string) ir.Contract {
	c := ir.Contract{
		ID:       id,
		Kind:     ir.KindOffer,
		Consumer: consumer,
		Provider: "https://provider.example",
	}
	for _, target := range targets {
		c.Permissions = append(c.Permissions, ir.Rule{
			Kind:   ir.KindPermission,
			Target: target,
			Action: ir.ActionUse,
			Constraints: []ir.Constraint{{
				LeftOperand:  ir.OperandCount,
				Operator:     ir.OpLTEQ,
				RightOperand: ir.Literal{Value: "2", Type: ir.XSDDouble},
			}},
		})
	}
	return c
}
