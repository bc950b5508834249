package policy

import (
	"fmt"
	"slices"

	"github.com/roach88/connector/internal/ir"
)

// CompareRules reports whether two rule lists hold the same rules,
// regardless of order and rule ids. Rules are compared by target, kind,
// action, constraints and duties.
func CompareRules(a, b []ir.Rule) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	ka, err := ruleKeys(a)
	if err != nil {
		return false, err
	}
	kb, err := ruleKeys(b)
	if err != nil {
		return false, err
	}
	return slices.Equal(ka, kb), nil
}

// CompareContracts compares the permission, prohibition and obligation
// lists of two contracts pairwise.
func CompareContracts(a, b ir.Contract) (bool, error) {
	pairs := [][2][]ir.Rule{
		{a.Permissions, b.Permissions},
		{a.Prohibitions, b.Prohibitions},
		{a.Obligations, b.Obligations},
	}
	for _, p := range pairs {
		equal, err := CompareRules(p[0], p[1])
		if err != nil || !equal {
			return false, err
		}
	}
	return true, nil
}

// ruleKeys returns the sorted target and content digest of each rule.
func ruleKeys(rules []ir.Rule) ([]string, error) {
	keys := make([]string, len(rules))
	for i, r := range rules {
		d, err := ir.RuleDigest(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		keys[i] = r.Target + "\x00" + d
	}
	slices.Sort(keys)
	return keys, nil
}

// RulesByTarget groups rules by target, keeping input order within a
// target. A rule without a target is reported as an error.
func RulesByTarget(rules []ir.Rule) (map[string][]ir.Rule, error) {
	m := make(map[string][]ir.Rule)
	for i, r := range rules {
		if r.Target == "" {
			return nil, fmt.Errorf("rule %d (%s) has no target", i, r.ID)
		}
		m[r.Target] = append(m[r.Target], r)
	}
	return m, nil
}
