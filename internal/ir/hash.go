package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content digests. The version suffix allows the
// encoding to change without colliding with older digests.
const (
	DomainRule     = "connector/rule/v1"
	DomainContract = "connector/contract/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ConstraintShape returns the canonical value of a constraint.
func ConstraintShape(c Constraint) IRObject {
	return IRObject{
		"left_operand": IRString(c.LeftOperand),
		"operator":     IRString(c.Operator),
		"value":        IRString(c.RightOperand.Value),
		"type":         IRString(c.RightOperand.Type),
	}
}

// RuleShape returns the canonical value of a rule's content: kind, action,
// constraints and duties. Ids and targets are excluded, and constraint and
// duty lists are sorted so that list order does not affect equality.
func RuleShape(r Rule) (IRObject, error) {
	constraints, err := sortedShapes(r.Constraints, func(c Constraint) (IRObject, error) {
		return ConstraintShape(c), nil
	})
	if err != nil {
		return nil, err
	}
	pre, err := sortedShapes(r.PreDuties, RuleShape)
	if err != nil {
		return nil, err
	}
	post, err := sortedShapes(r.PostDuties, RuleShape)
	if err != nil {
		return nil, err
	}
	return IRObject{
		"kind":        IRString(r.Kind),
		"action":      IRString(r.Action),
		"constraints": constraints,
		"pre_duties":  pre,
		"post_duties": post,
	}, nil
}

// sortedShapes maps items to canonical objects ordered by their encoding.
func sortedShapes[T any](items []T, shape func(T) (IRObject, error)) (IRArray, error) {
	type entry struct {
		key string
		obj IRObject
	}
	entries := make([]entry, 0, len(items))
	for i, item := range items {
		obj, err := shape(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		b, err := MarshalCanonical(obj)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		entries = append(entries, entry{key: string(b), obj: obj})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	arr := make(IRArray, len(entries))
	for i, e := range entries {
		arr[i] = e.obj
	}
	return arr, nil
}

// RuleDigest computes the content digest of a rule.
func RuleDigest(r Rule) (string, error) {
	shape, err := RuleShape(r)
	if err != nil {
		return "", fmt.Errorf("RuleDigest: %w", err)
	}
	canonical, err := MarshalCanonical(shape)
	if err != nil {
		return "", fmt.Errorf("RuleDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// ContractDigest computes the content digest of a contract's rules and
// parties. Two peers holding the same agreement compute the same digest.
func ContractDigest(c Contract) (string, error) {
	withTarget := func(r Rule) (IRObject, error) {
		shape, err := RuleShape(r)
		if err != nil {
			return nil, err
		}
		shape["target"] = IRString(r.Target)
		return shape, nil
	}
	rules, err := sortedShapes(c.Rules(), withTarget)
	if err != nil {
		return "", fmt.Errorf("ContractDigest: %w", err)
	}
	obj := IRObject{
		"id":       IRString(c.ID),
		"consumer": IRString(c.Consumer),
		"provider": IRString(c.Provider),
		"rules":    rules,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ContractDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainContract, canonical), nil
}
