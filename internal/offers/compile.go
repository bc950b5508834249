// Package offers loads contract offers and offered resources declared in
// CUE files.
//
// A catalog directory holds one CUE package with two top-level structs:
//
//	offer: weather: {
//		id: "https://provider.example/api/offers/weather"
//		consumer: "https://consumer.example" // optional, any consumer when absent
//		permission: [{
//			target: "https://provider.example/api/artifacts/weather"
//			action: "USE"
//			constraint: [{left: "COUNT", op: "LTEQ", right: 5}]
//			postDuty: [{action: "LOG"}]
//		}]
//	}
//
//	resource: weather: {
//		id: "https://provider.example/api/resources/weather"
//		title: "Weather data"
//		representation: [{
//			id: "https://provider.example/api/representations/weather"
//			mediaType: "text/csv"
//			artifact: [{id: "https://provider.example/api/artifacts/weather", file: "weather.csv"}]
//		}]
//	}
package offers

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/policy"
)

// CompileError is a catalog error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// CompileOffer turns an offer struct into a contract offer. Every
// permission and prohibition must classify into a known policy pattern.
func CompileOffer(v cue.Value) (*ir.Contract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	offer := &ir.Contract{Kind: ir.KindOffer}
	var err error
	if offer.ID, err = requiredString(v, "id"); err != nil {
		return nil, err
	}
	if offer.Consumer, err = optionalString(v, "consumer"); err != nil {
		return nil, err
	}
	if offer.Provider, err = optionalString(v, "provider"); err != nil {
		return nil, err
	}
	if offer.Permissions, err = compileRules(v, "permission", ir.KindPermission); err != nil {
		return nil, err
	}
	if offer.Prohibitions, err = compileRules(v, "prohibition", ir.KindProhibition); err != nil {
		return nil, err
	}
	if offer.Obligations, err = compileRules(v, "obligation", ir.KindDuty); err != nil {
		return nil, err
	}
	if len(offer.Rules()) == 0 {
		return nil, &CompileError{Field: "permission", Message: "offer declares no rules", Pos: v.Pos()}
	}

	for _, r := range append(offer.Permissions, offer.Prohibitions...) {
		if _, ok := policy.Classify(r); !ok {
			return nil, &CompileError{
				Field:   "permission",
				Message: fmt.Sprintf("rule on %s matches no usage policy pattern", r.Target),
				Pos:     v.Pos(),
			}
		}
	}
	return offer, nil
}

func compileRules(v cue.Value, field string, kind ir.RuleKind) ([]ir.Rule, error) {
	list := v.LookupPath(cue.ParsePath(field))
	if !list.Exists() {
		return nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var rules []ir.Rule
	for iter.Next() {
		r, err := compileRule(iter.Value(), kind, true)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func compileRule(v cue.Value, kind ir.RuleKind, targeted bool) (ir.Rule, error) {
	r := ir.Rule{Kind: kind}
	var err error
	if targeted {
		if r.Target, err = requiredString(v, "target"); err != nil {
			return ir.Rule{}, err
		}
	}
	action, err := requiredString(v, "action")
	if err != nil {
		return ir.Rule{}, err
	}
	r.Action = ir.Action(action)

	if list := v.LookupPath(cue.ParsePath("constraint")); list.Exists() {
		iter, err := list.List()
		if err != nil {
			return ir.Rule{}, formatCUEError(err)
		}
		for iter.Next() {
			c, err := compileConstraint(iter.Value())
			if err != nil {
				return ir.Rule{}, err
			}
			r.Constraints = append(r.Constraints, c)
		}
	}

	if list := v.LookupPath(cue.ParsePath("postDuty")); list.Exists() {
		iter, err := list.List()
		if err != nil {
			return ir.Rule{}, formatCUEError(err)
		}
		for iter.Next() {
			duty, err := compileRule(iter.Value(), ir.KindDuty, false)
			if err != nil {
				return ir.Rule{}, err
			}
			r.PostDuties = append(r.PostDuties, duty)
		}
	}
	return r, nil
}

func compileConstraint(v cue.Value) (ir.Constraint, error) {
	left, err := requiredString(v, "left")
	if err != nil {
		return ir.Constraint{}, err
	}
	op, err := requiredString(v, "op")
	if err != nil {
		return ir.Constraint{}, err
	}
	rightVal := v.LookupPath(cue.ParsePath("right"))
	if !rightVal.Exists() {
		return ir.Constraint{}, &CompileError{Field: "right", Message: "right operand is required", Pos: v.Pos()}
	}
	lit, err := literal(rightVal)
	if err != nil {
		return ir.Constraint{}, err
	}
	if typ, err := optionalString(v, "type"); err != nil {
		return ir.Constraint{}, err
	} else if typ != "" {
		lit.Type = typ
	}
	return ir.Constraint{
		LeftOperand:  ir.LeftOperand(left),
		Operator:     ir.Operator(op),
		RightOperand: lit,
	}, nil
}

// literal renders a string or number operand. Numbers get the xsd:double
// type unless the constraint names one.
func literal(v cue.Value) (ir.Literal, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Literal{}, formatCUEError(err)
		}
		return ir.Literal{Value: s}, nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return ir.Literal{}, formatCUEError(err)
		}
		return ir.Literal{Value: strconv.FormatInt(i, 10), Type: ir.XSDDouble}, nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return ir.Literal{}, formatCUEError(err)
		}
		return ir.Literal{Value: strconv.FormatFloat(f, 'f', -1, 64), Type: ir.XSDDouble}, nil
	default:
		return ir.Literal{}, &CompileError{
			Field:   "right",
			Message: fmt.Sprintf("right operand must be a string or number, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: field + " must not be empty", Pos: f.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}
