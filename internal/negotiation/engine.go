// Package negotiation implements both sides of contract negotiation.
//
// On the provider side a contract request is matched target by target
// against stored offers. Either every target matches and one agreement
// covering all of them is persisted, or nothing is stored.
//
// On the receiving side of a contract agreement message the agreement is
// compared against the stored copy and marked confirmed. The client side
// builds contract requests and keeps the agreements a provider returns.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/store"
)

// Store is the persistence the negotiation engine needs.
type Store interface {
	OffersByTarget(ctx context.Context, target string) ([]ir.Contract, error)
	SaveAgreement(ctx context.Context, agreement ir.Agreement, artifacts []string) error
	GetAgreement(ctx context.Context, id string) (ir.Agreement, error)
	ConfirmAgreement(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, e store.AuditEntry) error
}

// Identity supplies the local connector id.
type Identity interface {
	ConnectorID() string
}

// Engine negotiates contracts against a store.
type Engine struct {
	store    Store
	identity Identity
	ids      ir.IDGenerator
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUIDv7 generator.
func WithIDGenerator(ids ir.IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

func New(st Store, identity Identity, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		identity: identity,
		ids:      ir.UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Negotiate matches a contract request from issuer against the stored
// offers. Each target's requested rules must equal the rules one offer
// (open to any consumer or to issuer) declares for that target. A single
// failing target aborts the whole request.
func (e *Engine) Negotiate(ctx context.Context, request ir.Contract, issuer string) (ir.Agreement, error) {
	rules := request.Rules()
	if len(rules) == 0 {
		return ir.Agreement{}, malformed("contract request has no rules")
	}
	byTarget, err := policy.RulesByTarget(rules)
	if err != nil {
		return ir.Agreement{}, malformed(err.Error())
	}

	targets := make([]string, 0, len(byTarget))
	for target := range byTarget {
		targets = append(targets, target)
	}
	slices.Sort(targets)

	for _, target := range targets {
		if err := e.matchTarget(ctx, target, byTarget[target], issuer); err != nil {
			slog.Info("contract request rejected", "request", request.ID, "issuer", issuer, "target", target, "error", err)
			return ir.Agreement{}, err
		}
	}

	now := e.now().UTC()
	agreement := ir.Agreement{Contract: ir.Contract{
		ID:            ir.URN(e.ids),
		Kind:          ir.KindAgreement,
		Consumer:      issuer,
		Provider:      e.identity.ConnectorID(),
		ContractDate:  now,
		ContractStart: now,
		ContractEnd:   request.ContractEnd,
		Permissions:   request.Permissions,
		Prohibitions:  request.Prohibitions,
		Obligations:   request.Obligations,
	}}

	if err := e.store.SaveAgreement(ctx, agreement, targets); err != nil {
		return ir.Agreement{}, persistence("persist agreement", err)
	}
	e.audit(ctx, store.AuditAgreementCreated, agreement, issuer)

	slog.Info("agreement persisted", "id", agreement.ID, "consumer", issuer, "targets", len(targets))
	return agreement, nil
}

func (e *Engine) matchTarget(ctx context.Context, target string, requested []ir.Rule, issuer string) error {
	offers, err := e.store.OffersByTarget(ctx, target)
	if err != nil {
		return persistence("load offers", err)
	}

	applicable := offers[:0:0]
	for _, offer := range offers {
		if offer.Consumer == "" || offer.Consumer == issuer {
			applicable = append(applicable, offer)
		}
	}
	if len(applicable) == 0 {
		return &Error{Code: ErrCodeNoOffer, Message: "no contract offer", Target: target}
	}

	for _, offer := range applicable {
		var offered []ir.Rule
		for _, r := range offer.Rules() {
			if r.Target == target {
				offered = append(offered, r)
			}
		}
		equal, err := policy.CompareRules(requested, offered)
		if err != nil {
			return malformed(err.Error())
		}
		if equal {
			slog.Debug("target matched offer", "target", target, "offer", offer.ID)
			return nil
		}
	}
	return &Error{Code: ErrCodeMismatch, Message: "requested rules match no contract offer", Target: target}
}

// Confirm checks a received agreement against the stored copy and marks it
// confirmed. Only the stored consumer may confirm, and any difference in the
// rules rejects the agreement.
func (e *Engine) Confirm(ctx context.Context, received ir.Agreement, issuer string) error {
	stored, err := e.store.GetAgreement(ctx, received.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Code: ErrCodeUnknownAgreement, Message: fmt.Sprintf("agreement %s not found", received.ID)}
	}
	if err != nil {
		return persistence("load agreement", err)
	}
	if stored.Consumer != "" && stored.Consumer != issuer {
		return &Error{Code: ErrCodeForeignAgreement, Message: fmt.Sprintf("agreement %s was issued to another consumer", received.ID)}
	}

	equal, err := policy.CompareContracts(received.Contract, stored.Contract)
	if err != nil {
		return malformed(err.Error())
	}
	if !equal {
		return &Error{Code: ErrCodeMismatch, Message: fmt.Sprintf("agreement %s differs from stored agreement", received.ID)}
	}

	if err := e.store.ConfirmAgreement(ctx, received.ID); err != nil {
		return persistence("confirm agreement", err)
	}
	e.audit(ctx, store.AuditAgreementConfirmed, stored, issuer)

	slog.Info("agreement confirmed", "id", received.ID, "issuer", issuer)
	return nil
}

// BuildContractRequest wraps rules in a contract request issued by this
// connector. Duties become obligations.
func (e *Engine) BuildContractRequest(rules []ir.Rule) ir.Contract {
	now := e.now().UTC()
	request := ir.Contract{
		ID:            ir.URN(e.ids),
		Kind:          ir.KindRequest,
		Consumer:      e.identity.ConnectorID(),
		ContractDate:  now,
		ContractStart: now,
	}
	for _, r := range rules {
		switch r.Kind {
		case ir.KindProhibition:
			request.Prohibitions = append(request.Prohibitions, r)
		case ir.KindDuty:
			request.Obligations = append(request.Obligations, r)
		default:
			request.Permissions = append(request.Permissions, r)
		}
	}
	return request
}

// StoreRequestedAgreement persists an agreement a provider returned for
// request, after checking it grants exactly what was asked for.
func (e *Engine) StoreRequestedAgreement(ctx context.Context, request ir.Contract, agreement ir.Agreement) error {
	if agreement.ID == "" {
		return malformed("agreement has no id")
	}
	if agreement.Consumer != "" && agreement.Consumer != e.identity.ConnectorID() {
		return &Error{Code: ErrCodeMismatch, Message: fmt.Sprintf("agreement %s was issued to %s", agreement.ID, agreement.Consumer)}
	}
	equal, err := policy.CompareContracts(request, agreement.Contract)
	if err != nil {
		return malformed(err.Error())
	}
	if !equal {
		return &Error{Code: ErrCodeMismatch, Message: fmt.Sprintf("agreement %s differs from request %s", agreement.ID, request.ID)}
	}

	agreement.Confirmed = false
	if err := e.store.SaveAgreement(ctx, agreement, agreement.Targets()); err != nil {
		return persistence("persist requested agreement", err)
	}
	return nil
}

// MarkConfirmed records that the provider acknowledged an agreement this
// connector requested.
func (e *Engine) MarkConfirmed(ctx context.Context, agreement ir.Agreement) error {
	if err := e.store.ConfirmAgreement(ctx, agreement.ID); err != nil {
		return persistence("confirm requested agreement", err)
	}
	e.audit(ctx, store.AuditAgreementConfirmed, agreement, agreement.Provider)
	return nil
}

func (e *Engine) audit(ctx context.Context, kind string, agreement ir.Agreement, issuer string) {
	detail, err := json.Marshal(agreement.Contract)
	if err == nil {
		err = e.store.AppendAudit(ctx, store.AuditEntry{
			ID:     kind + ":" + agreement.ID,
			Kind:   kind,
			Target: agreement.ID,
			Issuer: issuer,
			Detail: string(detail),
		})
	}
	if err != nil {
		slog.Warn("agreement audit failed", "id", agreement.ID, "kind", kind, "error", err)
	}
}
