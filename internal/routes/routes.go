// Package routes declares the stage lists for every inbound message type.
//
// Validators only read. Persistence, data access and outbound calls happen
// in processors, so a rejected message never leaves partial state behind.
package routes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/negotiation"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/resourcesync"
	"github.com/roach88/connector/internal/store"
	"github.com/roach88/connector/internal/wire"
)

// Store is the persistence the routes read and write.
type Store interface {
	GetResource(ctx context.Context, id string) (ir.Resource, error)
	ListResources(ctx context.Context, kind ir.ResourceKind) ([]ir.Resource, error)
	OffersByTarget(ctx context.Context, target string) ([]ir.Contract, error)
	GetAgreement(ctx context.Context, id string) (ir.Agreement, error)
	AgreementCovers(ctx context.Context, agreementID, artifactID string) (bool, error)
	PutSubscription(ctx context.Context, sub store.Subscription) error
	RemoveSubscription(ctx context.Context, target, subscriber string) error
}

// DataSource reads artifact payloads.
type DataSource interface {
	FetchArtifactData(ctx context.Context, artifactID string, query map[string]string) ([]byte, error)
}

// Negotiator runs the provider side of contract negotiation.
type Negotiator interface {
	Negotiate(ctx context.Context, request ir.Contract, issuer string) (ir.Agreement, error)
	Confirm(ctx context.Context, received ir.Agreement, issuer string) error
}

// AccessVerifier enforces usage policies.
type AccessVerifier interface {
	Verify(ctx context.Context, in policy.VerifyInput) policy.Decision
}

// Updater applies resource updates.
type Updater interface {
	Update(ctx context.Context, provider string, remote ir.RemoteResource) (resourcesync.Report, error)
}

// SelfDescriber renders the connector self-description.
type SelfDescriber interface {
	SelfDescription(ctx context.Context) ([]byte, error)
}

// Deps are the collaborators of the routes. Data defaults to Store when
// it implements DataSource.
type Deps struct {
	Store      Store
	Data       DataSource
	Negotiator Negotiator
	Verifier   AccessVerifier
	Updater    Updater
	Describer  SelfDescriber
	Now        func() time.Time
}

// Handlers holds the stage functions of all routes.
type Handlers struct {
	store      Store
	data       DataSource
	negotiator Negotiator
	verifier   AccessVerifier
	updater    Updater
	describer  SelfDescriber
	codec      wire.Codec
	now        func() time.Time
}

func New(d Deps) *Handlers {
	h := &Handlers{
		store:      d.Store,
		data:       d.Data,
		negotiator: d.Negotiator,
		verifier:   d.Verifier,
		updater:    d.Updater,
		describer:  d.Describer,
		codec:      wire.NewJSON(),
		now:        d.Now,
	}
	if h.data == nil {
		if ds, ok := d.Store.(DataSource); ok {
			h.data = ds
		}
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Routes returns one route per handled message type.
func (h *Handlers) Routes() []pipeline.Route {
	return []pipeline.Route{
		{
			Type:      ir.TypeDescriptionRequest,
			Processor: h.describe,
		},
		{
			Type:             ir.TypeArtifactRequest,
			HeaderValidators: []pipeline.Validator{requireArtifact, requireTransferContract},
			Transformer:      h.resolveTransfer,
			BodyValidators:   []pipeline.Validator{h.checkTransferContract},
			Processor:        h.releaseArtifact,
		},
		{
			Type:           ir.TypeContractRequest,
			Transformer:    h.decodeContract,
			BodyValidators: []pipeline.Validator{requireRules, requireTargets},
			Processor:      h.negotiate,
		},
		{
			Type:           ir.TypeContractAgreement,
			Transformer:    h.decodeAgreement,
			BodyValidators: []pipeline.Validator{requireAgreementID, requireConsumerIsIssuer},
			Processor:      h.confirm,
		},
		{
			Type:             ir.TypeResourceUpdate,
			HeaderValidators: []pipeline.Validator{requireAffectedResource},
			Transformer:      h.decodeResource,
			BodyValidators:   []pipeline.Validator{affectedResourceMatchesBody},
			Processor:        h.update,
		},
		{
			Type:      ir.TypeNotification,
			Processor: acknowledge,
		},
		{
			Type:             ir.TypeSubscription,
			HeaderValidators: []pipeline.Validator{requireAffectedResource},
			Transformer:      h.decodeSubscription,
			BodyValidators:   []pipeline.Validator{subscriptionMatchesHeader},
			Processor:        h.subscribe,
		},
	}
}

// Registry builds the pipeline registry for h.
func (h *Handlers) Registry() (*pipeline.Registry, error) {
	return pipeline.NewRegistry(h.Routes()...)
}

// negotiationRejection maps a negotiation error to the rejection sent back
// to the requester.
func negotiationRejection(err error) error {
	msg := peerMessage(err)
	switch {
	case negotiation.IsMalformed(err):
		return pipeline.Wrap(ir.ReasonMalformedMessage, err, "%s", msg)
	case negotiation.IsNoOffer(err):
		return &pipeline.ContractRejection{Err: pipeline.Wrap(ir.ReasonNotFound, err, "%s", msg)}
	case negotiation.IsMismatch(err):
		return &pipeline.ContractRejection{Err: pipeline.Wrap(ir.ReasonBadParameters, err, "%s", msg)}
	case negotiation.IsUnknownAgreement(err):
		return pipeline.Wrap(ir.ReasonNotFound, err, "%s", msg)
	case negotiation.IsForeignAgreement(err):
		return pipeline.Wrap(ir.ReasonNotAuthorized, err, "%s", msg)
	default:
		return pipeline.Internal(err, "contract processing failed")
	}
}

// peerMessage is the part of a negotiation error the peer gets to see.
func peerMessage(err error) string {
	var ne *negotiation.Error
	if !errors.As(err, &ne) {
		return err.Error()
	}
	if ne.Target != "" {
		return fmt.Sprintf("%s (target %s)", ne.Message, ne.Target)
	}
	return ne.Message
}

func acknowledge(_ context.Context, _ *pipeline.Request) (*pipeline.Reply, error) {
	return &pipeline.Reply{Type: ir.TypeMessageProcessed}, nil
}
