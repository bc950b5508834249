package routes

import (
	"context"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/pipeline"
)

func (h *Handlers) decodeContract(_ context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	var request ir.Contract
	if err := h.codec.Decode(req.Payload, &request); err != nil {
		return nil, pipeline.Wrap(ir.ReasonMalformedMessage, err, "invalid contract request")
	}
	next := *req
	next.Body = request
	return &next, nil
}

func requireRules(_ context.Context, req *pipeline.Request) error {
	if len(req.Body.(ir.Contract).Rules()) == 0 {
		return pipeline.Malformed("contract request has no rules")
	}
	return nil
}

func requireTargets(_ context.Context, req *pipeline.Request) error {
	for _, r := range req.Body.(ir.Contract).Rules() {
		if r.Target == "" {
			return pipeline.Malformed("rule without target")
		}
	}
	return nil
}

func (h *Handlers) negotiate(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	agreement, err := h.negotiator.Negotiate(ctx, req.Body.(ir.Contract), req.Header.IssuerConnector)
	if err != nil {
		return nil, negotiationRejection(err)
	}
	payload, err := h.codec.Encode(agreement)
	if err != nil {
		return nil, pipeline.Internal(err, "encode agreement")
	}
	return &pipeline.Reply{Type: ir.TypeContractAgreement, Payload: payload}, nil
}

func (h *Handlers) decodeAgreement(_ context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	var agreement ir.Agreement
	if err := h.codec.Decode(req.Payload, &agreement); err != nil {
		return nil, pipeline.Wrap(ir.ReasonMalformedMessage, err, "invalid contract agreement")
	}
	next := *req
	next.Body = agreement
	return &next, nil
}

func requireAgreementID(_ context.Context, req *pipeline.Request) error {
	if req.Body.(ir.Agreement).ID == "" {
		return pipeline.Malformed("contract agreement has no id")
	}
	return nil
}

// requireConsumerIsIssuer only lets the consumer of an agreement confirm it.
func requireConsumerIsIssuer(_ context.Context, req *pipeline.Request) error {
	agreement := req.Body.(ir.Agreement)
	if agreement.Consumer != "" && agreement.Consumer != req.Header.IssuerConnector {
		return pipeline.NotAuthorized("agreement %s belongs to another consumer", agreement.ID)
	}
	return nil
}

func (h *Handlers) confirm(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	if err := h.negotiator.Confirm(ctx, req.Body.(ir.Agreement), req.Header.IssuerConnector); err != nil {
		return nil, negotiationRejection(err)
	}
	return &pipeline.Reply{Type: ir.TypeMessageProcessed}, nil
}
