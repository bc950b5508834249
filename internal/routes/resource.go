package routes

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/store"
)

func requireAffectedResource(_ context.Context, req *pipeline.Request) error {
	if req.Header.AffectedResource == "" {
		return pipeline.Malformed("missing affected resource")
	}
	return nil
}

func (h *Handlers) decodeResource(_ context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	var remote ir.RemoteResource
	if err := h.codec.Decode(req.Payload, &remote); err != nil {
		return nil, pipeline.Wrap(ir.ReasonMalformedMessage, err, "invalid resource")
	}
	next := *req
	next.Body = remote
	return &next, nil
}

func affectedResourceMatchesBody(_ context.Context, req *pipeline.Request) error {
	remote := req.Body.(ir.RemoteResource)
	if remote.ID != req.Header.AffectedResource {
		return pipeline.BadParameters("affected resource %s does not match resource id %s", req.Header.AffectedResource, remote.ID)
	}
	return nil
}

func (h *Handlers) update(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	report, err := h.updater.Update(ctx, req.Header.IssuerConnector, req.Body.(ir.RemoteResource))
	if err != nil {
		return nil, pipeline.Internal(err, "resource update failed")
	}
	payload, err := h.codec.Encode(report)
	if err != nil {
		return nil, pipeline.Internal(err, "encode update report")
	}
	return &pipeline.Reply{Type: ir.TypeMessageProcessed, Payload: payload}, nil
}

// decodeSubscription leaves Body as a nil *ir.Subscription when the
// message carries no payload, which asks for removal.
func (h *Handlers) decodeSubscription(_ context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	next := *req
	next.Body = (*ir.Subscription)(nil)
	if strings.TrimSpace(string(req.Payload)) == "" {
		return &next, nil
	}
	var sub ir.Subscription
	if err := h.codec.Decode(req.Payload, &sub); err != nil {
		return nil, pipeline.Wrap(ir.ReasonMalformedMessage, err, "invalid subscription")
	}
	next.Body = &sub
	return &next, nil
}

func subscriptionMatchesHeader(_ context.Context, req *pipeline.Request) error {
	sub := req.Body.(*ir.Subscription)
	if sub == nil {
		return nil
	}
	if sub.Target != req.Header.AffectedResource {
		return pipeline.BadParameters("subscription target %s does not match affected resource %s", sub.Target, req.Header.AffectedResource)
	}
	if sub.Subscriber != req.Header.IssuerConnector {
		return pipeline.NotAuthorized("cannot subscribe on behalf of %s", sub.Subscriber)
	}
	return nil
}

func (h *Handlers) subscribe(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	target := req.Header.AffectedResource
	issuer := req.Header.IssuerConnector

	sub := req.Body.(*ir.Subscription)
	if sub == nil {
		if err := h.store.RemoveSubscription(ctx, target, issuer); err != nil {
			return nil, pipeline.Internal(err, "remove subscription")
		}
		slog.Info("subscription removed", "target", target, "subscriber", issuer)
		return &pipeline.Reply{Type: ir.TypeMessageProcessed}, nil
	}

	if _, err := h.store.GetResource(ctx, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pipeline.NotFound("resource %s not found", target)
		}
		return nil, pipeline.Internal(err, "load resource")
	}
	err := h.store.PutSubscription(ctx, store.Subscription{
		Target:     sub.Target,
		Subscriber: sub.Subscriber,
		URL:        sub.Location,
	})
	if err != nil {
		return nil, pipeline.Internal(err, "save subscription")
	}
	slog.Info("subscription saved", "target", target, "subscriber", issuer, "location", sub.Location)
	return &pipeline.Reply{Type: ir.TypeMessageProcessed}, nil
}
