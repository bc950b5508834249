package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/connector/internal/config"
	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/resourcesync"
	"github.com/roach88/connector/internal/store"
)

func (h *Handlers) describe(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	element := req.Header.RequestedElement
	if element == "" {
		if h.describer == nil {
			return nil, pipeline.NotFound("no self-description available")
		}
		payload, err := h.describer.SelfDescription(ctx)
		if err != nil {
			return nil, pipeline.Internal(err, "self-description failed")
		}
		return &pipeline.Reply{Type: ir.TypeDescriptionResponse, Payload: payload}, nil
	}

	r, err := h.store.GetResource(ctx, element)
	if errors.Is(err, store.ErrNotFound) || (err == nil && r.Kind != ir.ResourceOffered) {
		return nil, pipeline.NotFound("element %s not found", element)
	}
	if err != nil {
		return nil, pipeline.Internal(err, "load element")
	}

	payload, err := h.codec.Encode(resourcesync.Describe(ctx, h.store, r))
	if err != nil {
		return nil, pipeline.Internal(err, "encode description")
	}
	return &pipeline.Reply{Type: ir.TypeDescriptionResponse, Payload: payload}, nil
}

// SelfDescription is the connector description returned for description
// requests without a requested element.
type SelfDescription struct {
	ID                   string              `json:"@id"`
	Type                 string              `json:"@type"`
	Title                string              `json:"title,omitempty"`
	Maintainer           string              `json:"maintainer,omitempty"`
	Version              string              `json:"version"`
	OutboundModelVersion string              `json:"outboundModelVersion"`
	InboundModelVersions []string            `json:"inboundModelVersion"`
	Endpoint             string              `json:"hasDefaultEndpoint,omitempty"`
	Catalog              []ir.RemoteResource `json:"resourceCatalog"`
}

// Catalog describes this connector and the resources it offers.
type Catalog struct {
	cfg      *config.Holder
	store    Store
	endpoint func(string) string
}

// NewCatalog returns a self-describer. endpoint maps the connector id to
// the advertised message endpoint and may be nil.
func NewCatalog(cfg *config.Holder, st Store, endpoint func(string) string) *Catalog {
	return &Catalog{cfg: cfg, store: st, endpoint: endpoint}
}

func (c *Catalog) SelfDescription(ctx context.Context) ([]byte, error) {
	resources, err := c.store.ListResources(ctx, ir.ResourceOffered)
	if err != nil {
		return nil, fmt.Errorf("list offered resources: %w", err)
	}

	cfg := c.cfg.Current()
	desc := SelfDescription{
		ID:                   cfg.ConnectorID,
		Type:                 "ids:BaseConnector",
		Title:                cfg.Title,
		Maintainer:           cfg.Maintainer,
		Version:              ir.ConnectorVersion,
		OutboundModelVersion: ir.ModelVersion,
		InboundModelVersions: ir.SupportedModelVersions,
		Catalog:              make([]ir.RemoteResource, 0, len(resources)),
	}
	if c.endpoint != nil {
		desc.Endpoint = c.endpoint(cfg.ConnectorID)
	}
	for _, r := range resources {
		desc.Catalog = append(desc.Catalog, resourcesync.Describe(ctx, c.store, r))
	}
	return json.Marshal(desc)
}
