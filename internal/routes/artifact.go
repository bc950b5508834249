package routes

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/store"
	"github.com/roach88/connector/internal/wire"
)

// artifactRequest is the decoded body of an artifact request.
type artifactRequest struct {
	Agreement ir.Agreement
	Query     map[string]string
}

func requireArtifact(_ context.Context, req *pipeline.Request) error {
	if req.Header.RequestedArtifact == "" {
		return pipeline.BadParameters("missing requested artifact")
	}
	return nil
}

func requireTransferContract(_ context.Context, req *pipeline.Request) error {
	if req.Header.TransferContract == "" {
		return pipeline.BadParameters("missing transfer contract")
	}
	return nil
}

// resolveTransfer loads the transfer contract and decodes the optional
// query parameters carried in the payload.
func (h *Handlers) resolveTransfer(ctx context.Context, req *pipeline.Request) (*pipeline.Request, error) {
	agreement, err := h.store.GetAgreement(ctx, req.Header.TransferContract)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pipeline.NotFound("transfer contract %s not found", req.Header.TransferContract)
	}
	if err != nil {
		return nil, pipeline.Internal(err, "load transfer contract")
	}

	body := &artifactRequest{Agreement: agreement}
	if strings.TrimSpace(string(req.Payload)) != "" {
		if err := h.codec.Decode(req.Payload, &body.Query); err != nil {
			return nil, pipeline.Wrap(ir.ReasonMalformedMessage, err, "invalid query parameters")
		}
	}

	next := *req
	next.Body = body
	return &next, nil
}

// checkTransferContract requires the agreement to be confirmed, current,
// issued to the requester and to cover the artifact.
func (h *Handlers) checkTransferContract(ctx context.Context, req *pipeline.Request) error {
	body := req.Body.(*artifactRequest)
	agreement := body.Agreement
	artifact := req.Header.RequestedArtifact

	if agreement.Consumer != "" && agreement.Consumer != req.Header.IssuerConnector {
		return pipeline.NotAuthorized("transfer contract %s was not issued to %s", agreement.ID, req.Header.IssuerConnector)
	}
	if !agreement.Confirmed {
		return pipeline.NotAuthorized("transfer contract %s is not confirmed", agreement.ID)
	}
	if agreement.ContractEnd != nil && h.now().After(*agreement.ContractEnd) {
		return pipeline.NotAuthorized("transfer contract %s expired", agreement.ID)
	}
	covers, err := h.store.AgreementCovers(ctx, agreement.ID, artifact)
	if err != nil {
		return pipeline.Internal(err, "check transfer contract")
	}
	if !covers {
		return pipeline.NotAuthorized("transfer contract %s does not cover %s", agreement.ID, artifact)
	}
	return nil
}

// releaseArtifact enforces the usage policy and returns the data. The
// policy check counts as an access, so it runs here and not in a validator.
func (h *Handlers) releaseArtifact(ctx context.Context, req *pipeline.Request) (*pipeline.Reply, error) {
	body := req.Body.(*artifactRequest)
	artifact := req.Header.RequestedArtifact

	decision := h.verifier.Verify(ctx, policy.VerifyInput{
		ArtifactID:      artifact,
		Issuer:          req.Header.IssuerConnector,
		SecurityProfile: req.Claims.SecurityProfile,
		Agreement:       body.Agreement,
	})
	for _, w := range decision.Warnings {
		slog.Warn("usage policy warning", "artifact", artifact, "agreement", body.Agreement.ID, "warning", w)
	}
	if !decision.Granted {
		return nil, pipeline.NotAuthorized("policy restriction detected: %s", decision.Reason)
	}

	if h.data == nil {
		return nil, pipeline.Internal(errors.New("no data source configured"), "artifact data unavailable")
	}
	data, err := h.data.FetchArtifactData(ctx, artifact, body.Query)
	if errors.Is(err, store.ErrNotFound) {
		return nil, pipeline.NotFound("artifact %s not found", artifact)
	}
	if err != nil {
		return nil, pipeline.Internal(err, "read artifact data")
	}

	slog.Info("artifact released",
		"artifact", artifact,
		"issuer", req.Header.IssuerConnector,
		"agreement", body.Agreement.ID,
		"patterns", decision.Patterns)
	return &pipeline.Reply{Type: ir.TypeArtifactResponse, Payload: wire.EncodeData(data)}, nil
}
