package resourcesync

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/connector/internal/ir"
)

// Fetch stores a local copy of remote, downloading every artifact it
// offers under transferContract. Nothing is stored unless all downloads
// succeed.
func (s *Syncer) Fetch(ctx context.Context, provider string, remote ir.RemoteResource, transferContract string) (ir.Resource, error) {
	if transferContract == "" {
		return ir.Resource{}, fmt.Errorf("fetch %s: no transfer contract", remote.ID)
	}

	local := ir.Resource{
		ID:               ir.URN(s.ids),
		Kind:             ir.ResourceRequested,
		OriginID:         remote.ID,
		TransferContract: transferContract,
		Metadata:         MapMetadata(ir.ResourceMetadata{}, remote),
	}

	var artifacts []ir.Artifact
	for _, remoteID := range slices.Sorted(maps.Keys(RemoteArtifactIDs(remote))) {
		fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
		data, err := s.fetcher.RequestArtifact(fetchCtx, s.endpoint(provider), provider, remoteID, transferContract)
		cancel()
		if err != nil {
			return ir.Resource{}, fmt.Errorf("fetch artifact %s: %w", remoteID, err)
		}
		artifacts = append(artifacts, ir.Artifact{
			ID:         ir.URN(s.ids),
			RemoteID:   remoteID,
			ResourceID: local.ID,
			Data:       data,
		})
	}

	if err := s.store.SaveResourceWithArtifacts(ctx, local, artifacts); err != nil {
		return ir.Resource{}, err
	}

	if s.retention != nil {
		agreement, err := s.store.GetAgreement(ctx, transferContract)
		if err != nil {
			slog.Warn("transfer contract not found", "resource", local.ID, "agreement", transferContract, "error", err)
		} else {
			for _, a := range artifacts {
				if _, err := s.retention.ScheduleRetention(ctx, agreement, a.RemoteID, a.ID); err != nil {
					slog.Warn("retention scheduling failed", "artifact", a.ID, "error", err)
				}
			}
		}
	}

	slog.Info("resource fetched", "remote", remote.ID, "local", local.ID, "artifacts", len(artifacts))
	return local, nil
}
