// Package resourcesync applies resource update notifications to the
// locally stored copies of remote resources and refreshes their artifacts.
package resourcesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

// ErrForeignProvider marks an update from a connector other than the one a
// local copy was fetched from.
var ErrForeignProvider = errors.New("update from foreign provider")

// Store is the persistence the syncer reads and writes.
type Store interface {
	GetResource(ctx context.Context, id string) (ir.Resource, error)
	FindResourcesByOrigin(ctx context.Context, originID string) ([]ir.Resource, error)
	UpdateResourceMetadata(ctx context.Context, id string, md ir.ResourceMetadata) error
	ArtifactsForResource(ctx context.Context, resourceID string) ([]ir.Artifact, error)
	UpdateArtifactData(ctx context.Context, id string, data []byte) error
	GetAgreement(ctx context.Context, id string) (ir.Agreement, error)
	OffersByTarget(ctx context.Context, target string) ([]ir.Contract, error)
	SubscriptionsFor(ctx context.Context, target string) ([]store.Subscription, error)
	SaveResourceWithArtifacts(ctx context.Context, r ir.Resource, artifacts []ir.Artifact) error
}

// Fetcher performs the artifact request round trip with a provider.
type Fetcher interface {
	RequestArtifact(ctx context.Context, endpoint, recipient, artifact, transferContract string) ([]byte, error)
}

// Announcer delivers resource updates to subscribers.
type Announcer interface {
	SendResourceUpdate(ctx context.Context, endpoint, recipient string, resource ir.RemoteResource) error
}

// Retention registers deletion dates for fetched copies.
type Retention interface {
	ScheduleRetention(ctx context.Context, agreement ir.Agreement, target, localID string) (*time.Time, error)
}

// Report summarizes one update. Failed maps artifact or resource ids to
// the error that stopped them.
type Report struct {
	Resources []string          `json:"resources"`
	Refreshed []string          `json:"refreshed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (r *Report) fail(id string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[id] = err.Error()
}

// Syncer applies resource updates.
type Syncer struct {
	store     Store
	fetcher   Fetcher
	announcer Announcer
	retention Retention
	endpoint  func(connectorID string) string
	timeout   time.Duration
	ids       ir.IDGenerator
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTimeout bounds each artifact refresh.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) { s.timeout = d }
}

// WithRetention schedules deletion of refreshed copies whose agreement
// demands it.
func WithRetention(r Retention) Option {
	return func(s *Syncer) { s.retention = r }
}

// WithIDGenerator sets the generator for local resource and artifact ids.
func WithIDGenerator(ids ir.IDGenerator) Option {
	return func(s *Syncer) { s.ids = ids }
}

// WithAnnouncer notifies subscribers of updated resources.
func WithAnnouncer(a Announcer) Option {
	return func(s *Syncer) { s.announcer = a }
}

// New returns a syncer. endpoint maps a connector id to the URL its
// messages are posted to.
func New(st Store, fetcher Fetcher, endpoint func(string) string, opts ...Option) *Syncer {
	s := &Syncer{
		store:    st,
		fetcher:  fetcher,
		endpoint: endpoint,
		timeout:  10 * time.Second,
		ids:      ir.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update applies remote, announced by provider, to every local resource
// derived from it. Failing artifacts are reported and skipped; only a
// failure to find the local resources is returned as an error.
func (s *Syncer) Update(ctx context.Context, provider string, remote ir.RemoteResource) (Report, error) {
	report := Report{Resources: []string{}, Refreshed: []string{}}

	locals, err := s.store.FindResourcesByOrigin(ctx, remote.ID)
	if err != nil {
		return report, fmt.Errorf("find resources derived from %s: %w", remote.ID, err)
	}
	if len(locals) == 0 {
		slog.Info("resource update for unknown resource", "remote", remote.ID, "provider", provider)
		return report, nil
	}

	offered := RemoteArtifactIDs(remote)
	for _, local := range locals {
		agreement, err := s.transferContract(ctx, local, provider)
		if err != nil {
			slog.Warn("resource update refused", "resource", local.ID, "provider", provider, "error", err)
			report.fail(local.ID, err)
			continue
		}

		md := MapMetadata(local.Metadata, remote)
		if err := s.store.UpdateResourceMetadata(ctx, local.ID, md); err != nil {
			slog.Warn("resource metadata update failed", "resource", local.ID, "error", err)
			report.fail(local.ID, err)
			continue
		}
		report.Resources = append(report.Resources, local.ID)
		local.Metadata = md

		s.refreshArtifacts(ctx, provider, local, agreement, offered, &report)
		s.announce(ctx, local)
	}

	slog.Info("resource updated",
		"remote", remote.ID,
		"resources", len(report.Resources),
		"refreshed", len(report.Refreshed),
		"failed", len(report.Failed))
	return report, nil
}

// transferContract loads the agreement local was fetched under and checks
// that provider issued it.
func (s *Syncer) transferContract(ctx context.Context, local ir.Resource, provider string) (ir.Agreement, error) {
	if local.TransferContract == "" {
		return ir.Agreement{}, errors.New("resource has no transfer contract")
	}
	agreement, err := s.store.GetAgreement(ctx, local.TransferContract)
	if err != nil {
		return ir.Agreement{}, fmt.Errorf("load transfer contract: %w", err)
	}
	if agreement.Provider != provider {
		return ir.Agreement{}, fmt.Errorf("%w: %s was fetched from %q", ErrForeignProvider, local.ID, agreement.Provider)
	}
	return agreement, nil
}

func (s *Syncer) refreshArtifacts(ctx context.Context, provider string, local ir.Resource, agreement ir.Agreement, offered map[string]bool, report *Report) {
	artifacts, err := s.store.ArtifactsForResource(ctx, local.ID)
	if err != nil {
		report.fail(local.ID, err)
		return
	}

	for _, a := range artifacts {
		if a.RemoteID == "" || !offered[a.RemoteID] {
			continue
		}
		if err := s.refreshArtifact(ctx, provider, local.TransferContract, a); err != nil {
			slog.Warn("artifact refresh failed", "artifact", a.ID, "remote", a.RemoteID, "error", err)
			report.fail(a.ID, err)
			continue
		}
		report.Refreshed = append(report.Refreshed, a.ID)

		if s.retention != nil {
			if _, err := s.retention.ScheduleRetention(ctx, agreement, a.RemoteID, a.ID); err != nil {
				slog.Warn("retention scheduling failed", "artifact", a.ID, "error", err)
			}
		}
	}
}

func (s *Syncer) refreshArtifact(ctx context.Context, provider, transferContract string, a ir.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.fetcher.RequestArtifact(ctx, s.endpoint(provider), provider, a.RemoteID, transferContract)
	if err != nil {
		return err
	}
	return s.store.UpdateArtifactData(ctx, a.ID, data)
}

// Announce sends the current description of a local resource to all of
// its subscribers. It returns the number of subscribers reached.
func (s *Syncer) Announce(ctx context.Context, resourceID string) (int, error) {
	r, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	return s.announce(ctx, r), nil
}

func (s *Syncer) announce(ctx context.Context, r ir.Resource) int {
	if s.announcer == nil {
		return 0
	}
	subs, err := s.store.SubscriptionsFor(ctx, r.ID)
	if err != nil {
		slog.Warn("subscriber lookup failed", "resource", r.ID, "error", err)
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	remote := Describe(ctx, s.store, r)

	reached := 0
	for _, sub := range subs {
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.announcer.SendResourceUpdate(sendCtx, sub.URL, sub.Subscriber, remote)
		cancel()
		if err != nil {
			slog.Warn("subscriber notification failed", "resource", r.ID, "subscriber", sub.Subscriber, "error", err)
			continue
		}
		reached++
	}
	return reached
}

// OfferSource looks up the contract offers on a target.
type OfferSource interface {
	OffersByTarget(ctx context.Context, target string) ([]ir.Contract, error)
}

// Describe renders r in the wire description format together with every
// offer on one of its artifacts. Offers that cannot be loaded are left out.
func Describe(ctx context.Context, offers OfferSource, r ir.Resource) ir.RemoteResource {
	var found []ir.Contract
	seen := make(map[string]bool)
	for _, id := range slices.Sorted(maps.Keys(r.Metadata.Representations)) {
		for _, artifact := range r.Metadata.Representations[id].Artifacts {
			list, err := offers.OffersByTarget(ctx, artifact)
			if err != nil {
				slog.Warn("offer lookup failed", "artifact", artifact, "error", err)
				continue
			}
			for _, o := range list {
				if seen[o.ID] {
					continue
				}
				seen[o.ID] = true
				found = append(found, o)
			}
		}
	}
	return ToRemote(r, found)
}
