package resourcesync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

const (
	provider     = "https://provider.example"
	remoteID     = "https://provider.example/api/resources/1"
	remoteRep    = "https://provider.example/api/representations/1"
	remoteArtA   = "https://provider.example/api/artifacts/a"
	remoteArtB   = "https://provider.example/api/artifacts/b"
	agreementID  = "urn:uuid:agreement-1"
	localRes     = "urn:local:resource-1"
	providerData = "/api/ids/data"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	data  map[string][]byte
	fail  map[string]error
	block map[string]bool
}

func (f *fakeFetcher) RequestArtifact(ctx context.Context, endpoint, recipient, artifact, transferContract string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, endpoint+" "+recipient+" "+artifact+" "+transferContract)
	blocked := f.block[artifact]
	err := f.fail[artifact]
	data := f.data[artifact]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

type fakeAnnouncer struct {
	sent []string
	got  []ir.RemoteResource
	fail map[string]bool
}

func (a *fakeAnnouncer) SendResourceUpdate(_ context.Context, endpoint, recipient string, resource ir.RemoteResource) error {
	if a.fail[recipient] {
		return errors.New("unreachable")
	}
	a.sent = append(a.sent, endpoint)
	a.got = append(a.got, resource)
	return nil
}

type fakeRetention struct {
	scheduled map[string]string
}

func (r *fakeRetention) ScheduleRetention(_ context.Context, agreement ir.Agreement, target, localID string) (*time.Time, error) {
	if r.scheduled == nil {
		r.scheduled = make(map[string]string)
	}
	r.scheduled[localID] = agreement.ID + " " + target
	return &testNow, nil
}

func endpointOf(id string) string { return id + providerData }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"), store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// seedRequested stores a requested resource with two fetched artifacts.
func seedRequested(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveResource(ctx, ir.Resource{
		ID:               localRes,
		Kind:             ir.ResourceRequested,
		OriginID:         remoteID,
		TransferContract: agreementID,
		Metadata: ir.ResourceMetadata{
			Title:       "old title",
			Description: "kept description",
			Keywords:    []string{"old"},
			Publisher:   "https://publisher.example",
			Representations: map[string]ir.Representation{
				remoteRep: {ID: remoteRep, MediaType: "text/plain", ByteSize: 3, FileName: "a.txt"},
			},
		},
	}))
	require.NoError(t, st.SaveArtifact(ctx, ir.Artifact{ID: "urn:local:a", RemoteID: remoteArtA, ResourceID: localRes, Data: []byte("old-a")}))
	require.NoError(t, st.SaveArtifact(ctx, ir.Artifact{ID: "urn:local:b", RemoteID: remoteArtB, ResourceID: localRes, Data: []byte("old-b")}))
	require.NoError(t, st.SaveAgreement(ctx, ir.Agreement{Contract: ir.Contract{ID: agreementID, Kind: ir.KindAgreement, Provider: provider}}, []string{remoteArtA, remoteArtB}))
}

func remoteResource() ir.RemoteResource {
	return ir.RemoteResource{
		ID:       remoteID,
		Title:    []ir.Text{{Value: "new title", Language: "en"}},
		Keywords: []ir.Text{{Value: "fresh"}, {Value: "data"}, {Value: "fresh"}},
		Version:  "2",
		Representations: []ir.RemoteRepresentation{{
			ID:        remoteRep,
			MediaType: "text/csv",
			Instances: []ir.RemoteArtifact{{ID: remoteArtA, ByteSize: 5}, {ID: remoteArtB}},
		}},
	}
}

func TestMapMetadataKeepsPriorValues(t *testing.T) {
	prior := ir.ResourceMetadata{
		Title:       "old",
		Description: "desc",
		Keywords:    []string{"k"},
		License:     "https://license.example",
		Representations: map[string]ir.Representation{
			"rep-old": {ID: "rep-old", MediaType: "application/json"},
			remoteRep: {ID: remoteRep, MediaType: "text/plain", FileName: "a.txt"},
		},
	}

	md := MapMetadata(prior, remoteResource())
	assert.Equal(t, "new title", md.Title)
	assert.Equal(t, "desc", md.Description)
	assert.Equal(t, []string{"fresh", "data"}, md.Keywords)
	assert.Equal(t, "https://license.example", md.License)
	assert.Equal(t, "2", md.Version)
	assert.Contains(t, md.Representations, "rep-old")

	rep := md.Representations[remoteRep]
	assert.Equal(t, "text/csv", rep.MediaType)
	assert.Equal(t, int64(5), rep.ByteSize)
	assert.Equal(t, "a.txt", rep.FileName)
	assert.Equal(t, []string{remoteArtA, remoteArtB}, rep.Artifacts)

	assert.Equal(t, "text/plain", prior.Representations[remoteRep].MediaType, "prior must not be mutated")
	assert.Equal(t, []string{"k"}, prior.Keywords)
}

func TestMapMetadataEmptyRemote(t *testing.T) {
	prior := ir.ResourceMetadata{Title: "t", Keywords: []string{"a"}, Version: "1"}
	md := MapMetadata(prior, ir.RemoteResource{ID: remoteID})
	assert.Equal(t, "t", md.Title)
	assert.Equal(t, []string{"a"}, md.Keywords)
	assert.Equal(t, "1", md.Version)
	assert.NotNil(t, md.Representations)
}

func TestToRemoteRoundTrip(t *testing.T) {
	local := ir.Resource{ID: "urn:res:1", Metadata: MapMetadata(ir.ResourceMetadata{}, remoteResource())}
	remote := ToRemote(local, nil)
	assert.Equal(t, "urn:res:1", remote.ID)
	assert.Equal(t, "new title", remote.Title[0].Value)
	require.Len(t, remote.Representations, 1)
	assert.Len(t, remote.Representations[0].Instances, 2)

	again := MapMetadata(ir.ResourceMetadata{}, remote)
	assert.Equal(t, local.Metadata.Title, again.Title)
	assert.Equal(t, local.Metadata.Keywords, again.Keywords)
}

func TestUpdateRefreshesArtifacts(t *testing.T) {
	st := newTestStore(t)
	seedRequested(t, st)
	ctx := context.Background()

	fetcher := &fakeFetcher{data: map[string][]byte{remoteArtA: []byte("new-a"), remoteArtB: []byte("new-b")}}
	retention := &fakeRetention{}
	s := New(st, fetcher, endpointOf, WithRetention(retention))

	report, err := s.Update(ctx, provider, remoteResource())
	require.NoError(t, err)
	assert.Equal(t, []string{localRes}, report.Resources)
	assert.ElementsMatch(t, []string{"urn:local:a", "urn:local:b"}, report.Refreshed)
	assert.Empty(t, report.Failed)
	assert.Contains(t, fetcher.calls, provider+providerData+" "+provider+" "+remoteArtA+" "+agreementID)

	a, err := st.GetArtifact(ctx, "urn:local:a")
	require.NoError(t, err)
	assert.Equal(t, "new-a", string(a.Data))

	r, err := st.GetResource(ctx, localRes)
	require.NoError(t, err)
	assert.Equal(t, "new title", r.Metadata.Title)
	assert.Equal(t, "kept description", r.Metadata.Description)
	assert.Equal(t, "https://publisher.example", r.Metadata.Publisher)

	assert.Equal(t, agreementID+" "+remoteArtA, retention.scheduled["urn:local:a"])
}

func TestUpdatePartialFailure(t *testing.T) {
	st := newTestStore(t)
	seedRequested(t, st)
	ctx := context.Background()

	fetcher := &fakeFetcher{
		data: map[string][]byte{remoteArtB: []byte("new-b")},
		fail: map[string]error{remoteArtA: errors.New("peer rejected message (NOT_AUTHORIZED): denied")},
	}
	report, err := New(st, fetcher, endpointOf).Update(ctx, provider, remoteResource())
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:local:b"}, report.Refreshed)
	assert.Contains(t, report.Failed["urn:local:a"], "NOT_AUTHORIZED")

	a, err := st.GetArtifact(ctx, "urn:local:a")
	require.NoError(t, err)
	assert.Equal(t, "old-a", string(a.Data))
}

func TestUpdateStalledPeerTimesOut(t *testing.T) {
	st := newTestStore(t)
	seedRequested(t, st)

	fetcher := &fakeFetcher{
		data:  map[string][]byte{remoteArtB: []byte("new-b")},
		block: map[string]bool{remoteArtA: true},
	}
	s := New(st, fetcher, endpointOf, WithTimeout(20*time.Millisecond))

	start := time.Now()
	report, err := s.Update(context.Background(), provider, remoteResource())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, report.Failed["urn:local:a"], context.DeadlineExceeded.Error())
	assert.Equal(t, []string{"urn:local:b"}, report.Refreshed)
}

func TestUpdateSkipsArtifactsNoLongerOffered(t *testing.T) {
	st := newTestStore(t)
	seedRequested(t, st)

	remote := remoteResource()
	remote.Representations[0].Instances = remote.Representations[0].Instances[:1]
	fetcher := &fakeFetcher{data: map[string][]byte{remoteArtA: []byte("new-a")}}

	report, err := New(st, fetcher, endpointOf).Update(context.Background(), provider, remote)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:local:a"}, report.Refreshed)
	assert.Len(t, fetcher.calls, 1)
}

func TestUpdateFromForeignProvider(t *testing.T) {
	st := newTestStore(t)
	seedRequested(t, st)
	ctx := context.Background()

	fetcher := &fakeFetcher{data: map[string][]byte{remoteArtA: []byte("forged-a"), remoteArtB: []byte("forged-b")}}
	report, err := New(st, fetcher, endpointOf).Update(ctx, "https://other.example", remoteResource())
	require.NoError(t, err)
	assert.Empty(t, report.Resources)
	assert.Empty(t, report.Refreshed)
	assert.Contains(t, report.Failed[localRes], ErrForeignProvider.Error())
	assert.Empty(t, fetcher.calls)

	r, err := st.GetResource(ctx, localRes)
	require.NoError(t, err)
	assert.Equal(t, "old title", r.Metadata.Title)
	a, err := st.GetArtifact(ctx, "urn:local:a")
	require.NoError(t, err)
	assert.Equal(t, "old-a", string(a.Data))
}

func TestUpdateUnknownResource(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{}

	report, err := New(st, fetcher, endpointOf).Update(context.Background(), provider, remoteResource())
	require.NoError(t, err)
	assert.Empty(t, report.Resources)
	assert.Empty(t, fetcher.calls)
}

func TestAnnounce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveResource(ctx, ir.Resource{
		ID:   "https://provider.example/api/resources/9",
		Kind: ir.ResourceOffered,
		Metadata: ir.ResourceMetadata{
			Title: "offered",
			Representations: map[string]ir.Representation{
				"rep": {ID: "rep", Artifacts: []string{remoteArtA}},
			},
		},
	}))
	require.NoError(t, st.SaveOffer(ctx, ir.Contract{
		ID:          "urn:offer:1",
		Kind:        ir.KindOffer,
		Permissions: []ir.Rule{{Kind: ir.KindPermission, Target: remoteArtA, Action: ir.ActionUse}},
	}))
	for _, sub := range []store.Subscription{
		{Target: "https://provider.example/api/resources/9", Subscriber: "https://a.example", URL: "https://a.example/api/ids/data"},
		{Target: "https://provider.example/api/resources/9", Subscriber: "https://b.example", URL: "https://b.example/api/ids/data"},
	} {
		require.NoError(t, st.PutSubscription(ctx, sub))
	}

	announcer := &fakeAnnouncer{fail: map[string]bool{"https://b.example": true}}
	s := New(st, &fakeFetcher{}, endpointOf, WithAnnouncer(announcer))

	n, err := s.Announce(ctx, "https://provider.example/api/resources/9")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://a.example/api/ids/data"}, announcer.sent)
	require.Len(t, announcer.got[0].ContractOffers, 1)
	assert.Equal(t, "urn:offer:1", announcer.got[0].ContractOffers[0].ID)

	_, err = s.Announce(ctx, "urn:missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFetchStoresRequestedCopy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveAgreement(ctx, ir.Agreement{Contract: ir.Contract{ID: agreementID, Kind: ir.KindAgreement}}, []string{remoteArtA, remoteArtB}))

	fetcher := &fakeFetcher{data: map[string][]byte{remoteArtA: []byte("a"), remoteArtB: []byte("b")}}
	retention := &fakeRetention{}
	s := New(st, fetcher, endpointOf,
		WithRetention(retention),
		WithIDGenerator(ir.NewFixedGenerator("res", "art-a", "art-b")))

	local, err := s.Fetch(ctx, provider, remoteResource(), agreementID)
	require.NoError(t, err)
	assert.Equal(t, "urn:uuid:res", local.ID)

	stored, err := st.FindResourcesByOrigin(ctx, remoteID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ir.ResourceRequested, stored[0].Kind)
	assert.Equal(t, agreementID, stored[0].TransferContract)
	assert.Equal(t, "new title", stored[0].Metadata.Title)

	artifacts, err := st.ArtifactsForResource(ctx, local.ID)
	require.NoError(t, err)
	got := map[string]string{}
	for _, a := range artifacts {
		got[a.RemoteID] = a.ID
	}
	assert.Equal(t, map[string]string{remoteArtA: "urn:uuid:art-a", remoteArtB: "urn:uuid:art-b"}, got)
	assert.Len(t, retention.scheduled, 2)
	assert.Equal(t, agreementID+" "+remoteArtA, retention.scheduled["urn:uuid:art-a"])
}

func TestFetchFailureStoresNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fetcher := &fakeFetcher{
		data: map[string][]byte{remoteArtA: []byte("a")},
		fail: map[string]error{remoteArtB: errors.New("denied")},
	}
	s := New(st, fetcher, endpointOf)

	_, err := s.Fetch(ctx, provider, remoteResource(), agreementID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), remoteArtB)

	stored, err := st.FindResourcesByOrigin(ctx, remoteID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = s.Fetch(ctx, provider, remoteResource(), "")
	assert.Error(t, err)
}
