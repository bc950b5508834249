package routes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/resourcesync"
	"github.com/roach88/connector/internal/store"
	"github.com/roach88/connector/internal/wire"
)

func TestRegistryCoversAllMessageTypes(t *testing.T) {
	reg, err := New(Deps{}).Registry()
	require.NoError(t, err)
	assert.ElementsMatch(t, []ir.MessageType{
		ir.TypeDescriptionRequest,
		ir.TypeArtifactRequest,
		ir.TypeContractRequest,
		ir.TypeContractAgreement,
		ir.TypeResourceUpdate,
		ir.TypeNotification,
		ir.TypeSubscription,
	}, reg.Types())
}

func TestNegotiateConfirmAndConsume(t *testing.T) {
	c := newConnector(t)
	c.seedArtifact(t, artifactA, "payload-a")
	c.seedOffer(t, offer("urn:offer:a", consumer, countRule(artifactA, "2")))

	agreement := c.negotiate(t, countRule(artifactA, "2"))
	assert.Equal(t, consumer, agreement.Consumer)
	assert.Equal(t, provider, agreement.Provider)
	require.Len(t, agreement.Permissions, 1)
	maxAccess, err := policy.MaxAccess(agreement.Permissions[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), maxAccess)

	stored, err := c.store.GetAgreement(context.Background(), agreement.ID)
	require.NoError(t, err)
	assert.False(t, stored.Confirmed)

	resp := c.requestArtifact(t, artifactA, agreement.ID)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason, "unconfirmed agreement")

	resp = c.send(t, c.header(ir.TypeContractAgreement), agreement)
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type, "payload: %s", resp.Payload)

	for i := 0; i < 2; i++ {
		resp := c.requestArtifact(t, artifactA, agreement.ID)
		require.Equal(t, ir.TypeArtifactResponse, resp.Header.Type, "request %d: %s", i+1, resp.Payload)
		data, err := wire.DecodeData(resp.Payload)
		require.NoError(t, err)
		assert.Equal(t, "payload-a", string(data))
	}

	resp = c.requestArtifact(t, artifactA, agreement.ID)
	assert.Equal(t, ir.TypeRejection, resp.Header.Type)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)
	assert.Contains(t, string(resp.Payload), "policy restriction")
}

func TestContractRequestIsAllOrNothing(t *testing.T) {
	c := newConnector(t)
	c.seedOffer(t, offer("urn:offer:a", "", countRule(artifactA, "2")))

	resp := c.send(t, c.header(ir.TypeContractRequest), contractRequest(countRule(artifactA, "2"), countRule(artifactB, "2")))
	assert.Equal(t, ir.TypeContractRejection, resp.Header.Type)
	assert.Equal(t, ir.ReasonNotFound, resp.Header.RejectionReason)
	assert.Contains(t, string(resp.Payload), artifactB)

	records, err := c.store.ListAgreements(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestContractRequestRejections(t *testing.T) {
	c := newConnector(t)
	c.seedOffer(t, offer("urn:offer:a", "", countRule(artifactA, "2")))
	c.seedOffer(t, offer("urn:offer:b", "https://other.example", countRule(artifactB, "2")))

	untargeted := countRule("", "2")

	tests := []struct {
		name   string
		body   any
		typ    ir.MessageType
		reason ir.RejectionReason
	}{
		{"empty payload", nil, ir.TypeRejection, ir.ReasonMalformedMessage},
		{"not json", []byte("{"), ir.TypeRejection, ir.ReasonMalformedMessage},
		{"no rules", contractRequest(), ir.TypeRejection, ir.ReasonMalformedMessage},
		{"rule without target", contractRequest(untargeted), ir.TypeRejection, ir.ReasonMalformedMessage},
		{"rule mismatch", contractRequest(countRule(artifactA, "3")), ir.TypeContractRejection, ir.ReasonBadParameters},
		{"offer for another consumer", contractRequest(countRule(artifactB, "2")), ir.TypeContractRejection, ir.ReasonNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.send(t, c.header(ir.TypeContractRequest), tt.body)
			assert.Equal(t, tt.typ, resp.Header.Type)
			assert.Equal(t, tt.reason, resp.Header.RejectionReason)
		})
	}
}

func TestContractAgreementConfirmation(t *testing.T) {
	c := newConnector(t)
	c.seedOffer(t, offer("urn:offer:a", "", countRule(artifactA, "2")))
	agreement := c.negotiate(t, countRule(artifactA, "2"))

	changed := agreement
	changed.Permissions = []ir.Rule{countRule(artifactA, "5")}
	resp := c.send(t, c.header(ir.TypeContractAgreement), changed)
	assert.Equal(t, ir.ReasonBadParameters, resp.Header.RejectionReason)

	unknown := agreement
	unknown.ID = "urn:uuid:never-issued"
	resp = c.send(t, c.header(ir.TypeContractAgreement), unknown)
	assert.Equal(t, ir.ReasonNotFound, resp.Header.RejectionReason)

	foreign := agreement
	foreign.Consumer = "https://other.example"
	resp = c.send(t, c.header(ir.TypeContractAgreement), foreign)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)

	forged := c.header(ir.TypeContractAgreement)
	forged.IssuerConnector = "https://other.example"
	forged.SenderAgent = "https://other.example"
	resp = c.send(t, forged, foreign)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)
	assert.Contains(t, string(resp.Payload), "another consumer")

	stored, err := c.store.GetAgreement(context.Background(), agreement.ID)
	require.NoError(t, err)
	assert.False(t, stored.Confirmed)

	resp = c.send(t, c.header(ir.TypeContractAgreement), agreement)
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type)
	stored, err = c.store.GetAgreement(context.Background(), agreement.ID)
	require.NoError(t, err)
	assert.True(t, stored.Confirmed)
}

func TestArtifactRequestTransferContract(t *testing.T) {
	c := newConnector(t)
	c.seedArtifact(t, artifactA, "payload-a")
	c.seedArtifact(t, artifactB, "payload-b")
	c.seedOffer(t, offer("urn:offer:a", "", ir.Rule{Kind: ir.KindPermission, Target: artifactA, Action: ir.ActionUse}))
	agreement := c.agree(t, ir.Rule{Kind: ir.KindPermission, Target: artifactA, Action: ir.ActionUse})

	tests := []struct {
		name     string
		artifact string
		contract string
		issuer   string
		reason   ir.RejectionReason
	}{
		{"missing artifact", "", agreement.ID, consumer, ir.ReasonBadParameters},
		{"missing contract", artifactA, "", consumer, ir.ReasonBadParameters},
		{"unknown contract", artifactA, "urn:uuid:unknown", consumer, ir.ReasonNotFound},
		{"artifact not covered", artifactB, agreement.ID, consumer, ir.ReasonNotAuthorized},
		{"other issuer", artifactA, agreement.ID, "https://other.example", ir.ReasonNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := c.header(ir.TypeArtifactRequest)
			h.RequestedArtifact = tt.artifact
			h.TransferContract = tt.contract
			h.IssuerConnector = tt.issuer
			resp := c.send(t, h, nil)
			assert.Equal(t, ir.TypeRejection, resp.Header.Type)
			assert.Equal(t, tt.reason, resp.Header.RejectionReason, "payload: %s", resp.Payload)
		})
	}

	resp := c.requestArtifact(t, artifactA, agreement.ID)
	require.Equal(t, ir.TypeArtifactResponse, resp.Header.Type, "payload: %s", resp.Payload)
	assert.Equal(t, []string{consumer}, resp.Header.RecipientConnector)
}

func TestArtifactRequestExpiredContract(t *testing.T) {
	c := newConnector(t)
	c.seedArtifact(t, artifactA, "payload-a")
	rule := ir.Rule{Kind: ir.KindPermission, Target: artifactA, Action: ir.ActionUse}

	end := testNow.Add(-time.Hour)
	agreement := ir.Agreement{
		Contract: ir.Contract{
			ID:          "urn:uuid:expired",
			Kind:        ir.KindAgreement,
			Consumer:    consumer,
			Provider:    provider,
			ContractEnd: &end,
			Permissions: []ir.Rule{rule},
		},
		Confirmed: true,
	}
	require.NoError(t, c.store.SaveAgreement(context.Background(), agreement, []string{artifactA}))

	resp := c.requestArtifact(t, artifactA, agreement.ID)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)
	assert.Contains(t, string(resp.Payload), "expired")
}

func TestArtifactRequestDurationRunsOut(t *testing.T) {
	c := newConnector(t)
	c.seedArtifact(t, artifactA, "payload-a")
	rule := ir.Rule{
		Kind:   ir.KindPermission,
		Target: artifactA,
		Action: ir.ActionUse,
		Constraints: []ir.Constraint{{
			LeftOperand:  ir.OperandElapsedTime,
			Operator:     ir.OpShorterEq,
			RightOperand: ir.Literal{Value: "PT1H", Type: ir.XSDDuration},
		}},
	}
	c.seedOffer(t, offer("urn:offer:duration", "", rule))
	agreement := c.agree(t, rule)

	resp := c.requestArtifact(t, artifactA, agreement.ID)
	require.Equal(t, ir.TypeArtifactResponse, resp.Header.Type, "payload: %s", resp.Payload)

	c.clock.Advance(30 * time.Minute)
	resp = c.requestArtifact(t, artifactA, agreement.ID)
	require.Equal(t, ir.TypeArtifactResponse, resp.Header.Type, "payload: %s", resp.Payload)

	c.clock.Advance(31 * time.Minute)
	resp = c.requestArtifact(t, artifactA, agreement.ID)
	assert.Equal(t, ir.TypeRejection, resp.Header.Type)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)
	assert.Contains(t, string(resp.Payload), "policy restriction detected")
}

func TestArtifactRequestProhibited(t *testing.T) {
	c := newConnector(t)
	c.seedArtifact(t, artifactA, "payload-a")
	prohibition := ir.Rule{Kind: ir.KindProhibition, Target: artifactA, Action: ir.ActionUse}
	c.seedOffer(t, ir.Contract{ID: "urn:offer:p", Kind: ir.KindOffer, Prohibitions: []ir.Rule{prohibition}})

	resp := c.send(t, c.header(ir.TypeContractRequest), ir.Contract{
		ID:           "urn:uuid:request",
		Kind:         ir.KindRequest,
		Prohibitions: []ir.Rule{prohibition},
	})
	require.Equal(t, ir.TypeContractAgreement, resp.Header.Type, "payload: %s", resp.Payload)
	var agreement ir.Agreement
	require.NoError(t, json.Unmarshal(resp.Payload, &agreement))
	require.Equal(t, ir.TypeMessageProcessed, c.send(t, c.header(ir.TypeContractAgreement), agreement).Header.Type)

	resp = c.requestArtifact(t, artifactA, agreement.ID)
	assert.Equal(t, ir.ReasonNotAuthorized, resp.Header.RejectionReason)
}

func TestResourceUpdateRequiresMatchingID(t *testing.T) {
	c := newConnector(t)

	bodies := []ir.RemoteResource{
		{ID: "https://provider.example/api/resources/2"},
		{ID: ""},
		{ID: resource1 + "/"},
		{ID: "https://other.example/api/resources/1", Title: []ir.Text{{Value: "title"}}},
	}
	for _, body := range bodies {
		h := c.header(ir.TypeResourceUpdate)
		h.AffectedResource = resource1
		resp := c.send(t, h, body)
		assert.Equal(t, ir.ReasonBadParameters, resp.Header.RejectionReason, "body id %q", body.ID)
	}
	assert.Empty(t, c.updater.calls)

	resp := c.send(t, c.header(ir.TypeResourceUpdate), ir.RemoteResource{ID: resource1})
	assert.Equal(t, ir.ReasonMalformedMessage, resp.Header.RejectionReason, "missing affected resource")

	h := c.header(ir.TypeResourceUpdate)
	h.AffectedResource = resource1
	resp = c.send(t, h, []byte("not json"))
	assert.Equal(t, ir.ReasonMalformedMessage, resp.Header.RejectionReason)
	assert.Empty(t, c.updater.calls)

	h = c.header(ir.TypeResourceUpdate)
	h.AffectedResource = resource1
	resp = c.send(t, h, ir.RemoteResource{ID: resource1, Version: "2"})
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type, "payload: %s", resp.Payload)
	require.Len(t, c.updater.calls, 1)
	assert.Equal(t, "2", c.updater.calls[0].Version)

	var report resourcesync.Report
	require.NoError(t, json.Unmarshal(resp.Payload, &report))
	assert.Equal(t, []string{"urn:local:1"}, report.Resources)
}

func TestDescriptionRequest(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()
	require.NoError(t, c.store.SaveResource(ctx, ir.Resource{
		ID:   resource1,
		Kind: ir.ResourceOffered,
		Metadata: ir.ResourceMetadata{
			Title: "weather",
			Representations: map[string]ir.Representation{
				"rep": {ID: "rep", MediaType: "text/csv", Artifacts: []string{artifactA}},
			},
		},
	}))
	require.NoError(t, c.store.SaveResource(ctx, ir.Resource{ID: "urn:local:copy", Kind: ir.ResourceRequested, OriginID: "https://x.example/r"}))
	c.seedOffer(t, offer("urn:offer:a", "", countRule(artifactA, "2")))

	resp := c.send(t, c.header(ir.TypeDescriptionRequest), nil)
	require.Equal(t, ir.TypeDescriptionResponse, resp.Header.Type, "payload: %s", resp.Payload)
	var self SelfDescription
	require.NoError(t, json.Unmarshal(resp.Payload, &self))
	assert.Equal(t, provider, self.ID)
	assert.Equal(t, "test provider", self.Title)
	assert.Equal(t, provider+"/api/ids/data", self.Endpoint)
	require.Len(t, self.Catalog, 1)
	assert.Equal(t, resource1, self.Catalog[0].ID)

	h := c.header(ir.TypeDescriptionRequest)
	h.RequestedElement = resource1
	resp = c.send(t, h, nil)
	require.Equal(t, ir.TypeDescriptionResponse, resp.Header.Type, "payload: %s", resp.Payload)
	var remote ir.RemoteResource
	require.NoError(t, json.Unmarshal(resp.Payload, &remote))
	assert.Equal(t, "weather", remote.Title[0].Value)
	require.Len(t, remote.ContractOffers, 1)
	assert.Equal(t, "urn:offer:a", remote.ContractOffers[0].ID)

	for _, element := range []string{"urn:local:copy", "https://provider.example/api/resources/404"} {
		h := c.header(ir.TypeDescriptionRequest)
		h.RequestedElement = element
		assert.Equal(t, ir.ReasonNotFound, c.send(t, h, nil).Header.RejectionReason, element)
	}
}

func TestSubscription(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()
	require.NoError(t, c.store.SaveResource(ctx, ir.Resource{ID: resource1, Kind: ir.ResourceOffered}))

	sub := ir.Subscription{Target: resource1, Location: consumer + "/api/ids/data", Subscriber: consumer}

	h := c.header(ir.TypeSubscription)
	h.AffectedResource = resource1
	resp := c.send(t, h, sub)
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type, "payload: %s", resp.Payload)

	subs, err := c.store.SubscriptionsFor(ctx, resource1)
	require.NoError(t, err)
	assert.Equal(t, []store.Subscription{{Target: resource1, Subscriber: consumer, URL: consumer + "/api/ids/data"}}, subs)

	other := sub
	other.Subscriber = "https://other.example"
	h = c.header(ir.TypeSubscription)
	h.AffectedResource = resource1
	assert.Equal(t, ir.ReasonNotAuthorized, c.send(t, h, other).Header.RejectionReason)

	missing := sub
	missing.Target = "https://provider.example/api/resources/404"
	h = c.header(ir.TypeSubscription)
	h.AffectedResource = missing.Target
	assert.Equal(t, ir.ReasonNotFound, c.send(t, h, missing).Header.RejectionReason)

	h = c.header(ir.TypeSubscription)
	h.AffectedResource = resource1
	assert.Equal(t, ir.ReasonBadParameters, c.send(t, h, missing).Header.RejectionReason)

	invalid := sub
	invalid.Location = "not a url"
	h = c.header(ir.TypeSubscription)
	h.AffectedResource = resource1
	assert.Equal(t, ir.ReasonMalformedMessage, c.send(t, h, invalid).Header.RejectionReason)

	h = c.header(ir.TypeSubscription)
	h.AffectedResource = resource1
	resp = c.send(t, h, nil)
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type)
	subs, err = c.store.SubscriptionsFor(ctx, resource1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestNotification(t *testing.T) {
	c := newConnector(t)
	h := c.header(ir.TypeNotification)
	resp := c.send(t, h, nil)
	assert.Equal(t, ir.TypeMessageProcessed, resp.Header.Type)
	assert.Equal(t, h.ID, resp.Header.CorrelationMessage)
	assert.Equal(t, provider, resp.Header.IssuerConnector)
}
