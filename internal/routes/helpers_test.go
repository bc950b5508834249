package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/connector/internal/config"
	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/negotiation"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/policy"
	"github.com/roach88/connector/internal/resourcesync"
	"github.com/roach88/connector/internal/store"
	"github.com/roach88/connector/internal/testutil"
)

const (
	provider  = "https://provider.example"
	consumer  = "https://consumer.example"
	artifactA = "https://provider.example/api/artifacts/a"
	artifactB = "https://provider.example/api/artifacts/b"
	resource1 = "https://provider.example/api/resources/1"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeUpdater struct {
	mu    sync.Mutex
	calls []ir.RemoteResource
}

func (u *fakeUpdater) Update(_ context.Context, _ string, remote ir.RemoteResource) (resourcesync.Report, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, remote)
	return resourcesync.Report{Resources: []string{"urn:local:1"}, Refreshed: []string{}}, nil
}

// connector is a provider wired from real components over a temp store.
type connector struct {
	store      *store.Store
	cfg        *config.Holder
	clock      *testutil.Clock
	updater    *fakeUpdater
	dispatcher *pipeline.Dispatcher
	seq        int
}

func newConnector(t *testing.T) *connector {
	t.Helper()
	clock := testutil.NewClock(testNow)
	st, err := store.Open(filepath.Join(t.TempDir(), "connector.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.ConnectorID = provider
	cfg.Title = "test provider"
	cfg.Maintainer = "https://maintainer.example"
	cfg.Token = "provider-token"
	holder := config.NewHolder(cfg)

	c := &connector{store: st, cfg: holder, clock: clock, updater: &fakeUpdater{}}
	h := New(Deps{
		Store:      st,
		Negotiator: negotiation.New(st, holder, negotiation.WithClock(clock.Now)),
		Verifier:   policy.NewVerifier(st, policy.WithClock(clock.Now)),
		Updater:    c.updater,
		Describer:  NewCatalog(holder, st, func(id string) string { return id + "/api/ids/data" }),
		Now:        clock.Now,
	})
	reg, err := h.Registry()
	require.NoError(t, err)
	c.dispatcher = pipeline.NewDispatcher(reg, holder,
		pipeline.WithClock(clock.Now),
		pipeline.WithTokenVerifier(holder))
	return c
}

func (c *connector) header(t ir.MessageType) ir.Header {
	c.seq++
	return ir.Header{
		Type:            t,
		ID:              fmt.Sprintf("urn:uuid:request-%d", c.seq),
		IssuerConnector: consumer,
		SenderAgent:     consumer,
		ModelVersion:    ir.ModelVersion,
		Issued:          testNow,
		SecurityToken:   "consumer-token",
	}
}

func (c *connector) send(t *testing.T, h ir.Header, body any) pipeline.Response {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return c.dispatcher.Handle(context.Background(), h, payload)
}

func countRule(target, n string) ir.Rule {
	return ir.Rule{
		Kind:   ir.KindPermission,
		Target: target,
		Action: ir.ActionUse,
		Constraints: []ir.Constraint{{
			LeftOperand:  ir.OperandCount,
			Operator:     ir.OpLTEQ,
			RightOperand: ir.Literal{Value: n, Type: ir.XSDDouble},
		}},
	}
}

func offer(id, offerConsumer string, rules ...ir.Rule) ir.Contract {
	return ir.Contract{
		ID:          id,
		Kind:        ir.KindOffer,
		Consumer:    offerConsumer,
		Provider:    provider,
		Permissions: rules,
	}
}

func contractRequest(rules ...ir.Rule) ir.Contract {
	return ir.Contract{
		ID:           "urn:uuid:contract-request",
		Kind:         ir.KindRequest,
		Consumer:     consumer,
		ContractDate: testNow,
		Permissions:  rules,
	}
}

func (c *connector) seedArtifact(t *testing.T, id, data string) {
	t.Helper()
	require.NoError(t, c.store.SaveArtifact(context.Background(), ir.Artifact{ID: id, ResourceID: resource1, Data: []byte(data)}))
}

func (c *connector) seedOffer(t *testing.T, o ir.Contract) {
	t.Helper()
	require.NoError(t, c.store.SaveOffer(context.Background(), o))
}

// negotiate runs a contract request and returns the agreement the provider
// issued.
func (c *connector) negotiate(t *testing.T, rules ...ir.Rule) ir.Agreement {
	t.Helper()
	resp := c.send(t, c.header(ir.TypeContractRequest), contractRequest(rules...))
	require.Equal(t, ir.TypeContractAgreement, resp.Header.Type, "payload: %s", resp.Payload)
	var agreement ir.Agreement
	require.NoError(t, json.Unmarshal(resp.Payload, &agreement))
	return agreement
}

// agree negotiates and confirms an agreement.
func (c *connector) agree(t *testing.T, rules ...ir.Rule) ir.Agreement {
	t.Helper()
	agreement := c.negotiate(t, rules...)
	resp := c.send(t, c.header(ir.TypeContractAgreement), agreement)
	require.Equal(t, ir.TypeMessageProcessed, resp.Header.Type, "payload: %s", resp.Payload)
	return agreement
}

func (c *connector) requestArtifact(t *testing.T, artifact, agreementID string) pipeline.Response {
	t.Helper()
	h := c.header(ir.TypeArtifactRequest)
	h.RequestedArtifact = artifact
	h.TransferContract = agreementID
	return c.send(t, h, nil)
}
