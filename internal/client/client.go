// Package client sends protocol messages to remote connectors.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/wire"
)

// maxResponseBytes bounds how much of a peer response is read.
const maxResponseBytes = 64 << 20

// DataPath is the path connectors accept protocol messages on.
const DataPath = "/api/ids/data"

// Endpoint returns the message endpoint of the connector identified by
// connectorID.
func Endpoint(connectorID string) string {
	return strings.TrimSuffix(connectorID, "/") + DataPath
}

// Identity supplies the outbound header fields of this connector.
type Identity interface {
	ConnectorID() string
	CurrentToken() string
}

// RejectionError is returned when the peer answered with a rejection.
type RejectionError struct {
	Type    ir.MessageType
	Reason  ir.RejectionReason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("peer rejected message (%s): %s", e.Reason, e.Message)
}

// IsRejection reports whether err is a peer rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Client posts envelopes to peer endpoints.
type Client struct {
	http     *http.Client
	identity Identity
	codec    wire.Codec
	ids      ir.IDGenerator
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithIDGenerator(ids ir.IDGenerator) Option {
	return func(c *Client) { c.ids = ids }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a client. A nil httpClient gets a 10 second timeout.
func New(httpClient *http.Client, identity Identity, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{
		http:     httpClient,
		identity: identity,
		codec:    wire.NewJSON(),
		ids:      ir.UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHeader returns a header of type t issued by this connector to recipient.
func (c *Client) NewHeader(t ir.MessageType, recipient string) ir.Header {
	h := ir.Header{
		Type:            t,
		ID:              ir.URN(c.ids),
		IssuerConnector: c.identity.ConnectorID(),
		SenderAgent:     c.identity.ConnectorID(),
		ModelVersion:    ir.ModelVersion,
		Issued:          c.now().UTC(),
		SecurityToken:   c.identity.CurrentToken(),
	}
	if recipient != "" {
		h.RecipientConnector = []string{recipient}
	}
	return h
}

// Send posts one message to endpoint and returns the peer's response.
// Rejections come back as *RejectionError.
func (c *Client) Send(ctx context.Context, endpoint string, h ir.Header, payload []byte) (ir.Envelope, error) {
	body, err := wire.EncodeEnvelope(h, payload)
	if err != nil {
		return ir.Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ir.Envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ir.Envelope{}, fmt.Errorf("send %s to %s: %w", h.Type, endpoint, err)
	}
	defer resp.Body.Close()

	env, err := wire.DecodeEnvelope(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ir.Envelope{}, fmt.Errorf("send %s to %s: status %d: %w", h.Type, endpoint, resp.StatusCode, err)
	}
	if env.Header.CorrelationMessage != h.ID {
		return ir.Envelope{}, fmt.Errorf("send %s to %s: response correlates to %q, want %q", h.Type, endpoint, env.Header.CorrelationMessage, h.ID)
	}
	switch env.Header.Type {
	case ir.TypeRejection, ir.TypeContractRejection:
		return env, &RejectionError{Type: env.Header.Type, Reason: env.Header.RejectionReason, Message: env.Payload}
	}
	return env, nil
}

func (c *Client) expect(env ir.Envelope, t ir.MessageType) error {
	if env.Header.Type != t {
		return fmt.Errorf("unexpected response type %s, want %s", env.Header.Type, t)
	}
	return nil
}

// RequestDescription asks the peer for an element's description, or for its
// self-description when element is empty.
func (c *Client) RequestDescription(ctx context.Context, endpoint, recipient, element string) ([]byte, error) {
	h := c.NewHeader(ir.TypeDescriptionRequest, recipient)
	h.RequestedElement = element
	env, err := c.Send(ctx, endpoint, h, nil)
	if err != nil {
		return nil, err
	}
	if err := c.expect(env, ir.TypeDescriptionResponse); err != nil {
		return nil, err
	}
	return []byte(env.Payload), nil
}

// RequestContract sends a contract request and returns the agreement the
// provider issued.
func (c *Client) RequestContract(ctx context.Context, endpoint, recipient string, request ir.Contract) (ir.Agreement, error) {
	payload, err := c.codec.Encode(request)
	if err != nil {
		return ir.Agreement{}, err
	}
	h := c.NewHeader(ir.TypeContractRequest, recipient)
	if targets := request.Targets(); len(targets) > 0 {
		h.RequestedElement = targets[0]
	}
	env, err := c.Send(ctx, endpoint, h, payload)
	if err != nil {
		return ir.Agreement{}, err
	}
	if err := c.expect(env, ir.TypeContractAgreement); err != nil {
		return ir.Agreement{}, err
	}
	var agreement ir.Agreement
	if err := c.codec.Decode([]byte(env.Payload), &agreement); err != nil {
		return ir.Agreement{}, err
	}
	return agreement, nil
}

// ConfirmAgreement sends an agreement back to its provider for confirmation.
func (c *Client) ConfirmAgreement(ctx context.Context, endpoint, recipient string, agreement ir.Agreement) error {
	payload, err := c.codec.Encode(agreement)
	if err != nil {
		return err
	}
	env, err := c.Send(ctx, endpoint, c.NewHeader(ir.TypeContractAgreement, recipient), payload)
	if err != nil {
		return err
	}
	return c.expect(env, ir.TypeMessageProcessed)
}

// RequestArtifact fetches artifact data under a transfer contract.
func (c *Client) RequestArtifact(ctx context.Context, endpoint, recipient, artifact, transferContract string) ([]byte, error) {
	h := c.NewHeader(ir.TypeArtifactRequest, recipient)
	h.RequestedArtifact = artifact
	h.TransferContract = transferContract
	env, err := c.Send(ctx, endpoint, h, nil)
	if err != nil {
		return nil, err
	}
	if err := c.expect(env, ir.TypeArtifactResponse); err != nil {
		return nil, err
	}
	return wire.DecodeData([]byte(env.Payload))
}

// SendResourceUpdate announces a changed resource to a subscriber.
func (c *Client) SendResourceUpdate(ctx context.Context, endpoint, recipient string, resource ir.RemoteResource) error {
	payload, err := c.codec.Encode(resource)
	if err != nil {
		return err
	}
	h := c.NewHeader(ir.TypeResourceUpdate, recipient)
	h.AffectedResource = resource.ID
	env, err := c.Send(ctx, endpoint, h, payload)
	if err != nil {
		return err
	}
	return c.expect(env, ir.TypeMessageProcessed)
}

// Subscribe registers sub with the peer. A nil sub removes the caller's
// subscription for target.
func (c *Client) Subscribe(ctx context.Context, endpoint, recipient, target string, sub *ir.Subscription) error {
	var payload []byte
	if sub != nil {
		var err error
		if payload, err = c.codec.Encode(sub); err != nil {
			return err
		}
	}
	h := c.NewHeader(ir.TypeSubscription, recipient)
	h.AffectedResource = target
	env, err := c.Send(ctx, endpoint, h, payload)
	if err != nil {
		return err
	}
	return c.expect(env, ir.TypeMessageProcessed)
}
