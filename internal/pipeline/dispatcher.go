package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/connector/internal/ir"
)

// Identity supplies the local connector's outbound header fields.
type Identity interface {
	ConnectorID() string
	CurrentToken() string
}

// TokenVerifier checks the security token of an inbound message.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (Claims, error)
}

// Dispatcher routes inbound messages through the registry.
type Dispatcher struct {
	registry *Registry
	identity Identity
	tokens   TokenVerifier
	ids      ir.IDGenerator
	now      func() time.Time
	validate *validator.Validate
	tracer   trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func WithIDGenerator(ids ir.IDGenerator) DispatcherOption {
	return func(d *Dispatcher) { d.ids = ids }
}

// WithTokenVerifier replaces the default check, which only requires a
// non-empty token.
func WithTokenVerifier(v TokenVerifier) DispatcherOption {
	return func(d *Dispatcher) { d.tokens = v }
}

func NewDispatcher(registry *Registry, identity Identity, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		identity: identity,
		ids:      ir.UUIDv7Generator{},
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("github.com/roach88/connector/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one message and returns the response to send back. It
// never fails: every error, including a panic inside a stage, becomes a
// rejection message correlated to the request.
func (d *Dispatcher) Handle(ctx context.Context, header ir.Header, payload []byte) (resp Response) {
	ctx, span := d.tracer.Start(ctx, "pipeline.Handle "+string(header.Type),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("message.type", string(header.Type)),
			attribute.String("message.id", header.ID),
			attribute.String("message.issuer", header.IssuerConnector),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline stage panicked",
				"type", header.Type,
				"id", header.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = d.reject(header, Internal(fmt.Errorf("panic: %v", r), "internal error"))
		}
		if resp.Rejected() {
			span.SetAttributes(attribute.String("message.rejection_reason", string(resp.Header.RejectionReason)))
			span.SetStatus(codes.Error, string(resp.Header.RejectionReason))
		}
	}()

	route, ok := d.registry.Lookup(header.Type)
	if !ok {
		return d.reject(header, Reject(ir.ReasonMessageTypeNotSupported, "message type %q not supported", header.Type))
	}

	req := &Request{Header: header, Payload: payload}
	if err := d.checkHeader(ctx, req); err != nil {
		return d.reject(header, err)
	}

	reply, err := run(ctx, route, req)
	if err != nil {
		return d.reject(header, err)
	}
	if reply == nil {
		return d.reject(header, Internal(errors.New("processor returned no reply"), "internal error"))
	}

	slog.Debug("message processed", "type", header.Type, "id", header.ID, "reply", reply.Type)
	return Response{Header: d.responseHeader(header, reply.Type), Payload: reply.Payload}
}

// checkHeader applies the checks every message type shares.
func (d *Dispatcher) checkHeader(ctx context.Context, req *Request) error {
	if err := d.validate.Struct(req.Header); err != nil {
		return Wrap(ir.ReasonMalformedMessage, err, "invalid message header")
	}
	if !ir.IsSupportedModelVersion(req.Header.ModelVersion) {
		return Reject(ir.ReasonVersionNotSupported, "model version %q not supported", req.Header.ModelVersion)
	}
	if req.Header.SecurityToken == "" {
		return Reject(ir.ReasonNotAuthenticated, "missing security token")
	}
	if d.tokens != nil {
		claims, err := d.tokens.VerifyToken(ctx, req.Header.SecurityToken)
		if err != nil {
			return Wrap(ir.ReasonNotAuthenticated, err, "invalid security token")
		}
		req.Claims = claims
	}
	return nil
}

func (d *Dispatcher) responseHeader(request ir.Header, t ir.MessageType) ir.Header {
	h := ir.Header{
		Type:               t,
		ID:                 ir.URN(d.ids),
		IssuerConnector:    d.identity.ConnectorID(),
		SenderAgent:        d.identity.ConnectorID(),
		ModelVersion:       ir.ModelVersion,
		Issued:             d.now().UTC(),
		SecurityToken:      d.identity.CurrentToken(),
		CorrelationMessage: request.ID,
	}
	if request.IssuerConnector != "" {
		h.RecipientConnector = []string{request.IssuerConnector}
	}
	return h
}

func (d *Dispatcher) reject(request ir.Header, err error) Response {
	reason := ReasonOf(err)
	message := err.Error()
	var pe *Error
	if errors.As(err, &pe) {
		message = pe.Message
	}

	if reason == ir.ReasonInternalRecipientError {
		slog.Error("message rejected", "type", request.Type, "id", request.ID, "reason", reason, "error", err)
	} else {
		slog.Info("message rejected", "type", request.Type, "id", request.ID, "reason", reason, "error", err)
	}

	t := ir.TypeRejection
	var ce *ContractRejection
	if errors.As(err, &ce) {
		t = ir.TypeContractRejection
	}
	h := d.responseHeader(request, t)
	h.RejectionReason = reason
	return Response{Header: h, Payload: []byte(message)}
}

// ContractRejection marks an error that must be answered with a contract
// rejection message instead of a generic rejection.
type ContractRejection struct {
	Err *Error
}

func (e *ContractRejection) Error() string { return e.Err.Error() }

func (e *ContractRejection) Unwrap() error { return e.Err }

// RejectContract returns a contract rejection with the given reason.
func RejectContract(reason ir.RejectionReason, format string, args ...any) *ContractRejection {
	return &ContractRejection{Err: Reject(reason, format, args...)}
}
