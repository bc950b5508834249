// Package pipeline runs inbound messages through per-type stage lists.
//
// Each message type has a Route: header validators, an optional
// transformer that decodes the payload, body validators and a processor.
// Stages run strictly in that order. The first failing stage ends the run
// and the Dispatcher answers with a rejection message instead; a
// well-formed request always gets a protocol response.
package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/connector/internal/ir"
)

// Claims are what the security token proved about the sender.
type Claims struct {
	SecurityProfile string
}

// Request is the state passed between stages of one message.
type Request struct {
	Header  ir.Header
	Payload []byte
	// Body is the decoded payload, set by the route's transformer.
	Body   any
	Claims Claims
}

// Reply is what a processor produces. The dispatcher wraps it in a
// response header.
type Reply struct {
	Type    ir.MessageType
	Payload []byte
}

// Response is a complete outbound message.
type Response struct {
	Header  ir.Header
	Payload []byte
}

// Rejected reports whether the response is a rejection message.
func (r Response) Rejected() bool {
	return r.Header.Type == ir.TypeRejection || r.Header.Type == ir.TypeContractRejection
}

type (
	Validator   func(ctx context.Context, req *Request) error
	Transformer func(ctx context.Context, req *Request) (*Request, error)
	Processor   func(ctx context.Context, req *Request) (*Reply, error)
)

// Route is the stage list for one message type.
type Route struct {
	Type             ir.MessageType
	HeaderValidators []Validator
	Transformer      Transformer
	BodyValidators   []Validator
	Processor        Processor
}

// Registry maps message types to routes. It is built once and read-only
// afterwards.
type Registry struct {
	routes map[ir.MessageType]Route
}

// NewRegistry builds a registry. Duplicate types and routes without a
// processor are errors.
func NewRegistry(routes ...Route) (*Registry, error) {
	r := &Registry{routes: make(map[ir.MessageType]Route, len(routes))}
	for _, route := range routes {
		if route.Type == "" {
			return nil, fmt.Errorf("route without message type")
		}
		if route.Processor == nil {
			return nil, fmt.Errorf("route %s has no processor", route.Type)
		}
		if _, dup := r.routes[route.Type]; dup {
			return nil, fmt.Errorf("duplicate route for %s", route.Type)
		}
		r.routes[route.Type] = route
	}
	return r, nil
}

func (r *Registry) Lookup(t ir.MessageType) (Route, bool) {
	route, ok := r.routes[t]
	return route, ok
}

// Types returns the registered message types in sorted order.
func (r *Registry) Types() []ir.MessageType {
	types := make([]ir.MessageType, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func run(ctx context.Context, route Route, req *Request) (*Reply, error) {
	for _, v := range route.HeaderValidators {
		if err := v(ctx, req); err != nil {
			return nil, err
		}
	}
	if route.Transformer != nil {
		next, err := route.Transformer(ctx, req)
		if err != nil {
			return nil, err
		}
		req = next
	}
	for _, v := range route.BodyValidators {
		if err := v(ctx, req); err != nil {
			return nil, err
		}
	}
	return route.Processor(ctx, req)
}
