// Package wire encodes and decodes message payloads and envelopes.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/connector/internal/ir"
)

// ErrEmptyPayload is returned when a payload is required but missing.
var ErrEmptyPayload = errors.New("empty payload")

// Codec turns payloads into typed values and back.
type Codec interface {
	Decode(payload []byte, v any) error
	Encode(v any) ([]byte, error)
}

// JSON is the JSON payload codec. Decoded structs are checked against their
// validate tags.
type JSON struct {
	validate *validator.Validate
}

func NewJSON() *JSON {
	return &JSON{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Decode unmarshals payload into v. Unknown fields are rejected, as is
// trailing data after the first value.
func (c *JSON) Decode(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptyPayload
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("decode payload: trailing data")
	}
	if err := c.validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (c *JSON) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// EncodeEnvelope marshals a header and payload into the transport envelope.
func EncodeEnvelope(h ir.Header, payload []byte) ([]byte, error) {
	b, err := json.Marshal(ir.Envelope{Header: h, Payload: string(payload)})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope reads one envelope from r.
func DecodeEnvelope(r io.Reader) (ir.Envelope, error) {
	var env ir.Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return ir.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// EncodeData encodes artifact data for an artifact response payload.
func EncodeData(data []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(out, data)
	return out
}

// DecodeData reverses EncodeData.
func DecodeData(payload []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode artifact data: %w", err)
	}
	return out[:n], nil
}
