// Package schema validates inbound client messages against a JSON Schema.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voice-relay-service/internal/models"
)

// InboundSchema describes one utterance message. Unknown properties are
// allowed so older and newer browser clients can share the endpoint.
const InboundSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "audio":          {"type": ["string", "null"]},
    "temperature":    {"type": "number", "minimum": 0},
    "context_length": {"type": "integer", "minimum": -2147483648, "maximum": 2147483647},
    "instructions":   {"type": ["string", "null"]}
  }
}`

// Validator checks raw inbound messages.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles InboundSchema.
func New() (*Validator, error) {
	return NewWithSchema(InboundSchema)
}

// NewWithSchema compiles a custom schema document.
func NewWithSchema(doc string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("inbound.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("inbound.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// MustNew is like New but panics on error. The built-in schema is static,
// so failure is a programming error.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// inboundWire mirrors models.InboundMessage but keeps context_length as a
// number literal: the schema accepts integral floats such as 10.0, which
// encoding/json refuses to put in an int.
type inboundWire struct {
	Audio         *string      `json:"audio"`
	Temperature   *float64     `json:"temperature"`
	ContextLength *json.Number `json:"context_length"`
	Instructions  *string      `json:"instructions"`
}

// Decode validates raw and decodes it. Failures wrap
// models.ErrMalformedInboundMessage.
func (v *Validator) Decode(raw []byte) (models.InboundMessage, error) {
	var msg models.InboundMessage

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return msg, fmt.Errorf("%w: %v", models.ErrMalformedInboundMessage, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return msg, fmt.Errorf("%w: %v", models.ErrMalformedInboundMessage, err)
	}
	var wire inboundWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return msg, fmt.Errorf("%w: %v", models.ErrMalformedInboundMessage, err)
	}
	msg.Audio = wire.Audio
	msg.Temperature = wire.Temperature
	msg.Instructions = wire.Instructions
	if wire.ContextLength != nil {
		n, err := integer(*wire.ContextLength)
		if err != nil {
			return models.InboundMessage{}, fmt.Errorf("%w: context_length: %v", models.ErrMalformedInboundMessage, err)
		}
		msg.ContextLength = &n
	}
	return msg, nil
}

// integer converts a JSON number with no fractional part, in either
// integer or float notation, to an int.
func integer(n json.Number) (int, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 32); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%s is not a 32-bit integer", n)
	}
	return int(f), nil
}
