// Package schema implements the Schema sum type (SPEC_FULL.md §3) and its
// translation to standard JSON Schema draft-07 with strict-mode
// compatibility (every object property forced required,
// additionalProperties forced false). Grounded on the teacher's
// internal/llm/openai.go hand-built parsedDocumentSchema map, which
// enforced the same two constraints ad hoc for a single fixed schema;
// here the construction is generalized to an arbitrary simplified schema
// tree and compiled once per work queue via
// github.com/santhosh-tekuri/jsonschema/v6.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind tags which representation a Schema carries.
type Kind int

const (
	KindInternal Kind = iota
	KindExternalFile
	KindInlineJSON
)

// Node is the simplified internal schema tree. Only the subset of JSON
// Schema needed to describe chat-completion response shapes is modeled.
type Node struct {
	Type        string           `json:"type"`
	Description string           `json:"description,omitempty"`
	Properties  map[string]*Node `json:"properties,omitempty"`
	Items       *Node            `json:"items,omitempty"`
	Enum        []string         `json:"enum,omitempty"`
}

// Schema is the sum type { Internal | ExternalFile | InlineJson }.
type Schema struct {
	Kind         Kind
	Internal     *Node
	ExternalFile string
	Inline       json.RawMessage
}

// Internal constructs a Schema backed by a simplified tree.
func Internal(root *Node) Schema { return Schema{Kind: KindInternal, Internal: root} }

// ExternalFile constructs a Schema backed by a JSON Schema file on disk.
func ExternalFile(path string) Schema { return Schema{Kind: KindExternalFile, ExternalFile: path} }

// InlineJSON constructs a Schema from an already-serialized JSON Schema
// document.
func InlineJSON(raw json.RawMessage) Schema { return Schema{Kind: KindInlineJSON, Inline: raw} }

// JSONSchema resolves the Schema to a standard JSON Schema draft-07
// document as a generic map, suitable for sending to a driver's wire
// format.
func (s Schema) JSONSchema() (map[string]any, error) {
	switch s.Kind {
	case KindInternal:
		return toJSONSchema(s.Internal), nil
	case KindExternalFile:
		raw, err := os.ReadFile(s.ExternalFile)
		if err != nil {
			return nil, fmt.Errorf("schema: reading external schema file %s: %w", s.ExternalFile, err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("schema: parsing external schema file %s: %w", s.ExternalFile, err)
		}
		return m, nil
	case KindInlineJSON:
		var m map[string]any
		if err := json.Unmarshal(s.Inline, &m); err != nil {
			return nil, fmt.Errorf("schema: parsing inline schema: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("schema: unknown kind %d", s.Kind)
	}
}

// toJSONSchema recursively builds a draft-07-compatible map, forcing
// every object's properties into `required` and setting
// `additionalProperties: false`, per §3's strict-mode requirement.
func toJSONSchema(n *Node) map[string]any {
	if n == nil {
		return map[string]any{}
	}
	out := map[string]any{"type": n.Type}
	if n.Description != "" {
		out["description"] = n.Description
	}
	if len(n.Enum) > 0 {
		enum := make([]any, len(n.Enum))
		for i, v := range n.Enum {
			enum[i] = v
		}
		out["enum"] = enum
	}
	switch n.Type {
	case "object":
		props := map[string]any{}
		required := make([]string, 0, len(n.Properties))
		for name, child := range n.Properties {
			props[name] = toJSONSchema(child)
			required = append(required, name)
		}
		out["properties"] = props
		out["required"] = required
		out["additionalProperties"] = false
	case "array":
		out["items"] = toJSONSchema(n.Items)
	}
	return out
}

// Compiled is a Schema resolved and compiled once, ready for repeated
// response validation.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile resolves s to JSON Schema and compiles it with draft-07
// semantics via santhosh-tekuri/jsonschema/v6.
func Compile(s Schema) (*Compiled, error) {
	doc, err := s.JSONSchema()
	if err != nil {
		return nil, err
	}
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"

	c := jsonschema.NewCompiler()
	const resourceURL = "prompt-scaler://inline-schema.json"
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("schema: adding compiled resource: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compiling: %w", err)
	}
	return &Compiled{schema: compiled}, nil
}

// Validate checks raw JSON against the compiled schema.
func (c *Compiled) Validate(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("schema: response is not valid JSON: %w", err)
	}
	return c.schema.Validate(v)
}
