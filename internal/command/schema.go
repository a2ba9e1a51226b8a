package command

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// commandSchemaDoc is the canonical command payload schema. It is served
// verbatim at /agent/schema/commands so agents can discover the wire format,
// and the same compiled form gates every incoming command before parsing.
const commandSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://uxplima.github.io/uxrcoder-hub/schemas/command.json",
  "title": "Agent command",
  "type": "object",
  "properties": {
    "op": {
      "enum": ["create", "update", "rename", "delete", "reparent"]
    },
    "id": { "type": "string", "minLength": 1 },
    "path": { "$ref": "#/$defs/path" },
    "parentId": { "type": "string", "minLength": 1 },
    "parentPath": { "$ref": "#/$defs/path" },
    "className": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1, "maxLength": 100 },
    "property": { "type": "string", "minLength": 1 },
    "value": { "$ref": "#/$defs/value" },
    "properties": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/value" }
    }
  },
  "required": ["op"],
  "allOf": [
    {
      "if": { "properties": { "op": { "const": "create" } } },
      "then": {
        "required": ["className", "name"],
        "anyOf": [
          { "required": ["parentId"] },
          { "required": ["parentPath"] }
        ]
      }
    },
    {
      "if": { "properties": { "op": { "const": "update" } } },
      "then": {
        "anyOf": [
          { "required": ["id"] },
          { "required": ["path"] }
        ]
      }
    },
    {
      "if": { "properties": { "op": { "const": "rename" } } },
      "then": {
        "required": ["name"],
        "anyOf": [
          { "required": ["id"] },
          { "required": ["path"] }
        ]
      }
    },
    {
      "if": { "properties": { "op": { "const": "delete" } } },
      "then": {
        "anyOf": [
          { "required": ["id"] },
          { "required": ["path"] }
        ]
      }
    },
    {
      "if": { "properties": { "op": { "const": "reparent" } } },
      "then": {
        "allOf": [
          {
            "anyOf": [
              { "required": ["id"] },
              { "required": ["path"] }
            ]
          },
          {
            "anyOf": [
              { "required": ["parentId"] },
              { "required": ["parentPath"] }
            ]
          }
        ]
      }
    }
  ],
  "$defs": {
    "path": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 },
      "minItems": 1
    },
    "value": {
      "anyOf": [
        { "type": "string" },
        { "type": "number" },
        { "type": "boolean" },
        { "type": "null" },
        {
          "type": "object",
          "required": ["type"],
          "properties": { "type": { "type": "string" } }
        }
      ]
    }
  }
}`

// Schema holds the compiled command schema, its raw document, and the
// document hash agents use for drift detection.
type Schema struct {
	compiled *jsonschema.Schema
	raw      json.RawMessage
	hash     string
}

// CompileSchema compiles the canonical command schema document. The document
// is a build-time constant, so failure to compile is a programming error.
func CompileSchema() (*Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(commandSchemaDoc), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal command schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("command.json", doc); err != nil {
		return nil, fmt.Errorf("add command schema resource: %w", err)
	}
	compiled, err := c.Compile("command.json")
	if err != nil {
		return nil, fmt.Errorf("compile command schema: %w", err)
	}

	sum := sha256.Sum256([]byte(commandSchemaDoc))
	return &Schema{
		compiled: compiled,
		raw:      json.RawMessage(commandSchemaDoc),
		hash:     hex.EncodeToString(sum[:8]),
	}, nil
}

// MustCompileSchema is CompileSchema for wiring paths where the constant
// document is known good.
func MustCompileSchema() *Schema {
	s, err := CompileSchema()
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateCommand checks one decoded command object against the schema.
// Returns a human-readable error naming the violated constraint.
func (s *Schema) ValidateCommand(decoded any) error {
	return s.compiled.Validate(decoded)
}

// Document returns the raw schema document for /agent/schema/commands.
func (s *Schema) Document() json.RawMessage {
	return s.raw
}

// Hash returns a short content hash of the schema document; the capability
// manifest carries it so agents can detect schema drift without refetching.
func (s *Schema) Hash() string {
	return s.hash
}
