package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// decideRequestSchema is the boundary contract for POST /v1/decide. The
// verifier re-checks everything semantically; the schema exists so garbage
// is rejected with a field-level message before it reaches the kernel.
const decideRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent", "executionPayload", "acceptance"],
  "properties": {
    "contractVersion": {"type": "string"},
    "intent": {
      "type": "object",
      "required": ["actorId", "actionName"],
      "properties": {
        "actorId": {"type": "string", "minLength": 1},
        "actionName": {"type": "string", "minLength": 1},
        "context": {"type": "object"}
      }
    },
    "executionPayload": {},
    "acceptance": {
      "type": "object",
      "required": ["issuer", "actorId", "intentRef", "issuedAt", "expiresAt", "algorithm", "signature"],
      "properties": {
        "issuer": {"type": "string", "minLength": 1},
        "actorId": {"type": "string", "minLength": 1},
        "intentRef": {"type": "string", "minLength": 1},
        "issuedAt": {"type": "string"},
        "expiresAt": {"type": "string"},
        "authorityKeyId": {"type": "string"},
        "algorithm": {"type": "string", "enum": ["ed25519", "hmac-sha256"]},
        "signature": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// evaluateRequestSchema guards POST /v1/evaluate.
const evaluateRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["intent"],
  "properties": {
    "intent": {
      "type": "object",
      "required": ["actorId", "actionName"],
      "properties": {
        "actorId": {"type": "string", "minLength": 1},
        "actionName": {"type": "string", "minLength": 1},
        "context": {"type": "object"}
      }
    }
  }
}`

func compileSchema(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://arbiter.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("api: schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("api: schema %s: %v", name, err))
	}
	return compiled
}

var (
	decideSchema   = compileSchema("decide-request", decideRequestSchema)
	evaluateSchema = compileSchema("evaluate-request", evaluateRequestSchema)
)

// validateBody checks raw JSON against a schema and returns a message fit
// for a 400 detail.
func validateBody(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}
