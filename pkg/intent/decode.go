package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/crypto"
)

const schemaURL = "https://blossom.schemas.local/intent.schema.json"

// intentSchema is the wire shape of a JSON intent submission.
const intentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["id", "actor", "amount", "expiry", "signature"],
  "properties": {
    "id":        {"type": "string", "minLength": 1, "maxLength": 128},
    "actor":     {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "recipient": {"type": "string", "pattern": "^([0-9a-f]{64})?$"},
    "amount":    {"type": "integer", "minimum": 1, "maximum": 18446744073709551615},
    "expiry":    {"type": "integer", "minimum": 0, "maximum": 9223372036854775807},
    "memo":      {"type": "string", "maxLength": 256},
    "signature": {"type": "string", "minLength": 1}
  }
}`

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(intentSchema)); err != nil {
			compileErr = fmt.Errorf("intent schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Decode parses a submission. JSON objects are checked against the intent schema; anything else
// is treated as a compact EdDSA JWS. Wire-level failures are ValidationErrors.
func Decode(raw []byte) (contracts.Intent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return contracts.Intent{}, contracts.ValidationError("empty submission")
	}
	if trimmed[0] != '{' {
		i, err := crypto.DecodeIntentJWS(string(trimmed))
		if err != nil {
			return contracts.Intent{}, contracts.ValidationError("%v", err)
		}
		return i, nil
	}
	return DecodeJSON(trimmed)
}

// DecodeJSON validates raw against the intent schema and decodes it.
func DecodeJSON(raw []byte) (contracts.Intent, error) {
	s, err := schema()
	if err != nil {
		return contracts.Intent{}, err
	}
	var doc any
	docDec := json.NewDecoder(bytes.NewReader(raw))
	docDec.UseNumber()
	if err := docDec.Decode(&doc); err != nil {
		return contracts.Intent{}, contracts.ValidationError("malformed json: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		return contracts.Intent{}, contracts.ValidationError("schema validation failed: %v", err)
	}

	var i contracts.Intent
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&i); err != nil {
		return contracts.Intent{}, contracts.ValidationError("decode: %v", err)
	}
	return i, nil
}
