package validation

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

// Per-kind node configuration schemas (JSON Schema Draft 2020-12).
// Embedded as constants to avoid filesystem dependencies. String fields that
// accept {{ ... }} templates stay loose on format; the resolver checks those
// at dispatch time.

const durationPattern = "^([0-9]+(\\\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

var kindConfigSchemas = map[schema.NodeKind]string{
	schema.NodeKindTrigger: `{
  "type": "object",
  "properties": {
    "event": {"type": "string"}
  },
  "additionalProperties": true
}`,

	schema.NodeKindHTTP: `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"]},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json", "form", "text", "raw"]},
    "follow_redirects": {"type": "boolean"},
    "max_redirects": {"type": "integer", "minimum": 0},
    "tls_skip_verify": {"type": "boolean"},
    "timeout": {"type": "string", "pattern": "` + durationPattern + `"},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer", "basic", "api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "header_name": {"type": "string"},
        "header_value": {"type": "string"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`,

	schema.NodeKindTransform: `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "engine": {"type": "string", "enum": ["expr", "jq", "cel"]},
    "input": {}
  },
  "additionalProperties": false
}`,

	schema.NodeKindCondition: `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["when", "port"],
        "properties": {
          "when": {"type": "string", "minLength": 1},
          "port": {"type": "string", "minLength": 1}
        },
        "additionalProperties": false
      }
    },
    "default_port": {"type": "string"},
    "match_policy": {"type": "string", "enum": ["first", "last"]}
  },
  "additionalProperties": false
}`,

	schema.NodeKindAI: `{
  "type": "object",
  "required": ["prompt"],
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "system": {"type": "string"},
    "model": {"type": "string"},
    "base_url": {"type": "string"},
    "api_key": {"type": "string"},
    "api_key_secret": {"type": "string"},
    "stream": {"type": "boolean"},
    "timeout": {"type": "string", "pattern": "` + durationPattern + `"},
    "temperature": {"type": "number", "minimum": 0},
    "max_tokens": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`,

	schema.NodeKindDelay: `{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": {"type": "string", "pattern": "` + durationPattern + `"}
  },
  "additionalProperties": false
}`,
}

// ConfigValidator validates node configurations against their kind's schema.
type ConfigValidator struct {
	compiled map[schema.NodeKind]*jsonschema.Schema
}

// NewConfigValidator compiles all kind schemas up front.
func NewConfigValidator() (*ConfigValidator, error) {
	v := &ConfigValidator{
		compiled: make(map[schema.NodeKind]*jsonschema.Schema, len(kindConfigSchemas)),
	}
	for kind, raw := range kindConfigSchemas {
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		url := fmt.Sprintf("workfuse://schemas/node/%s.json", kind)
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s config schema: %w", kind, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s config schema: %w", kind, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s config schema: %w", kind, err)
		}
		v.compiled[kind] = compiled
	}
	return v, nil
}

// ValidateConfig checks a node's configuration against its kind's schema.
func (v *ConfigValidator) ValidateConfig(kind schema.NodeKind, config map[string]any) error {
	compiled, ok := v.compiled[kind]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "no config schema for kind %q", kind)
	}

	if config == nil {
		config = map[string]any{}
	}
	doc, err := toJSONValue(config)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize config").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "config does not match %s schema: %s", kind, err.Error()).
			WithCause(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
