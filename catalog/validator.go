package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates event data against JSON Schema documents.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // keyed by schema JSON content
	seq   int
}

// NewValidator creates a new schema validator.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks data against schema. Both may be any JSON-marshalable
// value. A nil schema skips validation.
func (v *Validator) Validate(schema, data any) error {
	if schema == nil {
		return nil
	}
	rawSchema, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	rawData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	return v.ValidateJSON(rawSchema, rawData)
}

// ValidateJSON checks raw JSON data against a raw JSON schema.
func (v *Validator) ValidateJSON(schema, data json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("schema compilation error: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return compiled.Validate(inst)
}

// compile returns a compiled schema, using the cache for previously-seen schemas.
func (v *Validator) compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, schema); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}
	key := compacted.String()

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(compacted.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	v.seq++
	url := fmt.Sprintf("herald://schema/%d.json", v.seq)

	c := jsonschema.NewCompiler()
	if addErr := c.AddResource(url, doc); addErr != nil {
		return nil, fmt.Errorf("add schema resource: %w", addErr)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}
